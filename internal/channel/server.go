package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docrelay/internal/domain"
)

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Host string
	Port int
	// SendToken enables POST /send-message for callers presenting it as a
	// bearer token. Empty disables the endpoint.
	SendToken       string
	Webhook         *WhatsAppWebhook
	Sender          domain.ChatSender
	Health          domain.HealthChecker
	MetricsPath     string
	MetricsHandler  http.Handler
	DefaultSendText string
	Logger          *slog.Logger
}

// Server hosts the WhatsApp webhook plus the status, health, metrics and
// operator send endpoints.
type Server struct {
	addr        string
	sendToken   string
	webhookPath string
	sender      domain.ChatSender
	health      domain.HealthChecker
	defaultText string
	logger      *slog.Logger
	mux         *http.ServeMux
	started     time.Time
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Port == 0 {
		cfg.Port = 10000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultSendText == "" {
		cfg.DefaultSendText = "Mensaje de prueba"
	}
	s := &Server{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		sendToken:   cfg.SendToken,
		sender:      cfg.Sender,
		health:      cfg.Health,
		defaultText: cfg.DefaultSendText,
		logger:      cfg.Logger,
		mux:         http.NewServeMux(),
		started:     time.Now(),
	}

	if cfg.Webhook != nil {
		cfg.Webhook.Register(s.mux)
		s.webhookPath = cfg.Webhook.Path()
	}
	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, cfg.MetricsHandler)
	}
	if s.sendToken != "" && s.sender != nil {
		s.mux.HandleFunc("POST /send-message", s.handleSendMessage)
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Webhook requests wait for the provider and the reply.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr, "webhook", s.webhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"message":     "docrelay is running",
		"status":      "active",
		"webhook_url": s.webhookPath,
		"uptime_s":    int64(time.Since(s.started).Seconds()),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"method":    r.Method,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.health != nil && r.URL.Query().Get("deep") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := s.health.Healthy(ctx); err != nil {
			resp["status"] = "degraded"
			resp["provider"] = err.Error()
			writeJSON(rw, http.StatusServiceUnavailable, resp)
			return
		}
		resp["provider"] = "ok"
	}
	writeJSON(rw, http.StatusOK, resp)
}

type sendMessageRequest struct {
	Number  string `json:"numero"`
	Message string `json:"mensaje"`
}

func (s *Server) handleSendMessage(rw http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.sendToken)) != 1 {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "JSON body required"})
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "numero is required"})
		return
	}
	if req.Message == "" {
		req.Message = s.defaultText
	}

	s.logger.Info("operator send", "to", req.Number)
	if !s.sender.Send(r.Context(), req.Number, req.Message) {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"status": "error", "message": "send failed"})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "success", "message": "sent", "numero": req.Number})
}
