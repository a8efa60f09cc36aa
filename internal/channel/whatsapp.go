package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
	"docrelay/internal/normalize"
)

// Dispatcher turns an inbound message into the reply to send.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.InboundMessage) domain.RelayResult
}

// --- Graph API sender ---

// WhatsAppSenderConfig configures the WhatsApp Cloud API sender.
type WhatsAppSenderConfig struct {
	APIBase       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
	Client        *http.Client
	Logger        *slog.Logger
}

// WhatsAppSender posts text messages through the Graph API.
type WhatsAppSender struct {
	url         string
	accessToken string
	timeout     time.Duration
	client      *http.Client
	logger      *slog.Logger
}

func NewWhatsAppSender(cfg WhatsAppSenderConfig) *WhatsAppSender {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsAppSender{
		url:         fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.APIBase, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		timeout:     cfg.Timeout,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

type waSendPayload struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             waSendText `json:"text"`
}

type waSendText struct {
	Body string `json:"body"`
}

// Send delivers text to the given phone number. Non-digits are stripped
// from the recipient. Only HTTP 200 and 201 count as delivered.
func (s *WhatsAppSender) Send(ctx context.Context, to, text string) bool {
	if err := s.send(ctx, to, text); err != nil {
		metrics.SendFailures.Inc()
		s.logger.Error("whatsapp send failed", "to", digitsOnly(to), "err", err)
		return false
	}
	s.logger.Info("whatsapp message sent", "to", digitsOnly(to))
	return true
}

func (s *WhatsAppSender) send(ctx context.Context, to, text string) error {
	recipient := digitsOnly(to)
	if recipient == "" {
		return fmt.Errorf("%w: recipient %q has no digits", domain.ErrSendFault, to)
	}

	body, err := json.Marshal(waSendPayload{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             waSendText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSendFault, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: whatsapp API %d: %s", domain.ErrSendFault, resp.StatusCode, respBody)
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// --- Webhook ---

// WhatsAppWebhookConfig configures the inbound webhook.
type WhatsAppWebhookConfig struct {
	Path        string
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checking on POST.
	AppSecret  string
	Dispatcher Dispatcher
	Sender     domain.ChatSender
	Logger     *slog.Logger
}

// WhatsAppWebhook serves the Meta verification handshake and relays
// incoming text messages synchronously within the request.
type WhatsAppWebhook struct {
	path        string
	verifyToken string
	appSecret   string
	dispatcher  Dispatcher
	sender      domain.ChatSender
	logger      *slog.Logger
}

func NewWhatsAppWebhook(cfg WhatsAppWebhookConfig) *WhatsAppWebhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook/whatsapp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsAppWebhook{
		path:        cfg.Path,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		dispatcher:  cfg.Dispatcher,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
	}
}

func (w *WhatsAppWebhook) Path() string { return w.path }

// Register mounts the webhook on mux.
func (w *WhatsAppWebhook) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+w.path, w.handleVerification)
	mux.HandleFunc("POST "+w.path, w.handleIncoming)
}

// handleVerification answers Meta's subscription challenge. The challenge
// is echoed verbatim as text/plain.
func (w *WhatsAppWebhook) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")

	if w.verifyToken != "" && hmac.Equal([]byte(token), []byte(w.verifyToken)) {
		w.logger.Info("whatsapp webhook verified", "mode", q.Get("hub.mode"))
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, q.Get("hub.challenge"))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(rw, "verification failed", http.StatusForbidden)
}

// handleIncoming always answers 200 for payloads it accepts so Meta does
// not redeliver; only a bad signature is rejected.
func (w *WhatsAppWebhook) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.logger.Warn("whatsapp body unreadable", "err", err)
		writeJSON(rw, http.StatusOK, map[string]string{"status": "success", "message": "received"})
		return
	}
	defer r.Body.Close()

	if w.appSecret != "" && !verifySignature(body, w.appSecret, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}

	msg, err := normalize.ParseWhatsApp(body)
	if err != nil {
		metrics.IgnoredMessages.Inc()
		level := slog.LevelInfo
		if errors.Is(err, domain.ErrMalformedPayload) {
			level = slog.LevelWarn
		}
		w.logger.Log(r.Context(), level, "whatsapp event ignored", "reason", err)
		writeJSON(rw, http.StatusOK, map[string]string{"status": "success", "message": "received"})
		return
	}

	w.logger.Info("whatsapp message received",
		"from", msg.SenderID,
		"correlation_id", msg.CorrelationID,
		"text_len", len(msg.Body),
	)

	// Meta may drop the connection before we answer; the reply still goes out.
	ctx := context.WithoutCancel(r.Context())
	result := w.dispatcher.Dispatch(ctx, msg)
	if !w.sender.Send(ctx, msg.SenderID, result.ResponseText) {
		w.logger.Error("whatsapp reply not delivered", "correlation_id", msg.CorrelationID)
	}

	writeJSON(rw, http.StatusOK, map[string]string{"status": "success"})
}

// verifySignature checks an X-Hub-Signature-256 value ("sha256=<hex>").
func verifySignature(body []byte, secret, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(hexSig))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

var _ domain.ChatSender = (*WhatsAppSender)(nil)
