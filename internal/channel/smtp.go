package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
)

// SMTPConfig configures the SMTP reply transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is "implicit", "starttls" or "none". Empty picks implicit on port
	// 465 and starttls elsewhere.
	TLS   string
	From  string
	Texts ReplyTexts
	// Timeout bounds each SMTP command and the DATA phase.
	Timeout time.Duration
	Logger  *slog.Logger
}

// SMTPReplier sends replies through a submission server.
type SMTPReplier struct {
	addr     string
	host     string
	tlsMode  string
	username string
	password string
	from     string
	texts    ReplyTexts
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSMTPReplier(cfg SMTPConfig) *SMTPReplier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TLS == "" {
		cfg.TLS = "starttls"
		if cfg.Port == 465 {
			cfg.TLS = "implicit"
		}
	}
	return &SMTPReplier{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		tlsMode:  cfg.TLS,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		texts:    cfg.Texts,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

func (s *SMTPReplier) Reply(ctx context.Context, r domain.EmailReply) error {
	if err := s.reply(ctx, r); err != nil {
		metrics.SendFailures.Inc()
		return fmt.Errorf("%w: %v", domain.ErrSendFault, err)
	}
	s.logger.Info("email reply sent", "to", r.To, "cc", r.Cc, "via", s.addr)
	return nil
}

func (s *SMTPReplier) reply(ctx context.Context, r domain.EmailReply) error {
	raw, err := BuildReply(s.from, r, s.texts, s.now())
	if err != nil {
		return err
	}
	rcpts, err := Recipients(r)
	if err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	sender, err := mail.ParseAddress(s.from)
	if err != nil {
		return fmt.Errorf("sender %q: %w", s.from, err)
	}

	c, err := s.dial()
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	defer c.Close()
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout

	// go-smtp has no context support; abandon the session when ctx ends.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(sender.Address, rcpts, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return c.Quit()
}

func (s *SMTPReplier) dial() (*smtp.Client, error) {
	tc := &tls.Config{ServerName: s.host}
	switch s.tlsMode {
	case "implicit":
		return smtp.DialTLS(s.addr, tc)
	case "none":
		return smtp.Dial(s.addr)
	default:
		return smtp.DialStartTLS(s.addr, tc)
	}
}

var _ domain.EmailReplier = (*SMTPReplier)(nil)
