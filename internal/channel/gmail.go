package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
)

const gmailUser = "me"

// GmailConfig configures the Gmail mailbox.
type GmailConfig struct {
	Service *gmail.Service
	// From is optional; Gmail fills in the authenticated address.
	From  string
	Texts ReplyTexts
	// Timeout bounds each API call. Default 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Gmail polls the INBOX for unread mail and replies inside the original
// thread. It implements both domain.Inbox and domain.EmailReplier.
type Gmail struct {
	svc     *gmail.Service
	from    string
	texts   ReplyTexts
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewGmail(cfg GmailConfig) *Gmail {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gmail{
		svc:     cfg.Service,
		from:    cfg.From,
		texts:   cfg.Texts,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func (g *Gmail) ListUnread(ctx context.Context, max int64) ([]domain.InboxRef, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.svc.Users.Messages.List(gmailUser).
		LabelIds("INBOX", "UNREAD").
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list unread: %w", err)
	}
	refs := make([]domain.InboxRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, domain.InboxRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return refs, nil
}

func (g *Gmail) FetchRaw(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	m, err := g.svc.Users.Messages.Get(gmailUser, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail get %s: %w", id, err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(m.Raw, "="))
	if err != nil {
		return nil, fmt.Errorf("gmail decode %s: %w", id, err)
	}
	return raw, nil
}

func (g *Gmail) MarkRead(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	_, err := g.svc.Users.Messages.Modify(gmailUser, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail mark read %s: %w", id, err)
	}
	return nil
}

// Reply sends r in the Gmail thread r.ThreadRef.
func (g *Gmail) Reply(ctx context.Context, r domain.EmailReply) error {
	raw, err := BuildReply(g.from, r, g.texts, g.now())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSendFault, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	_, err = g.svc.Users.Messages.Send(gmailUser, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: r.ThreadRef,
	}).Context(ctx).Do()
	if err != nil {
		metrics.SendFailures.Inc()
		return fmt.Errorf("%w: gmail send: %v", domain.ErrSendFault, err)
	}
	g.logger.Info("email reply sent", "to", r.To, "cc", r.Cc, "thread", r.ThreadRef)
	return nil
}

var (
	_ domain.Inbox        = (*Gmail)(nil)
	_ domain.EmailReplier = (*Gmail)(nil)
)
