// Package mailpass runs one polling pass over the email inbox: skip
// automated mail, answer the first personal message, mark what it touched
// as read.
package mailpass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
)

// Parser normalizes a raw RFC 5322 message.
type Parser interface {
	Parse(raw []byte) (domain.InboundMessage, error)
}

// Relay answers a message and decides who is copied on the reply.
type Relay interface {
	Dispatch(ctx context.Context, msg domain.InboundMessage) domain.RelayResult
	EscalationCC(msg domain.InboundMessage, result domain.RelayResult) string
}

// Config configures a Pass.
type Config struct {
	Inbox     domain.Inbox
	Parser    Parser
	Relay     Relay
	Replier   domain.EmailReplier
	MaxUnread int64
	Logger    *slog.Logger
}

// Pass is the email unit of work run by the poll loop.
type Pass struct {
	inbox     domain.Inbox
	parser    Parser
	relay     Relay
	replier   domain.EmailReplier
	maxUnread int64
	logger    *slog.Logger
}

// Result summarises one pass.
type Result struct {
	Listed  int
	Ignored int
	// Relayed is the inbox id of the message answered, if any.
	Relayed string
}

func New(cfg Config) *Pass {
	if cfg.MaxUnread <= 0 {
		cfg.MaxUnread = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pass{
		inbox:     cfg.Inbox,
		parser:    cfg.Parser,
		relay:     cfg.Relay,
		replier:   cfg.Replier,
		maxUnread: cfg.MaxUnread,
		logger:    cfg.Logger,
	}
}

// Work adapts Run to poll.WorkFunc.
func (p *Pass) Work(ctx context.Context) error {
	_, err := p.Run(ctx)
	return err
}

// Run lists unread mail and handles at most one personal message. Automated
// and unparseable messages before it are marked read and skipped. Messages
// that could not be fetched stay unread for the next pass.
func (p *Pass) Run(ctx context.Context) (Result, error) {
	var res Result

	refs, err := p.inbox.ListUnread(ctx, p.maxUnread)
	if err != nil {
		return res, fmt.Errorf("list unread: %w", err)
	}
	res.Listed = len(refs)
	if len(refs) == 0 {
		p.logger.Debug("no unread mail")
		return res, nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		raw, err := p.inbox.FetchRaw(ctx, ref.ID)
		if err != nil {
			p.logger.Warn("fetch failed, leaving unread", "id", ref.ID, "err", err)
			continue
		}

		msg, err := p.parser.Parse(raw)
		if err != nil {
			if !errors.Is(err, domain.ErrNotPersonalMessage) && !errors.Is(err, domain.ErrMalformedPayload) {
				p.logger.Warn("parse failed, leaving unread", "id", ref.ID, "err", err)
				continue
			}
			metrics.IgnoredMessages.Inc()
			res.Ignored++
			p.logger.Info("email skipped", "id", ref.ID, "reason", err)
			p.markRead(ctx, ref.ID)
			continue
		}
		msg.ThreadRef = ref.ThreadID

		p.answer(ctx, msg)
		p.markRead(ctx, ref.ID)
		res.Relayed = ref.ID
		return res, nil
	}
	return res, nil
}

// answer dispatches msg and replies. A failed reply is logged only; the
// message is still marked read by the caller.
func (p *Pass) answer(ctx context.Context, msg domain.InboundMessage) {
	p.logger.Info("email received",
		"from", msg.SenderID,
		"subject", msg.Subject,
		"correlation_id", msg.CorrelationID,
	)

	result := p.relay.Dispatch(ctx, msg)
	reply := domain.EmailReply{
		To:           msg.SenderID,
		Cc:           p.relay.EscalationCC(msg, result),
		Subject:      msg.Subject,
		ThreadRef:    msg.ThreadRef,
		InReplyTo:    msg.MessageID,
		References:   msg.References,
		OriginalBody: msg.Body,
		ResponseText: result.ResponseText,
	}
	if err := p.replier.Reply(ctx, reply); err != nil {
		p.logger.Error("email reply failed", "to", msg.SenderID, "correlation_id", msg.CorrelationID, "err", err)
		return
	}
	if reply.Cc != "" {
		p.logger.Info("email escalated", "cc", reply.Cc, "correlation_id", msg.CorrelationID)
	}
}

func (p *Pass) markRead(ctx context.Context, id string) {
	if err := p.inbox.MarkRead(ctx, id); err != nil {
		p.logger.Warn("mark read failed", "id", id, "err", err)
	}
}
