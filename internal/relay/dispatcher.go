// Package relay forwards normalized inbound messages to the answer provider
// and decides how the answer is delivered.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrelay/internal/domain"
	"docrelay/internal/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	Provider domain.AnswerProvider
	// Log receives one record per dispatch. Optional.
	Log domain.RelayLog
	// Observer mirrors outcomes to an external metrics backend. Optional.
	Observer metrics.Observer
	Logger   *slog.Logger

	// FallbackPhrase marks answers where the provider found nothing and a
	// human has to take over. Matched case-insensitively anywhere in the
	// answer. This is a text contract with the provider's prompt, so any
	// paraphrase of the phrase defeats it.
	FallbackPhrase   string
	EscalationCC     string
	EmptyMessageText string
	ApologyText      string
	Timeout          time.Duration
}

// Dispatcher relays one message at a time. It is safe for concurrent use.
type Dispatcher struct {
	provider       domain.AnswerProvider
	log            domain.RelayLog
	observer       metrics.Observer
	logger         *slog.Logger
	fallbackPhrase string
	escalationCC   string
	emptyText      string
	apologyText    string
	timeout        time.Duration
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Dispatcher{
		provider:       cfg.Provider,
		log:            cfg.Log,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		fallbackPhrase: strings.ToLower(strings.TrimSpace(cfg.FallbackPhrase)),
		escalationCC:   cfg.EscalationCC,
		emptyText:      cfg.EmptyMessageText,
		apologyText:    cfg.ApologyText,
		timeout:        cfg.Timeout,
	}
}

// Dispatch forwards msg.Body to the answer provider. It never returns an
// error: provider faults become an apology result so the sender always gets
// a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) (result domain.RelayResult) {
	start := time.Now()
	query := strings.TrimSpace(msg.Body)

	if query == "" {
		d.logger.Info("empty message, skipping provider",
			"channel", msg.Channel, "sender", msg.SenderID)
		return domain.RelayResult{Success: true, ResponseText: d.emptyText}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("answer provider panicked", "panic", r, "correlation_id", msg.CorrelationID)
			result = d.apology()
		}
		d.record(ctx, msg, result, time.Since(start))
	}()

	metrics.ProviderRequests.Inc()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	answer, err := d.provider.Query(callCtx, query)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrProviderFault, d.provider.Name(), err)
		metrics.ProviderFaults.Inc()
		d.logger.Error("answer provider failed",
			"err", err,
			"channel", msg.Channel,
			"correlation_id", msg.CorrelationID,
		)
		return d.apology()
	}

	result = domain.RelayResult{
		Success:         true,
		ResponseText:    answer,
		NeedsEscalation: d.NeedsEscalation(answer),
	}
	if result.NeedsEscalation {
		metrics.Escalations.Inc()
	}
	d.logger.Info("message relayed",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"correlation_id", msg.CorrelationID,
		"escalation", result.NeedsEscalation,
		"latency", time.Since(start),
	)
	return result
}

// NeedsEscalation reports whether answer contains the fallback phrase.
func (d *Dispatcher) NeedsEscalation(answer string) bool {
	if d.fallbackPhrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(answer), d.fallbackPhrase)
}

// EscalationCC returns the address to copy on an email reply, or "" when
// the result does not need a human. Chat channels have no cc concept.
func (d *Dispatcher) EscalationCC(msg domain.InboundMessage, result domain.RelayResult) string {
	if msg.Channel != domain.ChannelEmail || !result.NeedsEscalation {
		return ""
	}
	return d.escalationCC
}

func (d *Dispatcher) apology() domain.RelayResult {
	return domain.RelayResult{Success: false, ResponseText: d.apologyText}
}

func (d *Dispatcher) record(ctx context.Context, msg domain.InboundMessage, result domain.RelayResult, elapsed time.Duration) {
	metrics.MessagesRelayed(string(msg.Channel)).Inc()
	if d.observer != nil {
		if result.Success {
			d.observer.RelaySucceeded(string(msg.Channel), elapsed.Milliseconds())
		} else {
			d.observer.RelayFailed(string(msg.Channel))
		}
	}
	if d.log == nil {
		return
	}
	err := d.log.RecordRelay(ctx, domain.RelayRecord{
		Channel:       msg.Channel,
		SenderID:      msg.SenderID,
		CorrelationID: msg.CorrelationID,
		Success:       result.Success,
		Escalated:     result.NeedsEscalation,
		LatencyMs:     elapsed.Milliseconds(),
		CreatedAt:     time.Now(),
	})
	if err != nil {
		d.logger.Warn("relay log write failed", "err", err)
	}
}
