package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"docrelay/internal/domain"
)

// FailoverProvider asks each provider in order and returns the first answer.
type FailoverProvider struct {
	providers []domain.AnswerProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain. At least one provider is
// required.
func NewFailoverProvider(providers []domain.AnswerProvider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Healthy succeeds when any provider that can report health is healthy.
// Providers without a health check count as healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		hc, ok := p.(domain.HealthChecker)
		if !ok {
			return nil
		}
		err := hc.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// Query tries each provider in order. A cancelled context stops the chain.
func (fp *FailoverProvider) Query(ctx context.Context, text string) (string, error) {
	if len(fp.providers) == 0 {
		return "", errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range fp.providers {
		answer, err := p.Query(ctx, text)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return "", fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

var (
	_ domain.AnswerProvider = (*FailoverProvider)(nil)
	_ domain.HealthChecker  = (*FailoverProvider)(nil)
)
