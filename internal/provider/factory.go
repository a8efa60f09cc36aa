package provider

import (
	"log/slog"
	"sync"
	"time"

	"docrelay/internal/config"
	"docrelay/internal/domain"
)

// Factory builds the Docalysis client and the answer chain from config.
// Instances are created once and reused.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	once      sync.Once
	docalysis *Docalysis
	answerer  domain.AnswerProvider
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) build() {
	dc := f.cfg.Docalysis
	timeout := time.Duration(dc.TimeoutSeconds) * time.Second
	client := SharedHTTPClient(timeout)

	f.docalysis = NewDocalysis(DocalysisConfig{
		APIBase:      dc.APIBase,
		APIKey:       dc.APIKey,
		DirectoryID:  dc.DirectoryID,
		PromptPrefix: dc.PromptPrefix,
		PromptSuffix: dc.PromptSuffix,
		Timeout:      timeout,
		Readiness: ReadinessConfig{
			PollInterval: time.Duration(dc.ReadyPollS) * time.Second,
			MaxAttempts:  dc.ReadyMaxTries,
		},
		Client: client,
		Logger: f.logger.With("provider", "docalysis"),
	})
	f.answerer = f.docalysis
	if dc.RatePerMinute > 0 {
		f.answerer = NewRateLimitedProvider(f.docalysis, NewRateLimiter(dc.RateBurst, float64(dc.RatePerMinute)))
	}

	if fb := f.cfg.Fallback; fb.Enabled {
		fallback := NewOpenAI(OpenAIConfig{
			APIKey:       fb.APIKey,
			APIBase:      fb.APIBase,
			Model:        fb.Model,
			SystemPrompt: fallbackSystemPrompt(f.cfg.Relay.FallbackPhrase),
			Client:       client,
			Logger:       f.logger.With("provider", "openai"),
		})
		f.answerer = NewFailoverProvider([]domain.AnswerProvider{f.answerer, fallback}, f.logger)
	}
}

// Docalysis returns the shared Docalysis client.
func (f *Factory) Docalysis() *Docalysis {
	f.once.Do(f.build)
	return f.docalysis
}

// Answerer returns the provider the relay dispatches to: Docalysis, rate
// limited when configured, followed by the fallback provider when enabled.
func (f *Factory) Answerer() domain.AnswerProvider {
	f.once.Do(f.build)
	return f.answerer
}

func fallbackSystemPrompt(phrase string) string {
	p := "You answer customer questions briefly, in the language of the question. " +
		"You do not have access to the company's documents."
	if phrase != "" {
		p += " If you are not certain of the answer, reply exactly: " + phrase
	}
	return p
}
