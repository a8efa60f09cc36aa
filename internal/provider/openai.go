package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docrelay/internal/domain"
)

// OpenAI answers through any OpenAI-compatible chat-completions API. It has
// no access to the document corpus, so it is only used as a fallback whose
// system prompt tells it to reply with the escalation phrase when unsure.
type OpenAI struct {
	apiKey       string
	apiBase      string
	model        string
	systemPrompt string
	client       *http.Client
	logger       *slog.Logger
}

type OpenAIConfig struct {
	APIKey       string
	APIBase      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:       cfg.APIKey,
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

func (o *OpenAI) Query(ctx context.Context, text string) (string, error) {
	msgs := make([]oaiMessage, 0, 2)
	if o.systemPrompt != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: o.systemPrompt})
	}
	msgs = append(msgs, oaiMessage{Role: "user", Content: text})

	body, err := json.Marshal(oaiRequest{Model: o.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		return req, nil
	}, o.logger)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	var out oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("openai: empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

var _ domain.AnswerProvider = (*OpenAI)(nil)
