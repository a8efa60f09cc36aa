package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"docrelay/internal/domain"

	"github.com/google/uuid"
)

// ParseWhatsApp extracts the first text message from a WhatsApp Cloud API
// webhook body. It returns domain.ErrMalformedPayload when the
// entry/changes/value/messages path is absent and domain.ErrNotATextMessage
// when messages exist but none of them is text.
func ParseWhatsApp(body []byte) (domain.InboundMessage, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	sawMessages := false
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			sawMessages = true
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				correlation := msg.ID
				if correlation == "" {
					correlation = uuid.NewString()
				}
				return domain.InboundMessage{
					Channel:       domain.ChannelWhatsApp,
					SenderID:      msg.From,
					Body:          msg.Text.Body,
					CorrelationID: correlation,
					ReceivedAt:    parseUnix(msg.Timestamp),
				}, nil
			}
		}
	}

	if sawMessages {
		return domain.InboundMessage{}, domain.ErrNotATextMessage
	}
	return domain.InboundMessage{}, fmt.Errorf("%w: no entry.changes.value.messages", domain.ErrMalformedPayload)
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// --- WhatsApp webhook payload types ---

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value  `json:"value"`
	Field string `json:"field"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []Message `json:"messages"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}
