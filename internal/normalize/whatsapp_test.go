package normalize

import (
	"testing"

	"docrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "5959811", "id": "wamid.IMG", "type": "image", "timestamp": "1700000000"},
          {"from": "5959822", "id": "wamid.TXT", "type": "text", "timestamp": "1700000001", "text": {"body": "  ¿Cuál es el horario?  "}}
        ]
      }
    }]
  }]
}`

func TestParseWhatsApp_FirstTextMessage(t *testing.T) {
	msg, err := ParseWhatsApp([]byte(textWebhook))
	require.NoError(t, err)

	assert.Equal(t, domain.ChannelWhatsApp, msg.Channel)
	assert.Equal(t, "5959822", msg.SenderID)
	assert.Equal(t, "  ¿Cuál es el horario?  ", msg.Body, "whatsapp text is passed through unmodified")
	assert.Equal(t, "wamid.TXT", msg.CorrelationID)
	assert.Equal(t, int64(1700000001), msg.ReceivedAt.Unix())
}

func TestParseWhatsApp_Malformed(t *testing.T) {
	bodies := map[string]string{
		"invalid json":   `not json`,
		"empty object":   `{}`,
		"no changes":     `{"entry":[{"id":"1"}]}`,
		"no messages":    `{"entry":[{"changes":[{"value":{"messaging_product":"whatsapp"}}]}]}`,
		"status update":  `{"entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`,
		"empty messages": `{"entry":[{"changes":[{"value":{"messages":[]}}]}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWhatsApp([]byte(body))
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestParseWhatsApp_NoTextMessage(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"audio"}]}}]}]}`
	_, err := ParseWhatsApp([]byte(body))
	assert.ErrorIs(t, err, domain.ErrNotATextMessage)
}

func TestParseWhatsApp_MissingIDGetsCorrelation(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"text","text":{"body":"hola"}}]}}]}]}`
	msg, err := ParseWhatsApp([]byte(body))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.CorrelationID)
	assert.False(t, msg.ReceivedAt.IsZero())
}
