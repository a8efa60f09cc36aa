package channel

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrelay/internal/domain"
)

var spanishTexts = ReplyTexts{
	Greeting:       "Hola,",
	OriginalHeader: "--- Mensaje original ---",
	SignOff:        "Atentamente,\nAsistente automático",
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Horarios", ReplySubject("Horarios"))
	assert.Equal(t, "RE: Horarios", ReplySubject("RE: Horarios"))
	assert.Equal(t, "re: x", ReplySubject("re: x"))
	assert.Equal(t, "Re: ", ReplySubject(""))
}

func TestReplyBody(t *testing.T) {
	got := ReplyBody(spanishTexts, "Abrimos a las 9.", "¿A qué hora abren?")
	want := "Hola,\n\nAbrimos a las 9.\n\n--- Mensaje original ---\n¿A qué hora abren?\n\nAtentamente,\nAsistente automático"
	assert.Equal(t, want, got)
}

func TestBuildReply(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err := BuildReply("Bot <bot@example.com>", domain.EmailReply{
		To:           "ana@example.com",
		Cc:           "humans@example.com",
		Subject:      "Horarios",
		InReplyTo:    "<orig@mail.example.com>",
		References:   []string{"<root@mail.example.com>", "<orig@mail.example.com>"},
		OriginalBody: "¿A qué hora abren?",
		ResponseText: "Abrimos a las 9.",
	}, spanishTexts, now)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Horarios", subject)

	to, err := mr.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "ana@example.com", to[0].Address)

	cc, err := mr.Header.AddressList("Cc")
	require.NoError(t, err)
	require.Len(t, cc, 1)
	assert.Equal(t, "humans@example.com", cc[0].Address)

	inReplyTo, err := mr.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig@mail.example.com"}, inReplyTo)

	refs, err := mr.Header.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"root@mail.example.com", "orig@mail.example.com"}, refs)

	date, err := mr.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(now))

	id, err := mr.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	p, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(p.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "Hola,\n\nAbrimos a las 9."))
	assert.Contains(t, string(body), "Asistente automático")
}

func TestBuildReply_NoCcWithoutEscalation(t *testing.T) {
	raw, err := BuildReply("", domain.EmailReply{To: "a@example.com", Subject: "x"}, spanishTexts, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Cc:")
	assert.NotContains(t, string(raw), "In-Reply-To:")
}

func TestBuildReply_BadAddress(t *testing.T) {
	_, err := BuildReply("", domain.EmailReply{To: "not an address"}, spanishTexts, time.Now())
	assert.Error(t, err)
}

func TestRecipients(t *testing.T) {
	got, err := Recipients(domain.EmailReply{To: "Ana <ana@example.com>", Cc: "humans@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com", "humans@example.com"}, got)
}

func TestThreadReferences(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, threadReferences([]string{"<a>", "<b>"}, "b"))
	assert.Equal(t, []string{"x"}, threadReferences(nil, "x"))
}
