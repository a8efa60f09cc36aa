package normalize

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"docrelay/internal/domain"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	_ "github.com/emersion/go-message/charset"
)

// EmailParser normalizes raw MIME messages from the polled inbox.
type EmailParser struct {
	rules Rules
}

func NewEmailParser(rules Rules) *EmailParser {
	return &EmailParser{rules: rules}
}

// Parse classifies and normalizes one raw RFC 5322 message. Automated mail
// yields domain.ErrNotPersonalMessage before any body is read; unparseable
// input yields domain.ErrMalformedPayload.
func (p *EmailParser) Parse(raw []byte) (domain.InboundMessage, error) {
	// An unknown charset still yields a usable reader; anything else,
	// including an unknown transfer encoding, does not.
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil || (err != nil && !message.IsUnknownCharset(err)) {
		if err == nil {
			err = fmt.Errorf("no message reader")
		}
		return domain.InboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	defer mr.Close()

	sender := senderAddress(mr.Header)
	if reason, automated := p.Classify(mr.Header, sender); automated {
		return domain.InboundMessage{}, fmt.Errorf("%w: %s", domain.ErrNotPersonalMessage, reason)
	}

	body, err := extractBody(mr)
	if err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}
	messageID := strings.TrimSpace(mr.Header.Get("Message-ID"))
	correlation := strings.Trim(messageID, "<>")
	if correlation == "" {
		correlation = uuid.NewString()
	}
	received, err := mr.Header.Date()
	if err != nil || received.IsZero() {
		received = time.Now()
	}

	return domain.InboundMessage{
		Channel:       domain.ChannelEmail,
		SenderID:      sender,
		Subject:       subject,
		Body:          CleanBody(body),
		MessageID:     messageID,
		References:    strings.Fields(mr.Header.Get("References")),
		CorrelationID: correlation,
		ReceivedAt:    received,
	}, nil
}

// Classify reports whether a message looks automated and which signal
// matched. Any single match is enough.
func (p *EmailParser) Classify(h mail.Header, sender string) (string, bool) {
	for _, key := range p.rules.Headers {
		if h.Has(key) {
			return "header " + key, true
		}
	}
	if needle, ok := containsAny(h.Get("Return-Path"), p.rules.ReturnPath); ok {
		return "return-path contains " + needle, true
	}
	if needle, ok := containsAny(sender, p.rules.SenderKeywords); ok {
		return "sender contains " + needle, true
	}
	if needle, ok := containsAny(sender, p.rules.DeniedDomains); ok {
		return "sender domain " + needle, true
	}
	return "", false
}

// senderAddress returns the bare From address, lowercased.
func senderAddress(h mail.Header) string {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		return strings.ToLower(list[0].Address)
	}
	from := strings.TrimSpace(h.Get("From"))
	if i := strings.LastIndex(from, "<"); i >= 0 {
		from = strings.TrimSuffix(from[i+1:], ">")
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// extractBody returns the first text/plain inline part. Messages without
// one fall back to the first inline text part of any subtype; CleanBody
// strips the markup afterwards.
func extractBody(mr *mail.Reader) (string, error) {
	var fallback string
	haveFallback := false
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !isCharsetOrEncoding(err) {
			return "", fmt.Errorf("read part: %w", err)
		}
		if p == nil {
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		partType, _, err := h.ContentType()
		if err != nil {
			partType = "text/plain"
		}
		if !strings.HasPrefix(partType, "text/") {
			continue
		}
		content, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("read part body: %w", err)
		}
		if partType == "text/plain" {
			return string(content), nil
		}
		if !haveFallback {
			fallback = string(content)
			haveFallback = true
		}
	}
	return fallback, nil
}

func isCharsetOrEncoding(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
