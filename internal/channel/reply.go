package channel

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"docrelay/internal/domain"
)

// ReplyTexts are the fixed parts of an email reply.
type ReplyTexts struct {
	Greeting       string
	OriginalHeader string
	SignOff        string
}

// ReplySubject prefixes "Re: " unless the subject already starts with it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ReplyBody lays out greeting, answer, quoted original and sign-off.
func ReplyBody(t ReplyTexts, answer, original string) string {
	var b strings.Builder
	b.WriteString(t.Greeting)
	b.WriteString("\n\n")
	b.WriteString(answer)
	b.WriteString("\n\n")
	b.WriteString(t.OriginalHeader)
	b.WriteString("\n")
	b.WriteString(original)
	b.WriteString("\n\n")
	b.WriteString(t.SignOff)
	return b.String()
}

// BuildReply renders r as an RFC 5322 text/plain message threaded to the
// original through In-Reply-To and References.
func BuildReply(from string, r domain.EmailReply, t ReplyTexts, now time.Time) ([]byte, error) {
	to, err := mail.ParseAddressList(r.To)
	if err != nil {
		return nil, fmt.Errorf("reply to %q: %w", r.To, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(ReplySubject(r.Subject))
	h.SetAddressList("To", to)
	if from != "" {
		addr, err := mail.ParseAddress(from)
		if err != nil {
			return nil, fmt.Errorf("reply from %q: %w", from, err)
		}
		h.SetAddressList("From", []*mail.Address{addr})
	}
	if r.Cc != "" {
		cc, err := mail.ParseAddressList(r.Cc)
		if err != nil {
			return nil, fmt.Errorf("reply cc %q: %w", r.Cc, err)
		}
		h.SetAddressList("Cc", cc)
	}
	if id := bareMsgID(r.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", threadReferences(r.References, id))
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create reply: %w", err)
	}
	if _, err := io.WriteString(w, ReplyBody(t, r.ResponseText, r.OriginalBody)); err != nil {
		return nil, fmt.Errorf("write reply: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close reply: %w", err)
	}
	return buf.Bytes(), nil
}

// Recipients lists every envelope recipient of r.
func Recipients(r domain.EmailReply) ([]string, error) {
	var out []string
	for _, list := range []string{r.To, r.Cc} {
		if strings.TrimSpace(list) == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(list)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			out = append(out, a.Address)
		}
	}
	return out, nil
}

func bareMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// threadReferences appends id to the original References, without repeats.
func threadReferences(refs []string, id string) []string {
	out := make([]string, 0, len(refs)+1)
	seen := make(map[string]bool)
	for _, ref := range append(append([]string{}, refs...), id) {
		ref = bareMsgID(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
