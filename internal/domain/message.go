package domain

import "time"

// Channel identifies where an inbound message came from and where the
// reply must go.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// InboundMessage is a normalized message ready to be relayed. Body is always
// plain text; email bodies have HTML, signatures and extra blank lines removed.
type InboundMessage struct {
	Channel       Channel
	SenderID      string
	Subject       string // email only
	Body          string
	ThreadRef     string   // email: Gmail thread id
	MessageID     string   // email: Message-ID header, used for In-Reply-To
	References    []string // email: References chain
	CorrelationID string
	ReceivedAt    time.Time
}

// RelayResult is the outcome of forwarding one InboundMessage to the answer
// provider.
type RelayResult struct {
	Success         bool
	ResponseText    string
	NeedsEscalation bool
}
