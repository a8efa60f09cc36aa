package domain

import (
	"context"
	"time"
)

// RelayRecord is one audited dispatch.
type RelayRecord struct {
	Channel       Channel
	SenderID      string
	CorrelationID string
	Success       bool
	Escalated     bool
	LatencyMs     int64
	CreatedAt     time.Time
}

// RelayLog persists dispatch records.
type RelayLog interface {
	RecordRelay(ctx context.Context, rec RelayRecord) error
}

// FingerprintLedger persists fingerprints across process restarts.
type FingerprintLedger interface {
	RecordFingerprint(ctx context.Context, outcome SyncOutcome) error
	Fingerprints(ctx context.Context) ([]string, error)
}
