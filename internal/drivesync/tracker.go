package drivesync

import (
	"context"
	"fmt"

	"docrelay/internal/domain"
)

// Tracker is the set of fingerprints seen during one sync pass. It is not
// safe for concurrent use; a pass owns its tracker.
type Tracker struct {
	seen map[domain.Fingerprint]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[domain.Fingerprint]struct{})}
}

func (t *Tracker) Seen(fp domain.Fingerprint) bool {
	_, ok := t.seen[fp]
	return ok
}

func (t *Tracker) Add(fp domain.Fingerprint) { t.seen[fp] = struct{}{} }

func (t *Tracker) Len() int { return len(t.seen) }

// SeedFrom preloads fingerprints recorded by earlier processes. Malformed
// ledger entries are skipped.
func (t *Tracker) SeedFrom(ctx context.Context, ledger domain.FingerprintLedger) (int, error) {
	hashes, err := ledger.Fingerprints(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed fingerprints: %w", err)
	}
	n := 0
	for _, h := range hashes {
		fp, err := ParseFingerprint(h)
		if err != nil {
			continue
		}
		if !t.Seen(fp) {
			t.Add(fp)
			n++
		}
	}
	return n, nil
}
