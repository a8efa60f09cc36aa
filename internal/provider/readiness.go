package provider

import (
	"context"
	"fmt"
	"time"

	"docrelay/internal/domain"
)

// ReadinessState tracks a remote file between upload and the moment it can
// be queried.
type ReadinessState int

const (
	StatePending ReadinessState = iota
	StateReady
	StateTimedOut
)

func (s ReadinessState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateTimedOut:
		return "TIMED_OUT"
	}
	return fmt.Sprintf("ReadinessState(%d)", int(s))
}

// ReadinessConfig bounds the wait for a file to be processed.
type ReadinessConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

// CheckFunc reports whether the remote file is processed.
type CheckFunc func(ctx context.Context) (bool, error)

// WaitReady polls check until it reports ready or MaxAttempts checks have
// been made. Running out of attempts yields StateTimedOut and
// domain.ErrProcessingTimeout. A check error or cancelled context leaves
// the state PENDING.
func WaitReady(ctx context.Context, cfg ReadinessConfig, check CheckFunc) (ReadinessState, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		ready, err := check(ctx)
		if err != nil {
			return StatePending, fmt.Errorf("readiness check %d: %w", attempt, err)
		}
		if ready {
			return StateReady, nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return StatePending, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
	return StateTimedOut, fmt.Errorf("%w after %d attempts", domain.ErrProcessingTimeout, cfg.MaxAttempts)
}
