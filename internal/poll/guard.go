package poll

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrPassInProgress is returned by Guard.TryRun when another pass holds
// the guard.
var ErrPassInProgress = errors.New("pass already in progress")

// Guard lets at most one pass run at a time. Callers that lose the race
// get ErrPassInProgress instead of waiting.
type Guard struct {
	running atomic.Bool
}

// TryRun runs fn unless another pass is already running.
func (g *Guard) TryRun(ctx context.Context, fn WorkFunc) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrPassInProgress
	}
	defer g.running.Store(false)
	return fn(ctx)
}

// Running reports whether a pass currently holds the guard.
func (g *Guard) Running() bool { return g.running.Load() }
