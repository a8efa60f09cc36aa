// Package poll drives the background work of the relay: a fixed-interval
// loop and a guard that keeps passes from overlapping.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docrelay/internal/metrics"
)

// WorkFunc is one unit of background work.
type WorkFunc func(ctx context.Context) error

// LoopConfig configures a Loop.
type LoopConfig struct {
	Name     string
	Interval time.Duration
	Work     WorkFunc
	Logger   *slog.Logger
}

// Loop calls Work, sleeps Interval, and repeats until its context ends.
// A failing or panicking iteration is logged and the loop carries on.
type Loop struct {
	name     string
	interval time.Duration
	work     WorkFunc
	logger   *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "poll"
	}
	return &Loop{
		name:     cfg.Name,
		interval: cfg.Interval,
		work:     cfg.Work,
		logger:   cfg.Logger,
	}
}

// Run blocks until ctx is cancelled. The first iteration starts immediately.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("poll loop started", "loop", l.name, "interval", l.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("poll loop stopped", "loop", l.name)
			return
		case <-timer.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Error("poll iteration failed", "loop", l.name, "err", err)
			}
			timer.Reset(l.interval)
		}
	}
}

// RunOnce performs exactly one iteration. A panic in Work is returned as
// an error.
func (l *Loop) RunOnce(ctx context.Context) (err error) {
	metrics.PollIterations.Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s iteration: %v", l.name, r)
		}
		if err != nil {
			metrics.PollFailures.Inc()
		}
	}()
	return l.work(ctx)
}

// Interval returns the sleep between iterations.
func (l *Loop) Interval() time.Duration { return l.interval }
