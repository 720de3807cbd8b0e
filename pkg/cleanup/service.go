// Package cleanup prunes expired thread history from the store.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/relay/pkg/store"
)

// Service periodically deletes thread messages older than the retention
// window. Deletion is idempotent, so it is safe to run against a store
// shared by several relay processes.
type Service struct {
	store    store.Store
	maxAge   time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper over st. Messages older than
// maxAge are deleted; the sweep runs every interval.
func NewService(st store.Store, maxAge, interval time.Duration) *Service {
	return &Service{
		store:    st,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"max_age", s.maxAge,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.store.DeleteMessagesBefore(ctx, time.Now().Add(-s.maxAge))
	if err != nil {
		slog.Error("Retention: expired message sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired messages", "count", count)
	}
}
