// ABOUTME: Periodic and manual sync triggers with a single-flight guarantee.
// ABOUTME: Ticker lifecycle is tied to the session; no timer survives Stop.

package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultPollInterval is how often conversations are refreshed in the
// background while a session is authenticated.
const DefaultPollInterval = 30 * time.Second

// Scheduler triggers background syncs on a fixed interval and on demand.
// Syncs are single-flight: a trigger that arrives while one is running is
// ignored immediately rather than queued.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	inflight *semaphore.Weighted
	logger   *slog.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler for the service and installs itself as
// the service's refresh trigger, so successful sends refresh through the
// same single-flight gate.
func NewScheduler(svc *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		svc:      svc,
		interval: interval,
		inflight: semaphore.NewWeighted(1),
		logger:   logger.With("component", "scheduler"),
		done:     make(chan struct{}),
	}
	svc.setRefresher(s.RefreshNow)
	return s
}

// Start begins the poll loop. An initial sync runs immediately so the inbox
// fills right after login.
func (s *Scheduler) Start() {
	s.logger.Info("sync scheduler started", "interval", s.interval)
	go s.run()
}

func (s *Scheduler) run() {
	s.RefreshNow()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RefreshNow()
		case <-s.done:
			return
		}
	}
}

// RefreshNow triggers a background sync unless one is already in flight, in
// which case it returns false immediately without queueing.
func (s *Scheduler) RefreshNow() bool {
	if !s.inflight.TryAcquire(1) {
		s.logger.Debug("sync already in flight, refresh ignored")
		return false
	}

	go func() {
		defer s.inflight.Release(1)
		if err := s.svc.SyncOnce(context.Background()); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return
			}
			// Degrades to "no new data this cycle"; the next tick retries.
			s.logger.Warn("sync failed", "error", err)
		}
	}()
	return true
}

// Stop halts the poll loop. Idempotent. An in-flight sync is not forcibly
// interrupted here; closing the service cancels it via the session context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		close(s.done)
		s.stopped = true
		s.logger.Info("sync scheduler stopped")
	}
}
