// Package cleanup expires stale sessions in the background.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 5 * time.Minute

// DefaultTimeout applies to any non-terminal status without its own timeout.
const DefaultTimeout = 5 * time.Minute

// Lister lists sessions that may still need expiring.
type Lister interface {
	ListNonTerminal(ctx context.Context) ([]*domain.Session, error)
}

// Expirer expires a session if stale still holds for its stored record at the
// moment of the write.
type Expirer interface {
	ExpireIf(ctx context.Context, id string, stale func(current *domain.Session) bool) (bool, error)
}

// Timeouts maps a non-terminal status to how long a session may stay in it.
type Timeouts map[domain.Status]time.Duration

// Worker periodically expires sessions that outlived their status timeout.
// New and initiated sessions are measured from creation; started sessions from
// their last activity.
type Worker struct {
	lister   Lister
	expirer  Expirer
	interval time.Duration
	timeouts Timeouts
	now      func() time.Time
}

// NewWorker creates a Worker. Missing timeouts fall back to DefaultTimeout.
func NewWorker(lister Lister, expirer Expirer, interval time.Duration, timeouts Timeouts) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		lister:   lister,
		expirer:  expirer,
		interval: interval,
		timeouts: timeouts,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Cleanup worker started", "interval", w.interval)

	for {
		select {
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				slog.Error("Cleanup sweep failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("Cleanup worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass and returns how many sessions it expired.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	sessions, err := w.lister.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal sessions: %w", err)
	}

	now := w.now()
	expired := 0
	for _, s := range sessions {
		if !w.stale(s, now) {
			continue
		}

		observed := s.Status
		ok, err := w.expirer.ExpireIf(ctx, s.ID, func(current *domain.Session) bool {
			return current.Status == observed && w.stale(current, w.now())
		})
		if err != nil {
			slog.Warn("Cleanup failed to expire session", "session_id", s.ID, "status", s.Status, "error", err)
			continue
		}
		if ok {
			expired++
			slog.Info("Cleanup expired session", "session_id", s.ID, "status", s.Status)
		}
	}

	if expired > 0 {
		slog.Info("Cleanup sweep completed", "checked", len(sessions), "expired", expired)
	}
	return expired, nil
}

func (w *Worker) stale(s *domain.Session, now time.Time) bool {
	timeout, ok := w.timeouts[s.Status]
	if !ok || timeout <= 0 {
		timeout = DefaultTimeout
	}

	since := s.CreatedAt
	if s.Status == domain.StatusStarted {
		since = s.UpdatedAt
	}
	return now.Sub(since) > timeout
}
