package session

import (
	"context"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes expired records and stale index entries. It only bounds store
// growth; the request path enforces expiry on its own.
type Sweeper struct {
	store    Store
	policy   Policy
	interval time.Duration
	now      func() time.Time
	metrics  MetricsRecorder
}

func NewSweeper(store Store, policy Policy, interval time.Duration, now func() time.Time, metrics MetricsRecorder) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:    store,
		policy:   policy,
		interval: interval,
		now:      now,
		metrics:  metrics,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.WithField("interval", s.interval.String()).Info("Session sweeper started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Session sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logrus.WithError(err).Warn("Session sweep failed")
			}
		}
	}
}

// SweepOnce deletes every record whose deadline has passed and returns how many it removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	sessions, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, candidate := range sessions {
		if _, expired := candidate.Expired(s.policy, s.now()); !expired {
			continue
		}
		// Re-evaluate against the stored value so a concurrent touch wins.
		ok, err := s.store.DeleteIf(ctx, candidate.SessionID, func(current *Session) bool {
			_, expired := current.Expired(s.policy, s.now())
			return expired
		})
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
			if s.metrics != nil {
				s.metrics.Incr(ctx, models.MetricSwept)
			}
		}
	}

	pruned, err := s.store.PruneIndex(ctx)
	if err != nil {
		return removed, err
	}

	logrus.WithFields(logrus.Fields{
		"scanned": len(sessions),
		"removed": removed,
		"pruned":  pruned,
	}).Debug("Session sweep completed")
	return removed, nil
}
