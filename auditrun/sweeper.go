package auditrun

import (
	"context"
	"time"

	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
)

// TourDeleter removes the guided tour attached to a run.
type TourDeleter interface {
	DeleteTour(ctx context.Context, tourID int64) error
}

// Sweeper periodically deletes audit runs older than the retention window,
// along with their tours. Failures are logged and retried on the next tick.
type Sweeper struct {
	store     Store
	tours     TourDeleter
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewSweeper creates a sweeper. A nil tours skips tour removal.
func NewSweeper(store Store, tours TourDeleter, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		tours:     tours,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// WithMetrics counts swept runs on m.
func (s *Sweeper) WithMetrics(m *metrics.Collector) *Sweeper {
	s.metrics = m
	return s
}

// Run sweeps on every tick until ctx is cancelled. A zero retention or
// interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.retention <= 0 || s.interval <= 0 {
		logger.Info("Audit run sweeper disabled", "retention", s.retention.String(), "interval", s.interval.String())
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Audit run sweeper started", "retention", s.retention.String(), "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("Audit run sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass and returns the number of runs deleted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	runs, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("Audit run sweep failed", "error", err)
		return 0
	}

	deleted := 0
	for _, run := range runs {
		if s.tours != nil && run.TourID != 0 {
			if err := s.tours.DeleteTour(ctx, run.TourID); err != nil {
				logger.Warn("Failed to delete tour of expired audit run", "run_id", run.ID, "tour_id", run.TourID, "error", err)
			}
		}
		if err := s.store.Delete(ctx, run.ID); err != nil {
			logger.Warn("Failed to delete expired audit run", "run_id", run.ID, "error", err)
			continue
		}
		deleted++
	}
	s.metrics.AddSwept(deleted)
	if deleted > 0 {
		logger.Info("Audit run sweep completed", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}
