package janitor

import (
	"context"
	"log/slog"
	"time"

	"entitlement-backend/config"
	"entitlement-backend/internal/metrics"
)

// Pruner deletes rate-limit counters older than a cutoff.
type Pruner interface {
	PruneRateCounters(ctx context.Context, before time.Time) (int64, error)
}

// Service periodically removes stale rate-limit counters.
type Service struct {
	cfg    config.JanitorConfig
	store  Pruner
	now    func() time.Time
	logger *slog.Logger
}

func NewService(cfg config.JanitorConfig, store Pruner, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, now: time.Now, logger: logger}
}

// Run prunes once, then on every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("janitor is disabled, not starting")
		return
	}
	s.logger.Info("starting janitor", "interval", s.cfg.Interval, "retention", s.cfg.Retention)

	s.PruneOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("janitor shutting down")
			return
		case <-timer.C:
			s.PruneOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PruneOnce deletes counters whose hour bucket is older than the retention.
// Errors are logged and swallowed.
func (s *Service) PruneOnce(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	n, err := s.store.PruneRateCounters(ctx, cutoff)
	if err != nil {
		s.logger.Warn("rate counter pruning failed", "error", err)
		return
	}
	if n > 0 {
		metrics.RateCountersPrunedTotal.Add(float64(n))
		s.logger.Info("pruned rate counters", "rows", n, "cutoff", cutoff)
	}
}
