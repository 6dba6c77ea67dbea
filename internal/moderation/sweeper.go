package moderation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the periodic anomaly checks that are not tied to a single
// report or action, currently the unresolved-backlog bands.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Moderation sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One pass on startup so a restart doesn't hide an existing backlog.
	s.service.SweepBacklog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Moderation sweeper stopped")
			return
		case <-ticker.C:
			s.service.SweepBacklog(ctx)
		}
	}
}
