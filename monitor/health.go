package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Health periodically logs a liveness line with the engine's aggregate
// counters. It reads through the metrics sink so the log and the scrape
// endpoint can never disagree.
type Health struct {
	metrics  *Metrics
	interval time.Duration
	logger   *zap.Logger
}

// NewHealth creates a reporter. A zero interval disables it.
func NewHealth(metrics *Metrics, interval time.Duration, logger *zap.Logger) *Health {
	return &Health{metrics: metrics, interval: interval, logger: logger}
}

// Run emits the health line until the context is cancelled.
func (h *Health) Run(ctx context.Context) error {
	if h.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.logger.Info("engine health",
				zap.Float64("success_rate", h.metrics.SuccessRate()),
			)
		}
	}
}
