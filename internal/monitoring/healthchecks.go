package monitoring

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const HEALTHCHECK_TIMER = 15 * time.Second

// HealthCheck returns nil while the dependency is reachable.
type HealthCheck func(ctx context.Context) error

// MonitorBackendHealth runs check on every tick and stores the outcome in
// healthy until ctx is cancelled.
func MonitorBackendHealth(ctx context.Context, name string, check HealthCheck, healthy *atomic.Bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := check(ctx)
			wasHealthy := healthy.Swap(err == nil)
			if err != nil && wasHealthy {
				slog.Warn("[HealthCheck] Backend is unhealthy",
					slog.String("backend", name),
					slog.String("error", err.Error()))
			}
			if err == nil && !wasHealthy {
				slog.Info("[HealthCheck] Backend recovered", slog.String("backend", name))
			}
		}
	}
}
