package settings

import (
	"context"
	"time"

	"github.com/vinugawade/sender.net/pkg/monitoring"
)

// HealthCheck reports degraded until an API access token has been saved.
func HealthCheck(store Store) monitoring.HealthCheck {
	return func() monitoring.CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rec, err := LoadOrEmpty(ctx, store)
		switch {
		case err != nil:
			return monitoring.CheckResult{
				Status:  monitoring.StatusUnhealthy,
				Message: "settings store unavailable: " + err.Error(),
				Latency: time.Since(start).String(),
			}
		case rec.APIAccessTokens == "":
			return monitoring.CheckResult{
				Status:  monitoring.StatusDegraded,
				Message: "API access token not configured",
				Latency: time.Since(start).String(),
			}
		}
		return monitoring.CheckResult{
			Status:  monitoring.StatusHealthy,
			Message: "API access token configured",
			Latency: time.Since(start).String(),
		}
	}
}
