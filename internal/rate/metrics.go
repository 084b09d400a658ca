package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	deniedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pylvi_poll_denied_total",
			Help: "Polls denied by the pacing guard",
		},
		[]string{"provider", "reason"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pylvi_rate_limit_retry_after_seconds",
			Help: "Cooldown imposed by the last vendor rate-limit response",
		},
		[]string{"provider"},
	)
	lastPollGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pylvi_last_poll_timestamp_seconds",
			Help: "Start of the last allowed poll round (epoch seconds)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes the shared guard collectors for
// registration.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		deniedCounter,
		retryAfterGauge,
		lastPollGauge,
	}
}
