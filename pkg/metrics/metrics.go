package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "streamline", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "streamline", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "streamline", Name: "rate_limit_fallback_total", Help: "Requests checked locally because Redis was unreachable."},
	)

	// DocumentWrites counts version-checked writes by outcome:
	// saved, forced, conflict, not_found, invalid, error.
	DocumentWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "streamline", Subsystem: "documents", Name: "writes_total", Help: "Document writes by outcome."},
		[]string{"outcome"},
	)
	DocumentWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "streamline", Subsystem: "documents", Name: "write_duration_seconds", Help: "Latency of document writes by store.", Buckets: prometheus.DefBuckets},
		[]string{"store"},
	)
	DocumentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "streamline", Subsystem: "documents", Name: "created_total", Help: "Documents created for videos."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(RateLimitFallbacks)
	reg.MustRegister(DocumentWrites)
	reg.MustRegister(DocumentWriteDuration)
	reg.MustRegister(DocumentsCreated)
}
