package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// AuthOperations counts auth service calls by operation, provider and
	// outcome ("ok" or an error code).
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "auth", Name: "operations_total", Help: "Auth operations by outcome."},
		[]string{"operation", "provider", "outcome"},
	)
	AuthDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "gogotex", Subsystem: "auth", Name: "operation_duration_seconds", Help: "Auth operation latency.", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
	KeySetFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "auth", Name: "keyset_fetch_total", Help: "Key-set lookups by source (cache, network, error)."},
		[]string{"keyset", "source"},
	)
	Revocations = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "auth", Name: "revocations_total", Help: "Token ids added to the denylist."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthOperations)
	reg.MustRegister(AuthDuration)
	reg.MustRegister(KeySetFetches)
	reg.MustRegister(Revocations)
}
