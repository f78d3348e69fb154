package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clobex",
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "method", "reason"},
	)

	AdminRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clobex",
			Name:      "admin_reject_total",
			Help:      "Total number of rejected admin requests.",
		},
		[]string{"method", "reason"},
	)
)

func MustRegister() {
	prometheus.MustRegister(RateLimitBlockTotal, AdminRejectTotal)
}
