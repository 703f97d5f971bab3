package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected prometheus.Counter
	Degraded prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hcert_ratelimit_rejected_total",
			Help: "Total number of requests rejected by the per-client rate limit",
		}),
		Degraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hcert_ratelimit_degraded_total",
			Help: "Total number of times the shared rate limiter failed over to memory",
		}),
	}
}

func (m *Metrics) IncrementRejected() {
	m.Rejected.Inc()
}

func (m *Metrics) IncrementDegraded() {
	m.Degraded.Inc()
}
