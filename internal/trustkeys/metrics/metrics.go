package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the trust key module.
type Metrics struct {
	LookupDuration prometheus.Histogram
	LookupMisses   prometheus.Counter
	KeysImported   *prometheus.CounterVec
	KeysRemoved    prometheus.Counter
}

// New creates a Metrics instance with all trust key metrics registered.
func New() *Metrics {
	return &Metrics{
		LookupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hcert_key_lookup_duration_seconds",
			Help:    "Duration of trusted key lookups by key identifier",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		LookupMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hcert_key_lookup_misses_total",
			Help: "Total number of key lookups for identifiers that are not trusted",
		}),
		KeysImported: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hcert_keys_imported_total",
			Help: "Total number of trusted keys imported, by source",
		}, []string{"source"}),
		KeysRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hcert_keys_removed_total",
			Help: "Total number of trusted keys removed",
		}),
	}
}

// ObserveLookup records the duration of a key lookup.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLookup(start time.Time) {
	m.LookupDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementLookupMiss() {
	m.LookupMisses.Inc()
}

func (m *Metrics) AddImported(source string, n int) {
	m.KeysImported.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncrementRemoved() {
	m.KeysRemoved.Inc()
}
