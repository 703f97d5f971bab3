package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate decoding and verification.
type Metrics struct {
	Decoded        *prometheus.CounterVec
	Verdicts       *prometheus.CounterVec
	DecodeDuration prometheus.Histogram
	VerifyDuration prometheus.Histogram
	BatchSize      prometheus.Histogram
}

// New creates a new Metrics instance with all certificate metrics registered.
func New() *Metrics {
	return &Metrics{
		Decoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hcert_certificates_decoded_total",
			Help: "Total number of decode attempts, by outcome (ok or the error kind)",
		}, []string{"outcome"}),
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hcert_verdicts_total",
			Help: "Total number of validity verdicts, by verdict",
		}, []string{"verdict"}),
		DecodeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hcert_decode_duration_seconds",
			Help:    "Duration of the decode pipeline from QR text to certificate model",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hcert_verify_duration_seconds",
			Help:    "Duration of key lookup plus signature verification",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hcert_batch_size",
			Help:    "Number of certificates per batch verification request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) IncrementDecoded(outcome string) {
	m.Decoded.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementVerdict(verdict string) {
	m.Verdicts.WithLabelValues(verdict).Inc()
}

// ObserveDecode records the duration of a decode.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDecode(start time.Time) {
	m.DecodeDuration.Observe(time.Since(start).Seconds())
}

// ObserveVerify records the duration of a signature verification.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveVerify(start time.Time) {
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveBatch(n int) {
	m.BatchSize.Observe(float64(n))
}
