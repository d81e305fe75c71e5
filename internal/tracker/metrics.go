package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// Metrics holds Prometheus metrics for the engine.
//
// Metrics:
//   - phasetrack_phase_transitions_total{kind,phase,to} - persisted status changes
//   - phasetrack_operation_errors_total{operation,code} - failed operations by error code
//   - phasetrack_operation_duration_seconds{operation} - operation latency
type Metrics struct {
	Transitions *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates the engine metrics and registers them with reg.
// Use a dedicated prometheus.Registry per engine in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasetrack_phase_transitions_total",
				Help: "Total number of persisted phase status changes",
			},
			[]string{"kind", "phase", "to"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phasetrack_operation_errors_total",
				Help: "Total number of failed engine operations",
			},
			[]string{"operation", "code"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phasetrack_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"operation"},
		),
	}
}

// observe records duration and, on failure, the error code. It is deferred
// with a pointer to the caller's named error result. Nil-safe.
func (m *Metrics) observe(op string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if errp == nil || *errp == nil {
		return
	}
	code := "INTERNAL"
	if te := pterrors.AsTrackError(*errp); te != nil {
		code = string(te.Code)
	}
	m.Errors.WithLabelValues(op, code).Inc()
}

func (m *Metrics) transition(kind, phase, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, phase, to).Inc()
}
