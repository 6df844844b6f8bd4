// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeCached = "cached"
	OutcomeError  = "error"
)

type Metrics struct {
	Fetches       *prometheus.CounterVec
	FetchSeconds  prometheus.Histogram
	GateAttempts  prometheus.Histogram
	Changes       *prometheus.CounterVec
	PollsSkipped  prometheus.Counter
	PollSeconds   prometheus.Histogram
	RefreshErrors prometheus.Counter
}

// New registers the collectors with reg. Tests pass their own registry so
// collectors never clash.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_fetches_total",
			Help: "Fetch requests by outcome",
		}, []string{"outcome"}),

		FetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketwatch_fetch_cycle_seconds",
			Help:    "Wall clock time of a full browser fetch cycle",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180},
		}),

		GateAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketwatch_gate_attempts",
			Help:    "Loading / challenge / block iterations needed per fetch cycle",
			Buckets: []float64{1, 2, 3},
		}),

		Changes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketwatch_changes_total",
			Help: "Detected listing changes by type",
		}, []string{"type"}),

		PollsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketwatch_polls_skipped_total",
			Help: "Poll ticks dropped because the previous poll was still running",
		}),

		PollSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketwatch_poll_seconds",
			Help:    "Wall clock time of a poll over every monitored endpoint",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		RefreshErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketwatch_refresh_errors_total",
			Help: "Endpoint refreshes that failed during a poll",
		}),
	}
}

func (m *Metrics) RecordFetch(outcome string) {
	m.Fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCycle(elapsed time.Duration, gateAttempts int) {
	m.FetchSeconds.Observe(elapsed.Seconds())
	if gateAttempts > 0 {
		m.GateAttempts.Observe(float64(gateAttempts))
	}
}

func (m *Metrics) RecordChange(changeType string) {
	m.Changes.WithLabelValues(changeType).Inc()
}
