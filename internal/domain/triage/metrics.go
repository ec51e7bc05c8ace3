package triage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the triage engine.
type Metrics struct {
	PassesTotal       prometheus.Counter
	PassDuration      prometheus.Histogram
	ItemsCreatedTotal *prometheus.CounterVec
	AttemptsTotal     *prometheus.CounterVec
	AutoClosesTotal   prometheus.Counter
}

// NewMetrics builds and registers the triage metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_triage_passes_total",
			Help: "Number of completed triage passes.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_triage_pass_duration_seconds",
			Help:    "Duration of triage passes.",
			Buckets: prometheus.DefBuckets,
		}),
		ItemsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_triage_items_created_total",
			Help: "Triage items created, by list type.",
		}, []string{"list_type"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_contact_attempts_total",
			Help: "Contact attempts logged, by outcome.",
		}, []string{"outcome"}),
		AutoClosesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_auto_closes_total",
			Help: "Items closed automatically after repeated unsuccessful attempts.",
		}),
	}

	reg.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.ItemsCreatedTotal,
		m.AttemptsTotal,
		m.AutoClosesTotal,
	)
	return m
}
