package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing, so tests can pass nil without a registry.
type Metrics struct {
	ChecksTotal          prometheus.Counter
	ViolationsTotal      *prometheus.CounterVec
	AuditWriteFailures   prometheus.Counter
	ConsentWriteFailures prometheus.Counter
	RetentionActions     *prometheus.CounterVec
	RetentionFailures    prometheus.Counter
	SweepDuration        prometheus.Histogram
}

// New registers the engine collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "compliance_checks_total",
			Help: "Total compliance context evaluations performed.",
		}),
		ViolationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_violations_total",
			Help: "Compliance violations detected, by severity and standard.",
		}, []string{"severity", "standard"}),
		AuditWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit events that could not be persisted.",
		}),
		ConsentWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "consent_write_failures_total",
			Help: "Consent records that could not be persisted.",
		}),
		RetentionActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retention_actions_total",
			Help: "Retention actions applied, by method.",
		}, []string{"action"}),
		RetentionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "retention_action_failures_total",
			Help: "Retention actions that failed on individual records.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Wall time of full retention sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// RecordCheck counts one engine evaluation.
func (m *Metrics) RecordCheck() {
	if m == nil {
		return
	}
	m.ChecksTotal.Inc()
}

// RecordViolation counts one detected violation.
func (m *Metrics) RecordViolation(severity, standard string) {
	if m == nil {
		return
	}
	m.ViolationsTotal.WithLabelValues(severity, standard).Inc()
}

// RecordAuditWriteFailure counts one swallowed audit persistence error.
func (m *Metrics) RecordAuditWriteFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

// RecordConsentWriteFailure counts one consent persistence error.
func (m *Metrics) RecordConsentWriteFailure() {
	if m == nil {
		return
	}
	m.ConsentWriteFailures.Inc()
}

// RecordRetentionAction counts one applied retention action.
func (m *Metrics) RecordRetentionAction(action string) {
	if m == nil {
		return
	}
	m.RetentionActions.WithLabelValues(action).Inc()
}

// RecordRetentionFailure counts one failed per-record retention action.
func (m *Metrics) RecordRetentionFailure() {
	if m == nil {
		return
	}
	m.RetentionFailures.Inc()
}

// ObserveSweep records a sweep duration in seconds.
func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}
