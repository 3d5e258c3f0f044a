package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics provides observability for the consent module.
// All methods are safe on a nil receiver.
type Metrics struct {
	Submissions           *prometheus.CounterVec
	SubmitRejections      *prometheus.CounterVec
	SubmitDuration        prometheus.Histogram
	StaleStates           *prometheus.CounterVec
	GateChecks            *prometheus.CounterVec
	PurposeVersionBumps   *prometheus.CounterVec
	Anonymizations        *prometheus.CounterVec
	AnonymizationDuration prometheus.Histogram
}

// New creates a Metrics instance registered with the default registry. Call once.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_submissions_total",
			Help: "Consent decisions recorded, by purpose and decision",
		}, []string{"purpose", "decision"}),
		SubmitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_submission_rejections_total",
			Help: "Consent submissions rejected, by error code",
		}, []string{"code"}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_submit_duration_seconds",
			Help:    "Duration of Submit operations including audit persistence",
			Buckets: latencyBuckets,
		}),
		StaleStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_stale_states_total",
			Help: "State reads that found consent recorded under an older purpose version",
		}, []string{"purpose"}),
		GateChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_gate_checks_total",
			Help: "Gating checks, by outcome",
		}, []string{"outcome"}),
		PurposeVersionBumps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_purpose_version_bumps_total",
			Help: "Purpose version bumps, by purpose",
		}, []string{"purpose"}),
		Anonymizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentledger_anonymizations_total",
			Help: "Anonymization requests, by outcome",
		}, []string{"outcome"}),
		AnonymizationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentledger_anonymization_duration_seconds",
			Help:    "Duration of subject anonymization",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncSubmission(purpose string, granted bool) {
	if m == nil {
		return
	}
	decision := "revoked"
	if granted {
		decision = "granted"
	}
	m.Submissions.WithLabelValues(purpose, decision).Inc()
}

func (m *Metrics) IncSubmitRejection(code string) {
	if m == nil {
		return
	}
	m.SubmitRejections.WithLabelValues(code).Inc()
}

// ObserveSubmit records the duration of a Submit call started at start.
func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncStaleState(purpose string) {
	if m == nil {
		return
	}
	m.StaleStates.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncGateCheck(blocking bool) {
	if m == nil {
		return
	}
	outcome := "pass"
	if blocking {
		outcome = "blocked"
	}
	m.GateChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncVersionBump(purpose string) {
	if m == nil {
		return
	}
	m.PurposeVersionBumps.WithLabelValues(purpose).Inc()
}

// IncAnonymization records an anonymization outcome: anonymized, already_anonymized,
// denied, conflict or error.
func (m *Metrics) IncAnonymization(outcome string) {
	if m == nil {
		return
	}
	m.Anonymizations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAnonymization(start time.Time) {
	if m == nil {
		return
	}
	m.AnonymizationDuration.Observe(time.Since(start).Seconds())
}
