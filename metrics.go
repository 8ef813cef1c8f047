package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestsCreated  prometheus.Counter
	Decisions        *prometheus.CounterVec
	AlreadyProcessed prometheus.Counter
	PartialFailures  prometheus.Counter
	Notifications    *prometheus.CounterVec
	LoginAttempts    *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "activation",
			Name:      "requests_created_total",
			Help:      "Activation requests written to the ledger.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "activation",
			Name:      "decisions_total",
			Help:      "Activation decisions persisted, by action.",
		}, []string{"action"}),
		AlreadyProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "activation",
			Name:      "already_processed_total",
			Help:      "Decisions refused because the request was no longer pending.",
		}),
		PartialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "activation",
			Name:      "partial_failures_total",
			Help:      "Accounts activated whose ledger entry could not be resolved.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Notification dispatch attempts, by template and result.",
		}, []string{"template", "result"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthapp",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsCreated,
			m.Decisions,
			m.AlreadyProcessed,
			m.PartialFailures,
			m.Notifications,
			m.LoginAttempts,
		)
	}
	return m
}

func (m *Metrics) requestCreated() {
	if m == nil {
		return
	}
	m.RequestsCreated.Inc()
}

func (m *Metrics) decision(action ActivationAction) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) alreadyProcessed() {
	if m == nil {
		return
	}
	m.AlreadyProcessed.Inc()
}

func (m *Metrics) partialFailure() {
	if m == nil {
		return
	}
	m.PartialFailures.Inc()
}

func (m *Metrics) notificationSent(t NotificationTemplate) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(string(t), "sent").Inc()
}

func (m *Metrics) notificationFailed(t NotificationTemplate) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(string(t), "failed").Inc()
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}
