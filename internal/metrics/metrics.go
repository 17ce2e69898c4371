// Package metrics defines the gateway's injected Prometheus counters and
// gauges. It never self-registers an HTTP handler: exposition is an
// out-of-scope concern for whatever external collaborator owns routing
// (mirrors the teacher's middleware/monitoring.go collector shape, minus the
// promhttp wiring).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-support-gateway/internal/escalation"
)

// Metrics holds every counter/gauge the gateway records. It implements
// escalation.DeliveryMetrics and dispatch.RoutingMetrics; it does not
// implement reaction.Recorder.
type Metrics struct {
	UnknownRoutingActionTotal       *prometheus.CounterVec
	EscalationDeliveryTotal         *prometheus.CounterVec
	EscalationClaimConflictTotal    prometheus.Counter
	EscalationTransitionsTotal      *prometheus.CounterVec
	IndexRebuildTotal               *prometheus.CounterVec
	FollowupStartedTotal            prometheus.Counter
	ResilientRetrieverFallbackTotal prometheus.Counter
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UnknownRoutingActionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unknown_routing_action_total",
				Help: "Responses whose routing_action was empty or unrecognized and fell open to auto_send.",
			},
			[]string{"routing_action"},
		),
		EscalationDeliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escalation_delivery_total",
				Help: "Staff-response deliveries by channel and outcome (sent/unsent/error/no_channel/no_target).",
			},
			[]string{"channel", "outcome"},
		),
		EscalationClaimConflictTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escalation_claim_conflict_total",
				Help: "Escalation claim attempts rejected because another staff member already holds the claim.",
			},
		),
		EscalationTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escalation_transitions_total",
				Help: "Escalation state machine transitions by target status.",
			},
			[]string{"status"},
		),
		IndexRebuildTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_rebuild_total",
				Help: "Index manager rebuild attempts by outcome (rebuilt/skipped/error).",
			},
			[]string{"outcome"},
		),
		FollowupStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "followup_started_total",
				Help: "Feedback follow-up prompts successfully sent.",
			},
		),
		ResilientRetrieverFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resilient_retriever_fallback_total",
				Help: "Times the resilient retriever switched from primary to fallback.",
			},
		),
	}

	reg.MustRegister(
		m.UnknownRoutingActionTotal,
		m.EscalationDeliveryTotal,
		m.EscalationClaimConflictTotal,
		m.EscalationTransitionsTotal,
		m.IndexRebuildTotal,
		m.FollowupStartedTotal,
		m.ResilientRetrieverFallbackTotal,
	)
	return m
}

// RecordUnknownRoutingAction implements dispatch.RoutingMetrics.
func (m *Metrics) RecordUnknownRoutingAction(routingAction string) {
	label := routingAction
	if label == "" {
		label = "(empty)"
	}
	m.UnknownRoutingActionTotal.WithLabelValues(label).Inc()
}

// RecordEscalationDelivery implements escalation.DeliveryMetrics.
func (m *Metrics) RecordEscalationDelivery(channelID, outcome string) {
	m.EscalationDeliveryTotal.WithLabelValues(channelID, outcome).Inc()
}

var _ escalation.DeliveryMetrics = (*Metrics)(nil)

// RecordClaimConflict counts a rejected claim attempt. Called by whatever
// external collaborator exposes Service.Claim over its transport (out of
// scope here), on observing escalation.ErrClaimConflict.
func (m *Metrics) RecordClaimConflict() {
	m.EscalationClaimConflictTotal.Inc()
}

// RecordEscalationTransition counts a state machine transition by its
// resulting status.
func (m *Metrics) RecordEscalationTransition(status string) {
	m.EscalationTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordIndexRebuild counts an index manager rebuild attempt by outcome.
func (m *Metrics) RecordIndexRebuild(outcome string) {
	m.IndexRebuildTotal.WithLabelValues(outcome).Inc()
}

// RecordFollowupStarted counts a successfully sent feedback follow-up prompt.
func (m *Metrics) RecordFollowupStarted() {
	m.FollowupStartedTotal.Inc()
}

// RecordResilientRetrieverFallback counts a primary-to-fallback switch.
func (m *Metrics) RecordResilientRetrieverFallback() {
	m.ResilientRetrieverFallbackTotal.Inc()
}
