// Package metrics defines the Prometheus collectors exposed by CarePath.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts processed conversation turns by outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carepath",
		Name:      "messages_processed_total",
		Help:      "Conversation turns processed, labeled by outcome.",
	}, []string{"outcome"})

	// CrisesDetected counts crisis classifications by severity.
	CrisesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carepath",
		Name:      "crises_detected_total",
		Help:      "Messages classified as a crisis, labeled by severity.",
	}, []string{"severity"})

	// EscalationsCompleted counts escalation subflows reaching a terminal step.
	EscalationsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carepath",
		Name:      "escalations_total",
		Help:      "Escalation subflows reaching a terminal step, labeled by step.",
	}, []string{"step"})

	// ExternalServiceFaults counts collaborator call failures by service.
	ExternalServiceFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carepath",
		Name:      "external_service_faults_total",
		Help:      "External collaborator call failures, labeled by service.",
	}, []string{"service"})

	// SafetyGateLatency observes crisis classification latency in seconds.
	SafetyGateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carepath",
		Name:      "safety_gate_latency_seconds",
		Help:      "Latency of the crisis classification scan.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
)
