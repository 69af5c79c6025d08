// Package metrics exposes the Prometheus counters served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagaRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_saga_runs_total",
		Help: "Child account creation saga runs by outcome",
	}, []string{"outcome"})

	SagaStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_saga_step_failures_total",
		Help: "Degraded or aborted saga steps by step name",
	}, []string{"step"})

	ReconcileEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_reconcile_events_total",
		Help: "Verification events seen by the reconciliation loop, by final state",
	}, []string{"state"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_webhook_events_total",
		Help: "Inbound provider webhook events by type",
	}, []string{"type"})
)
