// Package metrics holds the Prometheus collectors of the widget server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangesApplied counts change events handled by reconcilers.
	// outcome is "applied" or "noop".
	ChangesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firechat",
		Name:      "changes_applied_total",
		Help:      "Change feed events processed by widget reconcilers.",
	}, []string{"kind", "outcome"})

	// Requests counts store mutations issued by widgets.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firechat",
		Name:      "requests_total",
		Help:      "Store requests issued by widgets, by operation and result.",
	}, []string{"op", "result"})

	// SubscriptionErrors counts change feed transport errors.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firechat",
		Name:      "subscription_errors_total",
		Help:      "Errors reported by store subscriptions.",
	}, []string{"feed"})

	// Widgets is the number of connected widget clients.
	Widgets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "firechat",
		Name:      "widgets_connected",
		Help:      "Currently connected widget clients.",
	})
)

// Result labels a request outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
