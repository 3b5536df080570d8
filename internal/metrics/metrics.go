// Package metrics exposes Prometheus counters for cart synchronization.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values.
const (
	ModeGuest         = "guest"
	ModeAuthenticated = "authenticated"

	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
)

var (
	namespace = "cart"

	mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Cart mutations by mode, operation and outcome",
		},
		[]string{"mode", "op", "outcome"},
	)

	fallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Authenticated operations that fell back to guest mode after an expired session",
		},
	)

	merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Guest-to-server cart merges at login by outcome",
		},
		[]string{"outcome"},
	)

	handoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Logout cart handoffs by outcome",
		},
		[]string{"outcome"},
	)

	persistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_writes_total",
			Help:      "Guest cart writes to local storage by outcome",
		},
		[]string{"outcome"},
	)

	subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Live cart feed subscriptions",
		},
	)
)

// Mutation records one Add/Remove/UpdateQuantity/Clear.
func Mutation(mode, op, outcome string) {
	mutations.WithLabelValues(mode, op, outcome).Inc()
}

// Fallback records a guest fallback after an Unauthorized response.
func Fallback() {
	fallbacks.Inc()
}

// Merge records a login merge outcome.
func Merge(outcome string) {
	merges.WithLabelValues(outcome).Inc()
}

// Handoff records a logout handoff outcome.
func Handoff(outcome string) {
	handoffs.WithLabelValues(outcome).Inc()
}

// PersistWrite records a guest store write.
func PersistWrite(err error) {
	if err != nil {
		persistWrites.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	persistWrites.WithLabelValues(OutcomeSuccess).Inc()
}

// SubscriberAdded and SubscriberRemoved track live feed subscriptions.
func SubscriberAdded()   { subscribers.Inc() }
func SubscriberRemoved() { subscribers.Dec() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
