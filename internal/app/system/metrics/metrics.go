// Package metrics holds the Prometheus collectors of the session runtime.
//
// Collectors live on a private registry served by Handler, so tests and
// embedded uses do not collide with the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveplay"

// Registry is the registry every collector below is registered on.
var Registry = prometheus.NewRegistry()

var (
	// SessionsCreated counts created sessions.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Live sessions created.",
	})

	// Joins counts join attempts by outcome.
	Joins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "joins_total",
		Help:      "Participant join attempts by outcome.",
	}, []string{"outcome"})

	// Votes counts accepted votes.
	Votes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_total",
		Help:      "Votes cast or replaced.",
	})

	// BroadcastPublished counts events handed to local subscribers.
	BroadcastPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_published_total",
		Help:      "Realtime events delivered to subscriber queues.",
	})

	// BroadcastDropped counts events dropped because a subscriber queue was full.
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_dropped_total",
		Help:      "Realtime events dropped on full subscriber queues.",
	})

	// Subscribers is the number of connected realtime subscribers.
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broadcast_subscribers",
		Help:      "Connected realtime subscribers.",
	})

	// SweepAffected counts rows changed per sweeper step.
	SweepAffected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_affected_total",
		Help:      "Rows changed by the maintenance sweeper, by step.",
	}, []string{"step"})

	// SweepErrors counts failed sweeper steps.
	SweepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_errors_total",
		Help:      "Maintenance sweeper step failures, by step.",
	}, []string{"step"})

	// SweepDuration observes whole sweep passes.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of maintenance sweep passes.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SessionsCreated,
		Joins,
		Votes,
		BroadcastPublished,
		BroadcastDropped,
		Subscribers,
		SweepAffected,
		SweepErrors,
		SweepDuration,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
