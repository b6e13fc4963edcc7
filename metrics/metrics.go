package metrics

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel metrics
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_connection_state",
		Help: "Current push-channel state (0=disconnected 1=connecting 2=connected 3=backoff 4=failed).",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_reconnect_attempts_total",
		Help: "The total number of transport reconnect attempts.",
	})
	ConnectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_connection_failures_total",
		Help: "The total number of times the channel reached the terminal failed state.",
	})
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_events_received_total",
		Help: "The total number of push events received, by event name.",
	}, []string{"event"})

	// Router metrics
	EventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_events_routed_total",
		Help: "The total number of push events delivered to the presentation sink.",
	}, []string{"event"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_events_dropped_total",
		Help: "The total number of push events discarded by the unit-scope filter.",
	})
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_notifications_sent_total",
		Help: "The total number of notifications surfaced to the operator.",
	})

	// Live view metrics
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_live_refreshes_total",
		Help: "The total number of periodic bulk refreshes, by result.",
	}, []string{"result"})
	PushDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_live_push_deltas_total",
		Help: "The total number of push deltas applied to live views, by kind.",
	}, []string{"kind"})
	OptimisticActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_optimistic_actions_total",
		Help: "The total number of optimistic actions resolved, by outcome.",
	}, []string{"outcome"})
	BreachedEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_sla_breached_entities",
		Help: "The current number of live entities past their SLA deadline.",
	})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
	}()
}
