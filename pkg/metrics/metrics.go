// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_accepted_total",
		Help: "Messages persisted with a newly assigned seq.",
	})

	MessagesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_deduplicated_total",
		Help: "Message resends collapsed onto an existing record by client_message_id.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_events_published_total",
		Help: "Domain events successfully written to the bus.",
	}, []string{"topic"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_events_dropped_total",
		Help: "Domain events lost to a publish failure.",
	}, []string{"topic"})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_presence_transitions_total",
		Help: "Presence upserts by resulting status.",
	}, []string{"status"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_connections_active",
		Help: "Currently open websocket sessions.",
	})
)
