package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the battle platform backend.
//
// Naming convention: namespace_subsystem_name
// - namespace: bitwar (application-level grouping)
// - subsystem: websocket, room, battle, judge, bus, ratelimit, reaper
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, breaker state)
// - Counter: Cumulative events (submissions, errors)
// - Histogram: Latency distributions (judge round-trips)

var (
	// ActiveWebSocketConnections tracks the current number of open sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bitwar",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// WebsocketEvents tracks processed intents and delivered events.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent handling one inbound frame.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bitwar",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// FramesDropped counts outbound frames discarded on slow clients.
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "websocket",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped because a client send buffer was full",
	})

	// ActiveRooms tracks rooms currently held open by this instance.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bitwar",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with live lobby connections",
	})

	// RoomParticipants tracks connected sockets per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bitwar",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of connected participants in each room",
	}, []string{"room_id"})

	// RoomOperations counts lifecycle operations by outcome.
	RoomOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "room",
		Name:      "operations_total",
		Help:      "Room lifecycle operations (create, join, leave, kick, start, close)",
	}, []string{"operation", "status"})

	// Submissions counts judged submissions by language and verdict.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "battle",
		Name:      "submissions_total",
		Help:      "Code submissions judged, by language and verdict",
	}, []string{"language", "verdict"})

	// BattlesCompleted counts terminal battle transitions by cause.
	BattlesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "battle",
		Name:      "completed_total",
		Help:      "Battles completed, by cause (winners, timeout)",
	}, []string{"cause"})

	// JudgeRequests counts individual test case executions sent to the judge.
	JudgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "judge",
		Name:      "requests_total",
		Help:      "Judge executions, by outcome",
	}, []string{"status"})

	// JudgeRequestDuration tracks judge round-trip latency per test case.
	JudgeRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bitwar",
		Subsystem: "judge",
		Name:      "request_seconds",
		Help:      "Judge execution round-trip time",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	})

	// BusEventsPublished counts events handed to the bus.
	BusEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events published to the room event bus",
	}, []string{"event"})

	// BusEventsDropped counts events that never reached other pods.
	BusEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Cross-pod publishes dropped, by reason",
	}, []string{"reason"})

	// CircuitBreakerState exposes each breaker's state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bitwar",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts calls rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "breaker",
		Name:      "failures_total",
		Help:      "Calls rejected because a circuit breaker was open",
	}, []string{"name"})

	// RateLimitRequests counts requests checked against a limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests checked against rate limits, by limiter",
	}, []string{"limiter"})

	// RateLimitExceeded counts requests rejected by a limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by rate limits, by limiter",
	}, []string{"limiter"})

	// RoomsReaped counts rooms removed by the background reaper.
	RoomsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bitwar",
		Subsystem: "reaper",
		Name:      "rooms_reaped_total",
		Help:      "Rooms purged by the reaper, by reason (scheduled, stale_active, stale_playing)",
	}, []string{"reason"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
