package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// StoreLatency records room store latency by backend and operation.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boardroom_store_latency_seconds",
		Help:    "Room store call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver", "operation"})

	// StoreErrors counts failed room store calls.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_store_errors_total",
		Help: "Total number of failed room store calls",
	}, []string{"driver", "operation"})

	// RoomsActive is the gauge of live room actors by kind.
	RoomsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "boardroom_rooms_active",
		Help: "Number of live room actors",
	}, []string{"kind"})

	// RoomEvents counts events processed by room actors.
	RoomEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_room_events_total",
		Help: "Total room events processed by kind and event",
	}, []string{"kind", "event"})

	// Moves counts move requests by outcome.
	Moves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_moves_total",
		Help: "Total move requests by result",
	}, []string{"result"})

	// Matches counts lobby pairings.
	Matches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardroom_matches_total",
		Help: "Total number of lobby matches",
	})

	// QueueDepth is the current lobby queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardroom_queue_depth",
		Help: "Number of clients waiting in the lobby",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardroom_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MessagesRateLimited counts inbound frames dropped by flood control.
	MessagesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardroom_messages_rate_limited_total",
		Help: "Total inbound WebSocket frames dropped by rate limiting",
	})

	// FeedEvents counts messages received from the Redis room feed by kind
	// (lobby, game, match).
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardroom_feed_events_total",
		Help: "Total room feed messages received over Redis pub/sub",
	}, []string{"kind"})
)

// TrackStore returns a function that records store latency when called (e.g. defer).
func TrackStore(driver, operation string) func() {
	start := time.Now()
	return func() {
		StoreLatency.WithLabelValues(driver, operation).Observe(time.Since(start).Seconds())
	}
}
