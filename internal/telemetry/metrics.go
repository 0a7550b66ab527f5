package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grimnir_playback"

// Scheduler metrics.
var (
	SchedulerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cycles_total",
		Help:      "State machine cycles executed by the shared scheduler.",
	})

	SchedulerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cycle_duration_seconds",
		Help:      "Wall-clock time spent inside one cycle.",
		Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	SchedulerCycleOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cycle_overruns_total",
		Help:      "Cycles that exceeded the configured budget.",
	})

	SchedulerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "running",
		Help:      "Number of live scheduler goroutines (0 or 1 in steady state).",
	})

	SchedulerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Queued cycle runs.",
	})
)

// Playback metrics.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Decoders that have not completed shutdown.",
	})

	PlayStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "play_state_transitions_total",
		Help:      "PlayState changes.",
	}, []string{"from", "to"})

	EngineStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_state_transitions_total",
		Help:      "EngineState changes.",
	}, []string{"from", "to"})

	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_decoded_total",
		Help:      "Frames produced by decode workers.",
	}, []string{"kind"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped for arriving late.",
	}, []string{"kind"})

	BufferingEpisodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffering_episodes_total",
		Help:      "Transitions into the Buffering engine state.",
	})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Sessions torn down by a decode, resource or stall error.",
	}, []string{"reason"})

	AudioUnderruns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audio_underruns_total",
		Help:      "Underruns reported by audio sinks.",
	})
)

// Event bus metrics.
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Events published per backend.",
	}, []string{"backend", "event"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Events dropped because a subscriber was full.",
	}, []string{"backend"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Position store query latency.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Failed database operations.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_active",
		Help:      "Open connections in the pool.",
	})
)

// API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Open event stream websockets.",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
