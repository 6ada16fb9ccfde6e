package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_engine_session_active",
		Help: "Whether a dictation session is currently active (0 or 1)",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_engine_sessions_total",
		Help: "Total number of dictation sessions started",
	})

	// Audio metrics
	chunksFed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dictation_engine_audio_chunks_total",
		Help: "Total audio chunks fed into the aggregator",
	})

	audioLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_engine_audio_level_rms",
		Help: "RMS level of the most recent audio chunk",
	})

	// Backend metrics
	backendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_backend_calls_total",
		Help: "Total transcription backend calls",
	}, []string{"status"})

	backendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_engine_backend_latency_seconds",
		Help:    "Transcription backend call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Event metrics
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_events_total",
		Help: "Total events published on the bus",
	}, []string{"type"})

	// Injection metrics
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_engine_inject_queue_depth",
		Help: "Number of items waiting in the injection queue",
	})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_deliveries_total",
		Help: "Total edit deliveries to the sink",
	}, []string{"status"})

	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_engine_delivery_latency_seconds",
		Help:    "Time from recognition to sink delivery in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	droppedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_dropped_items_total",
		Help: "Recognition results dropped before delivery",
	}, []string{"reason"}) // reason: "low_confidence", "too_short", "queue_full"

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dictation_engine_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_engine_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SetSessionActive updates the active session gauge. Starting a session
// also bumps the session counter.
func SetSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
		sessionsTotal.Inc()
	} else {
		sessionActive.Set(0)
	}
}

// RecordChunkFed counts one ingested audio chunk
func RecordChunkFed() {
	chunksFed.Inc()
}

// SetAudioLevel updates the RMS level gauge
func SetAudioLevel(rms float64) {
	audioLevel.Set(rms)
}

// RecordBackendCall records one transcription call with its latency
func RecordBackendCall(status string, seconds float64) {
	backendCalls.WithLabelValues(status).Inc()
	backendLatency.Observe(seconds)
}

// RecordEvent counts one published event by type
func RecordEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// SetQueueDepth updates the injection queue depth gauge
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordDelivery counts one delivery attempt by outcome
func RecordDelivery(status string) {
	deliveries.WithLabelValues(status).Inc()
}

// RecordDeliveryLatency records recognition-to-delivery latency
func RecordDeliveryLatency(seconds float64) {
	deliveryLatency.Observe(seconds)
}

// RecordDroppedItem counts one result dropped before delivery
func RecordDroppedItem(reason string) {
	droppedItems.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
