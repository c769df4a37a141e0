package observability

import (
	"sync"
	"time"

	"github.com/lexiqai/voice-intake/internal/audio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_intake_active_calls",
		Help: "Number of active bridged calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_intake_calls_total",
		Help: "Total number of calls bridged",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_intake_call_duration_seconds",
		Help:    "Duration of bridged calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	})

	callsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_calls_completed_total",
		Help: "Calls by how they ended",
	}, []string{"reason"}) // reason: stop, disconnect, model_closed, error, shutdown

	// Audio relay metrics
	audioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_audio_frames_total",
		Help: "Audio frames relayed",
	}, []string{"direction"}) // direction: "in" (caller->model) or "out" (model->caller)

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_audio_payload_bytes_total",
		Help: "Base64 audio payload bytes relayed",
	}, []string{"direction"})

	audioSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_audio_seconds_total",
		Help: "Seconds of mu-law audio relayed",
	}, []string{"direction"})

	bargeIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_barge_ins_total",
		Help: "Caller speech-started events, by whether playback was interrupted",
	}, []string{"action"}) // action: interrupted, ignored

	truncatedAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_intake_truncate_audio_end_ms",
		Help:    "Milliseconds of assistant audio kept when a response is truncated",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
	})

	// Model channel metrics
	modelEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_model_events_total",
		Help: "Realtime model events received, by type",
	}, []string{"type"})

	// Tool metrics
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_tool_calls_total",
		Help: "Function calls dispatched, by function and outcome",
	}, []string{"function", "outcome"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_intake_tool_latency_seconds",
		Help:    "Function call latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"function"})

	emailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_confirmation_emails_total",
		Help: "Confirmation email attempts by status",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_intake_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_intake_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID    string
	startTime time.Time
	endOnce   sync.Once
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call. Only the first call has an effect.
func (m *Metrics) RecordCallEnd(reason string) {
	m.endOnce.Do(func() {
		activeCalls.Dec()
		callDuration.Observe(time.Since(m.startTime).Seconds())
		callsCompleted.WithLabelValues(reason).Inc()
	})
}

// RecordAudioFrame records one relayed base64 audio frame
func (m *Metrics) RecordAudioFrame(direction, payload string) {
	audioFrames.WithLabelValues(direction).Inc()
	audioBytes.WithLabelValues(direction).Add(float64(len(payload)))
	audioSeconds.WithLabelValues(direction).Add(audio.PayloadDuration(payload).Seconds())
}

// RecordBargeIn records a speech-started event and whether it cut playback
func (m *Metrics) RecordBargeIn(interrupted bool, audioEndMs int64) {
	if !interrupted {
		bargeIns.WithLabelValues("ignored").Inc()
		return
	}
	bargeIns.WithLabelValues("interrupted").Inc()
	truncatedAudio.Observe(float64(audioEndMs))
}

// RecordModelEvent counts an inbound realtime event
func (m *Metrics) RecordModelEvent(eventType string) {
	modelEvents.WithLabelValues(eventType).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error not tied to a call
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordToolCall records a dispatched function call
func RecordToolCall(function, outcome string, latency time.Duration) {
	toolCalls.WithLabelValues(function, outcome).Inc()
	toolLatency.WithLabelValues(function).Observe(latency.Seconds())
}

// RecordEmail records a confirmation email attempt
func RecordEmail(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	emailsSent.WithLabelValues(status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
