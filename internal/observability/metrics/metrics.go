// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_reservation"

// Metrics holds all Prometheus metrics for the assistant.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Capture metrics
	CapturesStarted  prometheus.Counter
	CapturesFinished *prometheus.CounterVec
	CaptureDuration  prometheus.Histogram
	CaptureBytes     prometheus.Counter
	PermissionErrors prometheus.Counter

	// Playback metrics
	PlaybackSegments   prometheus.Counter
	PlaybackErrors     prometheus.Counter
	PlaybackQueueDepth prometheus.Gauge

	// Connection metrics
	ConnectsTotal    prometheus.Counter
	DisconnectsTotal prometheus.Counter
	ConnectionErrors prometheus.Counter

	// Message metrics
	MessagesReceived   *prometheus.CounterVec
	AudioBytesSent     prometheus.Counter
	AudioBytesReceived prometheus.Counter

	// Reservation metrics
	ReservationAttempts *prometheus.CounterVec
	ReservationLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of conversation sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active conversation sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of conversation sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		// Capture metrics
		CapturesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_started_total",
			Help:      "Total number of microphone takes started",
		}),
		CapturesFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_finished_total",
			Help:      "Total number of microphone takes finished",
		}, []string{"reason"}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of microphone takes in seconds",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15, 20},
		}),
		CaptureBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Total PCM bytes captured from the microphone",
		}),
		PermissionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_errors_total",
			Help:      "Total number of microphone permission failures",
		}),

		// Playback metrics
		PlaybackSegments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Total number of audio segments played",
		}),
		PlaybackErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_errors_total",
			Help:      "Total number of audio segments that failed to play",
		}),
		PlaybackQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Number of audio segments waiting to play",
		}),

		// Connection metrics
		ConnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of websocket connections established",
		}),
		DisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total number of websocket disconnects",
		}),
		ConnectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Total number of websocket connection failures",
		}),

		// Message metrics
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of control messages received",
		}, []string{"type"}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the assistant backend",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from the assistant backend",
		}),

		// Reservation metrics
		ReservationAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_attempts_total",
			Help:      "Total number of reservation persistence attempts",
		}, []string{"outcome"}),
		ReservationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_latency_seconds",
			Help:      "Reservation persistence latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new conversation session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a conversation session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordCaptureStarted records a microphone take starting.
func (m *Metrics) RecordCaptureStarted() {
	m.CapturesStarted.Inc()
}

// RecordCaptureFinished records a microphone take finishing.
func (m *Metrics) RecordCaptureFinished(reason string, durationSeconds float64, pcmBytes int) {
	m.CapturesFinished.WithLabelValues(reason).Inc()
	m.CaptureDuration.Observe(durationSeconds)
	m.CaptureBytes.Add(float64(pcmBytes))
}

// RecordPermissionError records a microphone permission failure.
func (m *Metrics) RecordPermissionError() {
	m.PermissionErrors.Inc()
}

// RecordPlaybackSegment records one playback attempt.
func (m *Metrics) RecordPlaybackSegment(err error) {
	m.PlaybackSegments.Inc()
	if err != nil {
		m.PlaybackErrors.Inc()
	}
}

// SetPlaybackQueueDepth records the number of segments waiting to play.
func (m *Metrics) SetPlaybackQueueDepth(depth int) {
	m.PlaybackQueueDepth.Set(float64(depth))
}

// RecordConnect records a websocket connection being established.
func (m *Metrics) RecordConnect() {
	m.ConnectsTotal.Inc()
}

// RecordDisconnect records a websocket disconnect.
func (m *Metrics) RecordDisconnect() {
	m.DisconnectsTotal.Inc()
}

// RecordConnectionError records a websocket connection failure.
func (m *Metrics) RecordConnectionError() {
	m.ConnectionErrors.Inc()
}

// RecordMessageReceived records a control message received from the backend.
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordAudioSent records audio bytes sent to the backend.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordAudioReceived records audio bytes received from the backend.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordReservationAttempt records one reservation persistence attempt.
func (m *Metrics) RecordReservationAttempt(success bool, latencySeconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.ReservationAttempts.WithLabelValues(outcome).Inc()
	m.ReservationLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
