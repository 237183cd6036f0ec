// Package config loads the assistant configuration from the environment.
// Invalid values fall back to defaults rather than aborting startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full assistant configuration.
type Configuration struct {
	Service       ServiceConfig
	Socket        SocketConfig
	Capture       CaptureConfig
	Endpoint      EndpointConfig
	Session       SessionConfig
	Audio         AudioConfig
	Database      DatabaseConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Principal string
	Env       string
}

// SocketConfig points at the assistant backend.
type SocketConfig struct {
	URL string
}

// CaptureConfig holds microphone take tunables.
type CaptureConfig struct {
	SampleRate      int
	FrameSize       int
	MaxTakeDuration time.Duration
}

// EndpointConfig holds the silence detector tunables.
type EndpointConfig struct {
	RMSThreshold  float64
	SilenceWindow time.Duration
	Debounce      time.Duration
}

// SessionConfig holds conversation loop tunables.
type SessionConfig struct {
	GraceDelay     time.Duration
	PersistTimeout time.Duration
}

// AudioConfig selects the platform audio commands.
type AudioConfig struct {
	FFmpegCommand string
	FFplayCommand string
	InputFormat   string
	InputDevice   string
}

// DatabaseConfig holds the reservation store settings.
type DatabaseConfig struct {
	Enabled bool
	DSN     string
}

// KafkaConfig holds the event feed settings.
type KafkaConfig struct {
	Enabled          bool
	Brokers          []string
	TopicTranscript  string
	TopicReservation string
	Principal        string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsAddr string
}

// Load reads the configuration from the environment.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-reservation")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			Env:       envOrDefault("ENV", ""),
		},
		Socket: SocketConfig{
			URL: envOrDefault("SOCKET_URL", "ws://localhost:8000/ws"),
		},
		Capture: CaptureConfig{
			SampleRate:      envOrDefaultInt("CAPTURE_SAMPLE_RATE", 16000),
			FrameSize:       envOrDefaultInt("CAPTURE_FRAME_SIZE", 2048),
			MaxTakeDuration: envOrDefaultDuration("CAPTURE_MAX_TAKE_DURATION", 15*time.Second),
		},
		Endpoint: EndpointConfig{
			RMSThreshold:  envOrDefaultFloat("ENDPOINT_RMS_THRESHOLD", 0.015),
			SilenceWindow: envOrDefaultDuration("ENDPOINT_SILENCE_WINDOW", 1600*time.Millisecond),
			Debounce:      envOrDefaultDuration("ENDPOINT_DEBOUNCE", 400*time.Millisecond),
		},
		Session: SessionConfig{
			GraceDelay:     envOrDefaultDuration("SESSION_GRACE_DELAY", time.Second),
			PersistTimeout: envOrDefaultDuration("SESSION_PERSIST_TIMEOUT", 5*time.Second),
		},
		Audio: AudioConfig{
			FFmpegCommand: envOrDefault("AUDIO_FFMPEG_COMMAND", "ffmpeg"),
			FFplayCommand: envOrDefault("AUDIO_FFPLAY_COMMAND", "ffplay"),
			InputFormat:   envOrDefault("AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:   envOrDefault("AUDIO_INPUT_DEVICE", "default"),
		},
		Database: DatabaseConfig{
			Enabled: envOrDefaultBool("DATABASE_ENABLED", false),
			DSN:     envOrDefault("DATABASE_DSN", "postgres://localhost:5432/reservations"),
		},
		Kafka: KafkaConfig{
			Enabled:          envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:          envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTranscript:  envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "conversation.transcript"),
			TopicReservation: envOrDefault("KAFKA_TOPIC_RESERVATION", "reservation.attempts"),
			Principal:        envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
