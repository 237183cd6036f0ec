// Command assistant runs the voice conversation engine against an assistant
// backend: it captures the caller's speech, streams it over the websocket,
// plays the replies and persists confirmed reservations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/app"
	"voice-reservation-assistant/internal/audio"
	"voice-reservation-assistant/internal/config"
	"voice-reservation-assistant/internal/engine/capture"
	"voice-reservation-assistant/internal/engine/conn"
	"voice-reservation-assistant/internal/engine/session"
	"voice-reservation-assistant/internal/engine/vad"
	"voice-reservation-assistant/internal/events"
	"voice-reservation-assistant/internal/models"
	"voice-reservation-assistant/internal/observability"
	"voice-reservation-assistant/internal/observability/logging"
	"voice-reservation-assistant/internal/reservations"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	logger := application.Logger
	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	obs := observability.NewServer(cfg.Observability.MetricsAddr)
	obs.Start()

	publisher := events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscript:  cfg.Kafka.TopicTranscript,
		TopicReservation: cfg.Kafka.TopicReservation,
		Principal:        cfg.Kafka.Principal,
	})
	defer publisher.Close()

	store := buildStore(cfg, logger)

	device := &audio.FFmpegDevice{
		Command:     cfg.Audio.FFmpegCommand,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Capture.SampleRate,
	}
	recorder := capture.NewController(device, capture.Config{
		SampleRate:      cfg.Capture.SampleRate,
		FrameSize:       cfg.Capture.FrameSize,
		MaxTakeDuration: cfg.Capture.MaxTakeDuration,
		Endpoint: vad.Config{
			Threshold:     cfg.Endpoint.RMSThreshold,
			SilenceWindow: cfg.Endpoint.SilenceWindow,
			Debounce:      cfg.Endpoint.Debounce,
		},
	}, logging.WithComponent("capture"))

	socket := conn.NewManager(cfg.Socket.URL, logging.WithComponent("socket"))
	player := &audio.FFplayPlayer{Command: cfg.Audio.FFplayCommand}

	ended := make(chan struct{}, 1)
	sink := session.MultiSink{
		&consoleSink{log: logger, ended: ended},
		events.NewSink(publisher),
	}

	sess := session.New(session.Config{
		GraceDelay:     cfg.Session.GraceDelay,
		PersistTimeout: cfg.Session.PersistTimeout,
	}, socket, recorder, player, store, sink, logging.WithComponent("session"))

	logger.Info().Str("url", cfg.Socket.URL).Msg("connecting to assistant backend")
	sess.Connect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info().Msg("signal received, hanging up")
		sess.Disconnect()
	case <-ended:
		logger.Info().Msg("conversation ended")
	}

	sess.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = obs.Shutdown(ctx)
	application.Shutdown()
}

func buildStore(cfg *config.Configuration, logger zerolog.Logger) session.Store {
	if !cfg.Database.Enabled {
		return reservations.NewLogStore(logging.WithComponent("reservations"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := reservations.NewPostgres(ctx, cfg.Database.DSN, logging.WithComponent("reservations"))
	if err != nil {
		logger.Warn().Err(err).Msg("database unavailable, falling back to log-only store")
		return reservations.NewLogStore(logger)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not ensure schema, falling back to log-only store")
		pg.Close()
		return reservations.NewLogStore(logger)
	}
	return pg
}

// consoleSink narrates the conversation to the process log and reports when
// the session is over.
type consoleSink struct {
	log   zerolog.Logger
	ended chan struct{}

	wasConnected bool
}

func (c *consoleSink) ConnectionStatusChanged(status conn.Status) {
	c.log.Info().Str("status", status.String()).Msg("connection")
	switch status {
	case conn.StatusConnected:
		c.wasConnected = true
	case conn.StatusDisconnected, conn.StatusError:
		if c.wasConnected {
			select {
			case c.ended <- struct{}{}:
			default:
			}
		}
	}
}

func (c *consoleSink) AgentStateChanged(state session.AgentState) {
	c.log.Info().Str("state", state.String()).Msg("agent")
}

func (c *consoleSink) TranscriptAppended(entry models.TranscriptEntry) {
	c.log.Info().Str("role", entry.Role).Str("text", entry.Content).Msg("transcript")
}

func (c *consoleSink) DraftUpdated(draft *models.ReservationDraft) {
	if draft == nil {
		return
	}
	c.log.Info().
		Str("name", draft.Name).
		Str("date", draft.Date).
		Str("time", draft.Time).
		Int("people", draft.PartySize).
		Msg("please review the reservation details")
}

func (c *consoleSink) OutcomeRecorded(outcome *models.ReservationOutcome) {
	if outcome == nil {
		return
	}
	if outcome.Success {
		c.log.Info().Int64("id", outcome.ID).Msg("reservation saved")
		return
	}
	c.log.Warn().Str("error", outcome.ErrorMessage).Msg("reservation failed")
}

func (c *consoleSink) PermissionAdvisory(reason string) {
	if reason == "" {
		c.log.Info().Msg("microphone available again")
		return
	}
	c.log.Warn().Str("reason", reason).Msg("microphone unavailable, check audio permissions")
}
