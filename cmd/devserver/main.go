// Command devserver runs the scripted assistant backend: the conversation
// websocket, the reservations API and health probes.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-reservation-assistant/internal/app"
	"voice-reservation-assistant/internal/config"
	"voice-reservation-assistant/internal/devserver"
	apihttp "voice-reservation-assistant/internal/http"
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

	store := reservations.Store(reservations.NewLogStore(logging.WithComponent("reservations")))
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := reservations.NewPostgres(ctx, cfg.Database.DSN, logging.WithComponent("reservations"))
		if err == nil {
			if err = pg.EnsureSchema(ctx); err != nil {
				pg.Close()
			}
		}
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("database unavailable, using log-only store")
		} else {
			defer pg.Close()
			store = pg
		}
	}

	backend := devserver.New(nil, logging.WithComponent("devserver"))
	router := apihttp.NewRouter(store, backend.Handler(), logging.WithComponent("http"))

	addr := addrFromEnv()
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("development backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down development backend")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	_ = obs.Shutdown(ctx)
	application.Shutdown()
}

func addrFromEnv() string {
	if v := os.Getenv("DEVSERVER_ADDR"); v != "" {
		return v
	}
	return ":8000"
}
