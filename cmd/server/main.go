package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/hallwayfm/hallway/internal/adapters/http"
	sigadapter "github.com/hallwayfm/hallway/internal/adapters/signal"
	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/auth"
	"github.com/hallwayfm/hallway/internal/config"
	"github.com/hallwayfm/hallway/internal/hallway"
	"github.com/hallwayfm/hallway/internal/metrics"
	"github.com/hallwayfm/hallway/internal/rooms"
	"github.com/hallwayfm/hallway/internal/sfu"
	"github.com/hallwayfm/hallway/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	roomStore, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}

	registry := app.NewRegistry()
	notifier := sigadapter.NewSessionNotifier(registry)
	hall := hallway.NewBroadcaster(notifier)
	verifier := auth.NewVerifier(cfg.Secret)

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	engine := sfu.NewEngine(ctx, sfu.DefaultWebRTCConfig(), m)
	manager := rooms.NewManager(ctx, rooms.Deps{
		Store:    roomStore,
		Engine:   engine,
		Notifier: notifier,
		Registry: registry,
		Hallway:  hall,
		Policy:   app.SimplePolicy{},
		Metrics:  m,
	})
	engine.SetLevelSink(manager)

	ctl := sigadapter.NewController(registry, manager, engine, hall, verifier, sigadapter.Options{
		JoinRateLimit:  cfg.JoinRateLimit,
		JoinRateWindow: cfg.JoinRateWindow,
		CallTimeout:    cfg.CallTimeout,
		PingPeriod:     cfg.PingPeriod,
		ReadLimit:      cfg.ReadLimit,
	})

	r := router.SetupRouter(ctx, cfg, ctl, manager, verifier, promRegistry)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Hallway server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
