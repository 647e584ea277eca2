package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sproutling/waterd/db"
	"github.com/sproutling/waterd/internal/api"
	"github.com/sproutling/waterd/internal/config"
	"github.com/sproutling/waterd/internal/datadog"
	"github.com/sproutling/waterd/internal/logging"
	"github.com/sproutling/waterd/internal/model"
	"github.com/sproutling/waterd/internal/notifications"
	"github.com/sproutling/waterd/internal/stats"
	"github.com/sproutling/waterd/internal/store"
	"github.com/sproutling/waterd/internal/watering"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("db_path", cfg.DBPath).
		Int("port", cfg.Port).
		Msg("Starting watering backend")

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer conn.Close()

	metrics := datadog.New(cfg.DDAgentAddr, cfg.DDNamespace, cfg.DDTags, cfg.EnableDatadog)
	notifier := notifications.New(cfg.NtfyTopic)

	loc := cfg.Location()
	agg := stats.New(conn, loc)

	defaults := model.WateringSettings{
		ThresholdPercent:   cfg.Watering.ThresholdPercent,
		DurationSeconds:    cfg.Watering.DurationSeconds,
		MinIntervalSeconds: cfg.Watering.MinIntervalSeconds,
		Enabled:            cfg.Watering.Enabled,
	}
	controller := watering.New(conn, agg, store.New(cfg.SettingsFile), defaults, metrics, notifier)
	if err := controller.Restore(); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore controller state")
	}

	server := api.NewServer(conn, agg, controller, loc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
	}

	log.Info().Msg("Watering backend stopped")
}
