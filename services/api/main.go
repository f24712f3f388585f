package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/station-watcher/internal/logging"
	"github.com/02loveslollipop/station-watcher/services/api/config"
	"github.com/02loveslollipop/station-watcher/services/api/db"
	httpserver "github.com/02loveslollipop/station-watcher/services/api/http"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New(logging.Options{
		AppName: "station-api",
		AppEnv:  cfg.AppEnv,
		Version: version,
		Level:   level,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection error: %v", err)
	}
	defer store.Close()

	srv := httpserver.New(cfg, store, logger)
	logger.Info("REST API listening", "addr", cfg.ListenAddr())

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "err", err)
	}
}
