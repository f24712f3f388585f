package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/02loveslollipop/station-watcher/internal/logging"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/db"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/migrate"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/nws"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/pipeline"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/scheduler"
)

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatalf("watcher failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{
		AppName: "station-watcher",
		AppEnv:  cfg.AppEnv,
		Version: version,
		Level:   level,
		Output:  os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, db.Options{
		Driver:     cfg.Driver,
		DSN:        cfg.DatabaseDSN,
		SQLitePath: cfg.SQLitePath,
		DryRun:     cfg.DryRun,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Migrate {
		if _, err := migrate.Run(ctx, store.DB(), store.Dialect(), logger); err != nil {
			return err
		}
	}

	client, err := nws.New(nws.Config{
		BaseURL:          cfg.BaseURL,
		UserAgent:        cfg.UserAgent,
		MaxRetries:       cfg.MaxRetries,
		FailureWait:      cfg.FailureWait,
		NewRequestWait:   cfg.NewRequestWait,
		BreakerThreshold: cfg.BreakerThreshold,
	}, &http.Client{Timeout: cfg.RequestTimeout}, logger)
	if err != nil {
		return err
	}

	policy := pipeline.PhaseScoped
	if cfg.ChainBootstrapFailures {
		policy = pipeline.ChainAll
	}
	p, err := pipeline.New(client, store, pipeline.Settings{
		Stations:      cfg.Stations,
		RecurrentWait: cfg.RecurrentWait,
		Lookback:      cfg.Lookback,
		MaxRunTime:    cfg.MaxRunTime,
		Policy:        policy,
	}, logger)
	if err != nil {
		return err
	}

	runOnce := func(ctx context.Context) error {
		summary, err := p.Run(ctx, runOptions(cfg)...)
		if err != nil {
			return err
		}
		return printSummary(os.Stdout, summary)
	}

	if cfg.Schedule == "" {
		return runOnce(ctx)
	}

	s, err := scheduler.New(cfg.Schedule, runOnce, logger)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runOptions maps the static date bounds onto a run. Without END_DATE every
// scheduled run ends at its own start time.
func runOptions(cfg config.Config) []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithMaxRunTime(cfg.MaxRunTime)}
	if cfg.StartDate != nil {
		opts = append(opts, pipeline.WithStartDate(*cfg.StartDate))
	}
	if cfg.EndDate != nil {
		opts = append(opts, pipeline.WithEndDate(*cfg.EndDate))
	}
	return opts
}

// printSummary writes the run summary as one JSON document. Logs go to stderr,
// so w carries nothing else.
func printSummary(w io.Writer, s pipeline.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
