package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Store persists stations and measurements with keyed, idempotent upserts. Each
// call is one transaction: the whole batch lands or none of it does. The returned
// count is the number of rows attempted.
type Store interface {
	UpsertStations(ctx context.Context, stations []models.Station) (int, error)
	UpsertMeasurements(ctx context.Context, measurements []models.Measurement) (int, error)
	// DB exposes a database/sql handle for migrations.
	DB() *sql.DB
	Dialect() string
	Close() error
}

// Options selects and configures the backend.
type Options struct {
	Driver     string
	DSN        string
	SQLitePath string
	MaxConns   int32
	DryRun     bool
	Logger     *slog.Logger
}

// Open connects to the configured backend and verifies connectivity.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case "", DialectPostgres:
		store, err = OpenPostgres(ctx, opts.DSN, opts.MaxConns, logger)
	case DialectSQLite:
		store, err = OpenSQLite(ctx, opts.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return NewDryRun(store, logger), nil
	}
	return store, nil
}
