package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/utils"
)

const sqliteNow = `strftime('%Y-%m-%dT%H:%M:%fZ','now')`

const sqliteUpsertStationSQL = `INSERT INTO stations (station_id, station_name, station_timezone, station_latitude, station_longitude)
VALUES (?,?,?,?,?)
ON CONFLICT (station_id) DO UPDATE
SET station_name = excluded.station_name,
    station_timezone = excluded.station_timezone,
    station_latitude = excluded.station_latitude,
    station_longitude = excluded.station_longitude,
    updated_at = ` + sqliteNow

const sqliteEnsureStationSQL = `INSERT INTO stations (station_id) VALUES (?)
ON CONFLICT (station_id) DO NOTHING`

const sqliteUpsertMeasurementSQL = `INSERT INTO measurements (station_id, measured_at, temperature, humidity, wind_speed)
VALUES (?,?,?,?,?)
ON CONFLICT (station_id, measured_at) DO UPDATE
SET temperature = excluded.temperature,
    humidity = excluded.humidity,
    wind_speed = excluded.wind_speed,
    updated_at = ` + sqliteNow

// SQLiteStore is a file-backed store for local runs. Timestamps are kept as UTC
// RFC3339Nano text.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and creates) the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn, err := buildSQLiteDSN(path)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(DialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// A single writer avoids "database is locked" and keeps :memory: databases on
	// one connection.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return NewSQLite(conn, logger), nil
}

// NewSQLite wraps an open handle.
func NewSQLite(conn *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: conn, logger: logger}
}

func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []models.Station) (int, error) {
	if len(stations) == 0 {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertStationSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, st := range stations {
			if _, err := stmt.ExecContext(ctx, st.ID, st.Name, st.Timezone, st.Latitude, st.Longitude); err != nil {
				return fmt.Errorf("station %s: %w", st.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert stations: %w", err)
	}

	s.logger.Info("stations upserted", "rows", len(stations))
	return len(stations), nil
}

func (s *SQLiteStore) UpsertMeasurements(ctx context.Context, measurements []models.Measurement) (int, error) {
	if len(measurements) == 0 {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range utils.StationIDs(measurements) {
			if _, err := tx.ExecContext(ctx, sqliteEnsureStationSQL, id); err != nil {
				return fmt.Errorf("ensure station %s: %w", id, err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, sqliteUpsertMeasurementSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range measurements {
			ts := m.Timestamp.UTC().Format(time.RFC3339Nano)
			if _, err := stmt.ExecContext(ctx, m.StationID, ts, m.Temperature, m.Humidity, m.WindSpeed); err != nil {
				return fmt.Errorf("measurement %s: %w", m.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert measurements: %w", err)
	}

	s.logger.Info("measurements upserted", "rows", len(measurements))
	return len(measurements), nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Dialect() string { return DialectSQLite }

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildSQLiteDSN(path string) (string, error) {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
	}

	if path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&"), nil
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	params = append(params, "_journal_mode=WAL")
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
