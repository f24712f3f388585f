package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/utils"
)

const upsertStationSQL = `INSERT INTO weather.stations (station_id, station_name, station_timezone, station_latitude, station_longitude, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (station_id) DO UPDATE
SET station_name = EXCLUDED.station_name,
    station_timezone = EXCLUDED.station_timezone,
    station_latitude = EXCLUDED.station_latitude,
    station_longitude = EXCLUDED.station_longitude,
    updated_at = NOW()`

// Placeholder row so measurements for a station whose metadata never arrived keep
// the foreign key intact. Existing metadata is left alone.
const ensureStationSQL = `INSERT INTO weather.stations (station_id, created_at, updated_at)
VALUES ($1,NOW(),NOW())
ON CONFLICT (station_id) DO NOTHING`

const upsertMeasurementSQL = `INSERT INTO weather.measurements (station_id, measured_at, temperature, humidity, wind_speed, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (station_id, measured_at) DO UPDATE
SET temperature = EXCLUDED.temperature,
    humidity = EXCLUDED.humidity,
    wind_speed = EXCLUDED.wind_speed,
    updated_at = NOW()`

// PostgresStore is the production store backed by a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	logger *slog.Logger
}

// OpenPostgres creates the pool and pings the server.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return NewPostgres(pool, logger), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, sqlDB: stdlib.OpenDBFromPool(pool), logger: logger}
}

// UpsertStations inserts/updates station metadata records.
func (s *PostgresStore) UpsertStations(ctx context.Context, stations []models.Station) (int, error) {
	if len(stations) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, st := range stations {
		batch.Queue(upsertStationSQL, st.ID, st.Name, st.Timezone, st.Latitude, st.Longitude)
	}

	if err := s.sendInTx(ctx, batch); err != nil {
		return 0, fmt.Errorf("upsert stations: %w", err)
	}

	s.logger.Info("stations upserted", "rows", len(stations))
	return len(stations), nil
}

// UpsertMeasurements inserts/updates measurements, creating placeholder stations
// for unknown ids in the same transaction.
func (s *PostgresStore) UpsertMeasurements(ctx context.Context, measurements []models.Measurement) (int, error) {
	if len(measurements) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, id := range utils.StationIDs(measurements) {
		batch.Queue(ensureStationSQL, id)
	}
	for _, m := range measurements {
		batch.Queue(upsertMeasurementSQL, m.StationID, m.Timestamp, m.Temperature, m.Humidity, m.WindSpeed)
	}

	if err := s.sendInTx(ctx, batch); err != nil {
		return 0, fmt.Errorf("upsert measurements: %w", err)
	}

	s.logger.Info("measurements upserted", "rows", len(measurements))
	return len(measurements), nil
}

func (s *PostgresStore) sendInTx(ctx context.Context, batch *pgx.Batch) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		// No-op once committed.
		_ = tx.Rollback(ctx)
	}()

	res := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			_ = res.Close()
			return err
		}
	}
	if err := res.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) DB() *sql.DB { return s.sqlDB }

func (s *PostgresStore) Dialect() string { return DialectPostgres }

// Pool exposes the pgx pool for read paths.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool resources.
func (s *PostgresStore) Close() error {
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
