package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps read-only access to the weather schema.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Station represents a station metadata record. Placeholder rows created before
// metadata arrived have only an ID.
type Station struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Timezone  *string   `json:"timezone,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const stationColumns = `station_id, station_name, station_timezone, station_latitude, station_longitude, created_at, updated_at`

const listStationsSQL = `
    SELECT ` + stationColumns + `
    FROM weather.stations
    ORDER BY station_id
`

const getStationSQL = `
    SELECT ` + stationColumns + `
    FROM weather.stations
    WHERE station_id = $1
`

func scanStation(row pgx.Row) (Station, error) {
	var st Station
	err := row.Scan(&st.ID, &st.Name, &st.Timezone, &st.Lat, &st.Lon, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// ListStations returns all station metadata.
func (s *Store) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]Station, 0)
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// GetStation returns nil when the station does not exist.
func (s *Store) GetStation(ctx context.Context, stationID string) (*Station, error) {
	st, err := scanStation(s.pool.QueryRow(ctx, getStationSQL, stationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Measurement is one observation row.
type Measurement struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"ts"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	WindSpeed   *float64  `json:"wind_speed,omitempty"`
}

// MeasurementQuery holds filters for retrieving measurements. With Limit set the
// newest Limit rows are returned, still in ascending order.
type MeasurementQuery struct {
	StationID string
	Limit     int
	Since     *time.Time
	Until     *time.Time
}

const measurementsBase = `
    SELECT station_id, measured_at, temperature, humidity, wind_speed
    FROM weather.measurements
    WHERE station_id = $1
`

// FetchMeasurements returns measurements for a station based on the query.
func (s *Store) FetchMeasurements(ctx context.Context, q MeasurementQuery) ([]Measurement, error) {
	query, args := buildMeasurementsQuery(q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	measurements := make([]Measurement, 0)
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.StationID, &m.Timestamp, &m.Temperature, &m.Humidity, &m.WindSpeed); err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

func buildMeasurementsQuery(q MeasurementQuery) (string, []any) {
	args := []any{q.StationID}
	clause := ""
	argPos := 2
	if q.Since != nil {
		clause += " AND measured_at >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		clause += " AND measured_at <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}

	if q.Limit <= 0 {
		return measurementsBase + clause + " ORDER BY measured_at", args
	}

	args = append(args, q.Limit)
	inner := measurementsBase + clause + " ORDER BY measured_at DESC LIMIT $" + strconv.Itoa(argPos)
	return "SELECT * FROM (" + inner + ") newest ORDER BY measured_at", args
}

// WeeklySummary is one row of weather.station_weekly_summary.
type WeeklySummary struct {
	StationID         string    `json:"station_id"`
	StationName       *string   `json:"station_name,omitempty"`
	WeekStart         time.Time `json:"week_start"`
	AvgTemperature    *float64  `json:"avg_temperature"`
	WeekReadings      int64     `json:"week_readings"`
	MaxWindSpeedDelta *float64  `json:"max_wind_speed_delta"`
}

const weeklySummarySQL = `
    SELECT station_id, station_name, week_start, avg_temperature, week_readings, max_wind_speed_delta
    FROM weather.station_weekly_summary
    ORDER BY station_id
`

// WeeklySummary reads the per-station weekly view.
func (s *Store) WeeklySummary(ctx context.Context) ([]WeeklySummary, error) {
	rows, err := s.pool.Query(ctx, weeklySummarySQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]WeeklySummary, 0)
	for rows.Next() {
		var w WeeklySummary
		if err := rows.Scan(&w.StationID, &w.StationName, &w.WeekStart, &w.AvgTemperature, &w.WeekReadings, &w.MaxWindSpeedDelta); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
