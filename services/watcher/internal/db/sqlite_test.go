package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/02loveslollipop/station-watcher/internal/logging"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/migrate"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	if _, err := migrate.Run(ctx, store.DB(), DialectSQLite, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func countRows(t *testing.T, s *SQLiteStore, table string) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func sampleMeasurements() []models.Measurement {
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	return []models.Measurement{
		{StationID: "KSFO", Timestamp: base, Temperature: f64(18.3), Humidity: f64(71), WindSpeed: f64(20.5)},
		{StationID: "KSFO", Timestamp: base.Add(time.Hour), Temperature: f64(19.1), Humidity: f64(65)},
		{StationID: "0579W", Timestamp: base, Humidity: f64(80)},
	}
}

func TestUpsertStations_CountAndDistinctRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rows := []models.Station{
		{ID: "KSFO", Name: str("San Francisco"), Timezone: str("America/Los_Angeles"), Latitude: f64(37.6), Longitude: f64(-122.4)},
		{ID: "0579W", Name: str("Old name")},
		{ID: "0579W", Name: str("New name")},
	}

	n, err := s.UpsertStations(ctx, rows)
	if err != nil {
		t.Fatalf("UpsertStations() error = %v", err)
	}
	if n != 3 {
		t.Errorf("UpsertStations() = %d, want 3", n)
	}
	if got := countRows(t, s, "stations"); got != 2 {
		t.Errorf("stations rows = %d, want 2", got)
	}

	var name string
	if err := s.DB().QueryRow(`SELECT station_name FROM stations WHERE station_id = '0579W'`).Scan(&name); err != nil {
		t.Fatalf("select station: %v", err)
	}
	if name != "New name" {
		t.Errorf("station_name = %q, want last write to win", name)
	}
}

func TestUpsertMeasurements_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	rows := sampleMeasurements()

	for i := 0; i < 2; i++ {
		n, err := s.UpsertMeasurements(ctx, rows)
		if err != nil {
			t.Fatalf("UpsertMeasurements() pass %d error = %v", i, err)
		}
		if n != len(rows) {
			t.Errorf("UpsertMeasurements() pass %d = %d, want %d", i, n, len(rows))
		}
	}

	if got := countRows(t, s, "measurements"); got != len(rows) {
		t.Errorf("measurements rows = %d, want %d", got, len(rows))
	}

	var temp *float64
	var wind *float64
	err := s.DB().QueryRow(`SELECT temperature, wind_speed FROM measurements WHERE station_id = '0579W'`).Scan(&temp, &wind)
	if err != nil {
		t.Fatalf("select measurement: %v", err)
	}
	if temp != nil || wind != nil {
		t.Errorf("absent sensors stored as %v/%v, want NULL", temp, wind)
	}
}

func TestUpsertMeasurements_OverwritesStaleValues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.UpsertMeasurements(ctx, []models.Measurement{{StationID: "KSFO", Timestamp: ts, Temperature: f64(10)}}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Same instant expressed in another zone is the same key.
	corrected := models.Measurement{StationID: "KSFO", Timestamp: ts.In(time.FixedZone("PDT", -7*3600)), Temperature: f64(12.5)}
	if _, err := s.UpsertMeasurements(ctx, []models.Measurement{corrected}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if got := countRows(t, s, "measurements"); got != 1 {
		t.Fatalf("measurements rows = %d, want 1", got)
	}
	var temp float64
	if err := s.DB().QueryRow(`SELECT temperature FROM measurements`).Scan(&temp); err != nil {
		t.Fatalf("select: %v", err)
	}
	if temp != 12.5 {
		t.Errorf("temperature = %v, want 12.5", temp)
	}
}

func TestUpsertMeasurements_CreatesPlaceholderStation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertStations(ctx, []models.Station{{ID: "KSFO", Name: str("San Francisco")}}); err != nil {
		t.Fatalf("UpsertStations() error = %v", err)
	}
	if _, err := s.UpsertMeasurements(ctx, sampleMeasurements()); err != nil {
		t.Fatalf("UpsertMeasurements() error = %v", err)
	}

	if got := countRows(t, s, "stations"); got != 2 {
		t.Fatalf("stations rows = %d, want 2", got)
	}
	var name *string
	if err := s.DB().QueryRow(`SELECT station_name FROM stations WHERE station_id = 'KSFO'`).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name == nil || *name != "San Francisco" {
		t.Errorf("placeholder insert clobbered metadata: %v", name)
	}
}

func TestUpsertMeasurements_BatchIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON measurements
		WHEN NEW.station_id = 'BAD'
		BEGIN SELECT RAISE(ABORT, 'rejected'); END;`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	rows := append(sampleMeasurements(), models.Measurement{StationID: "BAD", Timestamp: time.Now(), Temperature: f64(1)})
	n, err := s.UpsertMeasurements(ctx, rows)
	if err == nil {
		t.Fatal("UpsertMeasurements() error = nil, want error")
	}
	if n != 0 {
		t.Errorf("UpsertMeasurements() = %d on failure, want 0", n)
	}
	if got := countRows(t, s, "measurements"); got != 0 {
		t.Errorf("measurements rows = %d after failed batch, want 0", got)
	}
	if got := countRows(t, s, "stations"); got != 0 {
		t.Errorf("stations rows = %d after failed batch, want 0", got)
	}
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if n, err := s.UpsertStations(ctx, nil); err != nil || n != 0 {
		t.Errorf("UpsertStations(nil) = %d, %v", n, err)
	}
	if n, err := s.UpsertMeasurements(ctx, []models.Measurement{}); err != nil || n != 0 {
		t.Errorf("UpsertMeasurements(empty) = %d, %v", n, err)
	}
}

func TestDryRunStore_DoesNotWrite(t *testing.T) {
	s := setupTestStore(t)
	dry := NewDryRun(s, logging.Discard())
	ctx := context.Background()

	n, err := dry.UpsertMeasurements(ctx, sampleMeasurements())
	if err != nil || n != 3 {
		t.Fatalf("UpsertMeasurements() = %d, %v", n, err)
	}
	n, err = dry.UpsertStations(ctx, []models.Station{{ID: "KSFO"}})
	if err != nil || n != 1 {
		t.Fatalf("UpsertStations() = %d, %v", n, err)
	}
	if got := countRows(t, s, "measurements"); got != 0 {
		t.Errorf("dry run wrote %d measurements", got)
	}
	if dry.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %q", dry.Dialect())
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{Driver: "mysql"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open(mysql) error = %v, want ErrUnknownDriver", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "watcher.db")
	store, err := Open(ctx, Options{Driver: DialectSQLite, SQLitePath: path, DryRun: true, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("Open(sqlite3) error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*DryRunStore); !ok {
		t.Errorf("Open(DryRun) returned %T, want *DryRunStore", store)
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	dsn, err := buildSQLiteDSN(":memory:")
	if err != nil {
		t.Fatalf("buildSQLiteDSN() error = %v", err)
	}
	if !strings.HasPrefix(dsn, "file::memory:?") || !strings.Contains(dsn, "_foreign_keys=on") {
		t.Errorf("memory dsn = %q", dsn)
	}

	dsn, err = buildSQLiteDSN("file:/tmp/x.db?cache=shared")
	if err != nil {
		t.Fatalf("buildSQLiteDSN() error = %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/tmp/x.db?cache=shared&") {
		t.Errorf("file dsn = %q", dsn)
	}
}
