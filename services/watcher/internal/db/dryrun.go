package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/utils"
)

// DryRunStore logs the rows it would write and reports them as upserted. The
// wrapped store stays open so migrations and connectivity checks still run.
type DryRunStore struct {
	Store
	logger *slog.Logger
}

func NewDryRun(inner Store, logger *slog.Logger) *DryRunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunStore{Store: inner, logger: logger}
}

func (d *DryRunStore) UpsertStations(_ context.Context, stations []models.Station) (int, error) {
	for _, st := range stations {
		d.logger.Info("dry-run: would upsert station", "station", st.ID, "name", deref(st.Name))
	}
	return len(stations), nil
}

func (d *DryRunStore) UpsertMeasurements(_ context.Context, measurements []models.Measurement) (int, error) {
	for _, m := range measurements {
		d.logger.Debug("dry-run: would upsert measurement",
			"station", m.StationID,
			"ts", m.Timestamp.Format(time.RFC3339),
			"temperature", utils.ValuePtrString(m.Temperature),
			"humidity", utils.ValuePtrString(m.Humidity),
			"wind_speed", utils.ValuePtrString(m.WindSpeed),
		)
	}
	d.logger.Info("dry-run: skipping measurement upsert", "candidates", len(measurements))
	return len(measurements), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
