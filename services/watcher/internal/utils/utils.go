package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
)

var errMissingCoordinates = errors.New("station payload missing coordinates")

// BuildStation converts a station payload into a database-ready row.
func BuildStation(stationID string, payload models.StationResponse) (models.Station, error) {
	if len(payload.Geometry.Coordinates) < 2 {
		return models.Station{}, fmt.Errorf("%s: %w", stationID, errMissingCoordinates)
	}
	// GeoJSON order is [lon, lat].
	lon := payload.Geometry.Coordinates[0]
	lat := payload.Geometry.Coordinates[1]

	return models.Station{
		ID:        stationID,
		Name:      optionalString(payload.Properties.Name),
		Timezone:  optionalString(payload.Properties.TimeZone),
		Latitude:  &lat,
		Longitude: &lon,
	}, nil
}

// BuildMeasurements normalizes observation features for a station. Features with no
// timestamp, or with neither temperature nor humidity, are dropped.
func BuildMeasurements(stationID string, features []models.ObservationFeature) []models.Measurement {
	out := make([]models.Measurement, 0, len(features))
	for _, f := range features {
		m, ok := BuildMeasurement(stationID, f)
		if !ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// BuildMeasurement normalizes a single feature; ok is false when it carries nothing usable.
func BuildMeasurement(stationID string, f models.ObservationFeature) (models.Measurement, bool) {
	props := f.Properties
	if props.Timestamp == nil || props.Timestamp.IsZero() {
		return models.Measurement{}, false
	}

	temp := NormalizeValue(props.Temperature.Value)
	humidity := NormalizeValue(props.RelativeHumidity.Value)
	if temp == nil && humidity == nil {
		return models.Measurement{}, false
	}

	return models.Measurement{
		StationID:   stationID,
		Timestamp:   *props.Timestamp,
		Temperature: temp,
		Humidity:    humidity,
		WindSpeed:   NormalizeValue(props.WindSpeed.Value),
	}, true
}

// NormalizeValue copies an optional provider value.
func NormalizeValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	val := *v
	return &val
}

// StationIDs extracts station identifiers from rows, keeping first-seen order.
func StationIDs(rows []models.Measurement) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0)
	for _, row := range rows {
		if _, ok := seen[row.StationID]; ok {
			continue
		}
		seen[row.StationID] = struct{}{}
		ids = append(ids, row.StationID)
	}
	return ids
}

// ValuePtrString prints pointer values for logging.
func ValuePtrString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
