package pipeline

import (
	"encoding/json"
	"time"
)

// Summary is the result of a run. Station lists are sorted and never nil.
type Summary struct {
	RunID                string        `json:"run_id"`
	StartedAt            time.Time     `json:"started_at"`
	Runtime              time.Duration `json:"-"`
	Iterations           int           `json:"iterations"`
	FailedStations       []string      `json:"failed_stations"`
	SuccessfulStations   []string      `json:"successful_stations"`
	StationsUpserted     int           `json:"stations_upserted"`
	MeasurementsUpserted int           `json:"measurements_upserted"`
	Interrupted          bool          `json:"interrupted,omitempty"`
}

func (s Summary) RuntimeSeconds() float64 {
	return s.Runtime.Seconds()
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	return json.Marshal(struct {
		alias
		RuntimeSeconds float64 `json:"runtime_seconds"`
	}{alias: alias(s), RuntimeSeconds: s.RuntimeSeconds()})
}

// attrs flattens the summary for the final log line.
func (s Summary) attrs() []any {
	return []any{
		"run_id", s.RunID,
		"runtime_seconds", s.RuntimeSeconds(),
		"iterations", s.Iterations,
		"failed_stations", s.FailedStations,
		"successful_stations", s.SuccessfulStations,
		"stations_upserted", s.StationsUpserted,
		"measurements_upserted", s.MeasurementsUpserted,
		"interrupted", s.Interrupted,
	}
}
