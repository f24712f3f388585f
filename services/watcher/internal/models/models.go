package models

import "time"

// Station is the normalized station metadata row.
type Station struct {
	ID        string     `json:"station_id"`
	Name      *string    `json:"station_name,omitempty"`
	Timezone  *string    `json:"station_timezone,omitempty"`
	Latitude  *float64   `json:"station_latitude,omitempty"`
	Longitude *float64   `json:"station_longitude,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Measurement is one observation keyed by (StationID, Timestamp). Sensors the
// provider omitted stay nil.
type Measurement struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	WindSpeed   *float64  `json:"wind_speed,omitempty"`
}

// Key identifies the measurement row.
func (m Measurement) Key() string {
	return m.StationID + "@" + m.Timestamp.UTC().Format(time.RFC3339Nano)
}

// QuantitativeValue is the NWS value+unit pair.
type QuantitativeValue struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

// StationResponse models GET /stations/{id}.
type StationResponse struct {
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		StationIdentifier string `json:"stationIdentifier"`
		Name              string `json:"name"`
		TimeZone          string `json:"timeZone"`
	} `json:"properties"`
}

// ObservationProperties is the subset of an observation we persist.
type ObservationProperties struct {
	Station          string            `json:"station"`
	Timestamp        *time.Time        `json:"timestamp"`
	Temperature      QuantitativeValue `json:"temperature"`
	RelativeHumidity QuantitativeValue `json:"relativeHumidity"`
	WindSpeed        QuantitativeValue `json:"windSpeed"`
}

// ObservationFeature models a single GeoJSON observation feature
// (GET /stations/{id}/observations/latest).
type ObservationFeature struct {
	ID         string                `json:"id"`
	Properties ObservationProperties `json:"properties"`
}

// ObservationCollection models GET /stations/{id}/observations.
type ObservationCollection struct {
	Features []ObservationFeature `json:"features"`
}
