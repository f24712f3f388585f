package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/02loveslollipop/station-watcher/internal/logging"
	"github.com/02loveslollipop/station-watcher/services/api/config"
	"github.com/02loveslollipop/station-watcher/services/api/db"
)

type mockStore struct {
	stations    []db.Station
	stationsErr error
	lastQuery   db.MeasurementQuery
	measures    []db.Measurement
	measuresErr error
	weekly      []db.WeeklySummary
}

func (m *mockStore) ListStations(context.Context) ([]db.Station, error) {
	return m.stations, m.stationsErr
}

func (m *mockStore) GetStation(_ context.Context, id string) (*db.Station, error) {
	if m.stationsErr != nil {
		return nil, m.stationsErr
	}
	for i := range m.stations {
		if m.stations[i].ID == id {
			return &m.stations[i], nil
		}
	}
	return nil, nil
}

func (m *mockStore) FetchMeasurements(_ context.Context, q db.MeasurementQuery) ([]db.Measurement, error) {
	m.lastQuery = q
	return m.measures, m.measuresErr
}

func (m *mockStore) WeeklySummary(context.Context) ([]db.WeeklySummary, error) {
	return m.weekly, nil
}

func newTestServer(store *mockStore, token string) *Server {
	cfg := config.Config{Port: 8080, DefaultLimit: 200, DefaultDays: 7, BearerToken: token}
	return New(cfg, store, logging.Discard())
}

func do(t *testing.T, s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&mockStore{}, "secret")
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	if decode(t, rec)["status"] != "ok" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListStations(t *testing.T) {
	name := "San Francisco"
	store := &mockStore{stations: []db.Station{{ID: "KSFO", Name: &name}, {ID: "0579W"}}}
	s := newTestServer(store, "")

	rec := do(t, s, http.MethodGet, "/api/v1/stations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-API-Version"); got != "v1" {
		t.Errorf("X-API-Version = %q", got)
	}
	meta := decode(t, rec)["meta"].(map[string]any)
	if meta["count"] != float64(2) {
		t.Errorf("meta.count = %v", meta["count"])
	}

	store.stationsErr = errors.New("db down")
	rec = do(t, s, http.MethodGet, "/api/v1/stations", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestGetStation(t *testing.T) {
	s := newTestServer(&mockStore{stations: []db.Station{{ID: "KSFO"}}}, "")

	if rec := do(t, s, http.MethodGet, "/api/v1/stations/KSFO", nil); rec.Code != http.StatusOK {
		t.Errorf("existing station status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/stations/NOPE", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing station status = %d; want 404", rec.Code)
	}
}

func TestStationMeasurements_Query(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
		check     func(t *testing.T, q db.MeasurementQuery)
	}{
		{
			name:      "defaults",
			query:     "",
			wantCode:  http.StatusOK,
			wantLimit: 200,
			check: func(t *testing.T, q db.MeasurementQuery) {
				if q.Since == nil || q.Until != nil {
					t.Errorf("window = %v..%v, want default since", q.Since, q.Until)
				}
			},
		},
		{
			name:      "explicit window",
			query:     "?start=2025-07-01T00:00:00Z&end=2025-07-02T00:00:00-07:00",
			wantCode:  http.StatusOK,
			wantLimit: 0,
			check: func(t *testing.T, q db.MeasurementQuery) {
				wantEnd := time.Date(2025, 7, 2, 7, 0, 0, 0, time.UTC)
				if q.Until == nil || !q.Until.Equal(wantEnd) || q.Until.Location() != time.UTC {
					t.Errorf("Until = %v, want %v", q.Until, wantEnd)
				}
			},
		},
		{name: "last n", query: "?last_n=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "bad last n", query: "?last_n=-1", wantCode: http.StatusBadRequest},
		{name: "bad days", query: "?last_n_days=x", wantCode: http.StatusBadRequest},
		{name: "bad start", query: "?start=yesterday", wantCode: http.StatusBadRequest},
		{name: "inverted", query: "?start=2025-07-02T00:00:00Z&end=2025-07-01T00:00:00Z", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{measures: []db.Measurement{{StationID: "KSFO"}}}
			s := newTestServer(store, "")

			rec := do(t, s, http.MethodGet, "/api/v1/stations/KSFO/measurements"+tt.query, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d; want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if store.lastQuery.StationID != "KSFO" {
				t.Errorf("StationID = %q", store.lastQuery.StationID)
			}
			if store.lastQuery.Limit != tt.wantLimit {
				t.Errorf("Limit = %d; want %d", store.lastQuery.Limit, tt.wantLimit)
			}
			if tt.check != nil {
				tt.check(t, store.lastQuery)
			}
		})
	}
}

func TestWeeklySummary(t *testing.T) {
	avg := 17.25
	store := &mockStore{weekly: []db.WeeklySummary{{StationID: "KSFO", AvgTemperature: &avg, WeekReadings: 160}}}
	s := newTestServer(store, "")

	rec := do(t, s, http.MethodGet, "/api/v1/summary/weekly", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decode(t, rec)["data"].([]any)
	row := data[0].(map[string]any)
	if row["avg_temperature"] != 17.25 || row["max_wind_speed_delta"] != nil {
		t.Errorf("row = %v", row)
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(&mockStore{}, "secret")

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic", map[string]string{"Authorization": "Basic c2VjcmV0"}, http.StatusUnauthorized},
		{"valid", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodGet, "/api/v1/stations", tt.header); rec.Code != tt.want {
				t.Errorf("status = %d; want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&mockStore{}, "secret")
	rec := do(t, s, http.MethodOptions, "/api/v1/stations", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
