package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/cloudapi"
	"solar-alerts/internal/config"
	"solar-alerts/internal/explain"
	"solar-alerts/internal/model"
	"solar-alerts/internal/service"
	"solar-alerts/internal/storage"
)

type staticCloud struct {
	stations []cloudapi.Station
	data     map[string]cloudapi.DeviceData
}

func (s *staticCloud) ListStations(_ context.Context, page, _ int) ([]cloudapi.Station, error) {
	if page > 1 {
		return nil, nil
	}
	return s.stations, nil
}

func (s *staticCloud) StationLatest(_ context.Context, _ int64) (cloudapi.StationMetrics, error) {
	return cloudapi.StationMetrics{GenerationPower: 2500}, nil
}

func (s *staticCloud) DeviceLatest(_ context.Context, serials []string) ([]cloudapi.DeviceData, error) {
	out := make([]cloudapi.DeviceData, 0, len(serials))
	for _, sn := range serials {
		if data, ok := s.data[sn]; ok {
			out = append(out, data)
		}
	}
	return out, nil
}

type noopDispatch struct{}

func (noopDispatch) Dispatch(context.Context, model.AnomalyEvent, *model.ExplanationRecord, bool) (bool, error) {
	return true, nil
}

func newTestRouter(t *testing.T, store storage.Store) http.Handler {
	t.Helper()

	cloud := &staticCloud{
		stations: []cloudapi.Station{{
			StationID:         5,
			InstalledCapacity: 5000,
			DeviceList:        []cloudapi.DeviceRef{{DeviceSN: "SN-1"}},
		}},
		data: map[string]cloudapi.DeviceData{
			"SN-1": {
				DeviceSN: "SN-1",
				DataList: []cloudapi.DataItem{{Key: "fault_code", Value: "9"}},
			},
		},
	}

	cfg := &config.Config{}
	cfg.CloudAPI.PageSize = 20
	cfg.Monitor.HistoryRetention = 30 * 24 * time.Hour
	cfg.Alerting.Enabled = true

	cache := explain.NewCache(store, nil, zerolog.Nop())
	svc := service.New(cfg, nil, cloud, store, cache, noopDispatch{}, zerolog.Nop())
	return NewRouter(svc, zerolog.Nop())
}

func doRequest(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, storage.NewMemory(0))

	rec := doRequest(router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRunCycleEndpointPopulatesStores(t *testing.T) {
	store := storage.NewMemory(0)
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodPost, "/api/v1/cycle/run")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}

	entries, err := store.ListHistory(context.Background(), "SN-1", time.Time{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("sweep should persist history (entries=%d, err=%v)", len(entries), err)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/faults")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var faults struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &faults); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if faults.Count != 1 {
		t.Fatalf("expected one cached fault explanation, got %d", faults.Count)
	}
}

func TestListAlertsValidatesLimit(t *testing.T) {
	router := newTestRouter(t, storage.NewMemory(0))

	rec := doRequest(router, http.MethodGet, "/api/v1/alerts?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/alerts?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDeviceHistoryEndpoint(t *testing.T) {
	store := storage.NewMemory(0)
	entry := model.HistoryEntry{
		Timestamp: time.Now().UTC().Add(-time.Hour),
		DeviceSN:  "SN-1",
	}
	if err := store.AppendHistory(context.Background(), entry); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	router := newTestRouter(t, store)

	rec := doRequest(router, http.MethodGet, "/api/v1/devices/SN-1/history?hours=24")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("expected one entry, got %d", body.Count)
	}

	rec = doRequest(router, http.MethodGet, "/api/v1/devices/SN-1/history?hours=nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad hours, got %d", rec.Code)
	}
}
