package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/cloudapi"
	"solar-alerts/internal/config"
	"solar-alerts/internal/explain"
	"solar-alerts/internal/model"
	"solar-alerts/internal/storage"
)

type fakeCloud struct {
	pages      map[int][]cloudapi.Station
	metrics    map[int64]cloudapi.StationMetrics
	data       map[string]cloudapi.DeviceData
	listErr    map[int]error
	metricsErr map[int64]error

	listCalls  int
	batchSizes []int
}

func (f *fakeCloud) ListStations(_ context.Context, page, _ int) ([]cloudapi.Station, error) {
	f.listCalls++
	if err := f.listErr[page]; err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeCloud) StationLatest(_ context.Context, stationID int64) (cloudapi.StationMetrics, error) {
	if err := f.metricsErr[stationID]; err != nil {
		return cloudapi.StationMetrics{}, err
	}
	return f.metrics[stationID], nil
}

func (f *fakeCloud) DeviceLatest(_ context.Context, serials []string) ([]cloudapi.DeviceData, error) {
	f.batchSizes = append(f.batchSizes, len(serials))
	out := make([]cloudapi.DeviceData, 0, len(serials))
	for _, sn := range serials {
		if data, ok := f.data[sn]; ok {
			out = append(out, data)
		}
	}
	return out, nil
}

type recordingDispatch struct {
	events []model.AnomalyEvent
	recs   []*model.ExplanationRecord
	bypass []bool
}

func (r *recordingDispatch) Dispatch(_ context.Context, event model.AnomalyEvent, rec *model.ExplanationRecord, bypassCooldown bool) (bool, error) {
	r.events = append(r.events, event)
	r.recs = append(r.recs, rec)
	r.bypass = append(r.bypass, bypassCooldown)
	return true, nil
}

func deviceData(sn string, items ...cloudapi.DataItem) cloudapi.DeviceData {
	return cloudapi.DeviceData{
		DeviceSN:   sn,
		DeviceType: "INVERTER",
		DataList:   items,
	}
}

func newTestService(cloud *fakeCloud, store storage.Store, disp Dispatcher) *Service {
	cfg := &config.Config{}
	cfg.CloudAPI.PageSize = 20
	cfg.Monitor.HistoryRetention = 30 * 24 * time.Hour
	cfg.Monitor.DefaultCapacityW = 5000
	cfg.Alerting.Enabled = true

	cache := explain.NewCache(store, nil, zerolog.Nop())
	svc := New(cfg, nil, cloud, store, cache, disp, zerolog.Nop())
	// Fixed noon clock keeps production-curve rules deterministic.
	svc.now = func() time.Time {
		return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

func TestRunCycleFullSweep(t *testing.T) {
	cloud := &fakeCloud{
		pages: map[int][]cloudapi.Station{
			1: {{
				StationID:         7,
				Name:              "rooftop",
				InstalledCapacity: 5000,
				DeviceList: []cloudapi.DeviceRef{
					{DeviceSN: "SN-A", DeviceType: "INVERTER"},
					{DeviceSN: "SN-B", DeviceType: "INVERTER"},
				},
			}},
		},
		metrics: map[int64]cloudapi.StationMetrics{
			7: {GenerationPower: 3000, UsePower: 500, BatterySOC: 55},
		},
		data: map[string]cloudapi.DeviceData{
			"SN-A": deviceData("SN-A",
				cloudapi.DataItem{Key: "fault_code", Value: "12"},
				cloudapi.DataItem{Key: "temperature", Value: "30", Unit: "C"},
			),
			"SN-B": deviceData("SN-B",
				cloudapi.DataItem{Key: "temperature", Value: "28", Unit: "C"},
			),
		},
	}

	store := storage.NewMemory(0)
	disp := &recordingDispatch{}
	svc := newTestService(cloud, store, disp)

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(disp.events) != 1 {
		t.Fatalf("expected exactly one dispatched event, got %d", len(disp.events))
	}
	event := disp.events[0]
	if event.Type != model.AnomalyFaultCode || event.DeviceSN != "SN-A" || event.FaultCode != "12" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if disp.recs[0] == nil || disp.recs[0].FaultCode != "12" {
		t.Fatalf("fault event should carry an explanation record, got %+v", disp.recs[0])
	}
	if disp.bypass[0] {
		t.Fatalf("scheduled sweep must not bypass cooldown")
	}

	for _, sn := range []string{"SN-A", "SN-B"} {
		entries, err := store.ListHistory(context.Background(), sn, time.Time{})
		if err != nil {
			t.Fatalf("ListHistory(%s): %v", sn, err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected one history entry for %s, got %d", sn, len(entries))
		}
		entry := entries[0]
		if entry.StationID != 7 {
			t.Fatalf("entry for %s missing station id: %+v", sn, entry)
		}
		if entry.Efficiency != 3000.0/5000.0 {
			t.Fatalf("unexpected efficiency for %s: %v", sn, entry.Efficiency)
		}

		if _, found, err := store.GetBaseline(context.Background(), sn); err != nil || !found {
			t.Fatalf("expected stored baseline for %s (found=%v, err=%v)", sn, found, err)
		}
	}

	entries, _ := store.ListHistory(context.Background(), "SN-A", time.Time{})
	if entries[0].FaultCode != "12" {
		t.Fatalf("fault code not recorded in history: %+v", entries[0])
	}
	entries, _ = store.ListHistory(context.Background(), "SN-B", time.Time{})
	if entries[0].FaultCode != "" {
		t.Fatalf("healthy device should not record a fault code: %+v", entries[0])
	}
}

func TestRunCyclePageOneFailureAborts(t *testing.T) {
	cloud := &fakeCloud{
		listErr: map[int]error{1: errors.New("upstream down")},
	}
	store := storage.NewMemory(0)
	disp := &recordingDispatch{}
	svc := newTestService(cloud, store, disp)

	if err := svc.RunCycle(context.Background()); err == nil {
		t.Fatalf("first-page listing failure must abort the sweep")
	}
	if len(disp.events) != 0 {
		t.Fatalf("aborted sweep must not dispatch alerts")
	}
}

func TestRunCycleLaterPageFailureEndsSweepEarly(t *testing.T) {
	cloud := &fakeCloud{
		pages: map[int][]cloudapi.Station{
			1: {{StationID: 3, DeviceList: []cloudapi.DeviceRef{{DeviceSN: "SN-X"}}}},
		},
		listErr: map[int]error{2: errors.New("page two flake")},
		data: map[string]cloudapi.DeviceData{
			"SN-X": deviceData("SN-X", cloudapi.DataItem{Key: "temperature", Value: "25"}),
		},
	}
	store := storage.NewMemory(0)
	svc := newTestService(cloud, store, &recordingDispatch{})

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("later-page failure must not fail the sweep: %v", err)
	}

	entries, err := store.ListHistory(context.Background(), "SN-X", time.Time{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("first page should still be processed (entries=%d, err=%v)", len(entries), err)
	}
}

func TestRunCycleStationMetricsFailureIsolated(t *testing.T) {
	cloud := &fakeCloud{
		pages: map[int][]cloudapi.Station{
			1: {{StationID: 9, InstalledCapacity: 5000, DeviceList: []cloudapi.DeviceRef{{DeviceSN: "SN-Y"}}}},
		},
		metricsErr: map[int64]error{9: errors.New("metrics timeout")},
		data: map[string]cloudapi.DeviceData{
			"SN-Y": deviceData("SN-Y", cloudapi.DataItem{Key: "temperature", Value: "95", Unit: "C"}),
		},
	}
	store := storage.NewMemory(0)
	disp := &recordingDispatch{}
	svc := newTestService(cloud, store, disp)

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// Device rules still fire without station context.
	if len(disp.events) != 1 || disp.events[0].Type != model.AnomalyTemperature {
		t.Fatalf("expected a temperature event, got %+v", disp.events)
	}

	entries, _ := store.ListHistory(context.Background(), "SN-Y", time.Time{})
	if len(entries) != 1 || entries[0].StationID != 0 || entries[0].Efficiency != 0 {
		t.Fatalf("history entry should omit station fields: %+v", entries)
	}
}

func TestRunCycleChunksDeviceBatches(t *testing.T) {
	refs := make([]cloudapi.DeviceRef, 0, 13)
	data := make(map[string]cloudapi.DeviceData, 13)
	for i := 0; i < 13; i++ {
		sn := string(rune('A'+i)) + "-sn"
		refs = append(refs, cloudapi.DeviceRef{DeviceSN: sn})
		data[sn] = deviceData(sn, cloudapi.DataItem{Key: "temperature", Value: "25"})
	}

	cloud := &fakeCloud{
		pages:   map[int][]cloudapi.Station{1: {{StationID: 1, DeviceList: refs}}},
		metrics: map[int64]cloudapi.StationMetrics{1: {GenerationPower: 100}},
		data:    data,
	}
	svc := newTestService(cloud, storage.NewMemory(0), &recordingDispatch{})

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(cloud.batchSizes) != 2 || cloud.batchSizes[0] != 10 || cloud.batchSizes[1] != 3 {
		t.Fatalf("expected batches of 10 and 3, got %v", cloud.batchSizes)
	}
}

func TestRunCycleSkipsOverlap(t *testing.T) {
	cloud := &fakeCloud{}
	svc := newTestService(cloud, storage.NewMemory(0), &recordingDispatch{})

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("overlapping sweep should be skipped, not fail: %v", err)
	}
	if cloud.listCalls != 0 {
		t.Fatalf("skipped sweep must not touch the upstream API")
	}
}

func TestRunCyclePurgesOldHistory(t *testing.T) {
	store := storage.NewMemory(0)
	old := model.HistoryEntry{
		Timestamp: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		DeviceSN:  "SN-OLD",
	}
	if err := store.AppendHistory(context.Background(), old); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	cloud := &fakeCloud{}
	svc := newTestService(cloud, store, &recordingDispatch{})

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	entries, err := store.ListHistory(context.Background(), "SN-OLD", time.Time{})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries older than the retention window must be purged, got %d", len(entries))
	}
}

func TestSimulateSampleBypassesCooldown(t *testing.T) {
	disp := &recordingDispatch{}
	svc := newTestService(&fakeCloud{}, storage.NewMemory(0), disp)

	sample := model.TelemetrySample{
		DeviceSN: "SN-SIM",
		Measurements: []model.Measurement{
			{Key: "fault_code", Value: 4},
		},
	}

	events, err := svc.SimulateSample(context.Background(), sample, nil)
	if err != nil {
		t.Fatalf("SimulateSample: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.AnomalyFaultCode {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(disp.bypass) != 1 || !disp.bypass[0] {
		t.Fatalf("simulated alerts must bypass cooldown suppression")
	}
}
