package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/cloudapi"
	"solar-alerts/internal/config"
	"solar-alerts/internal/detect"
	"solar-alerts/internal/explain"
	"solar-alerts/internal/model"
	"solar-alerts/internal/scheduler"
	"solar-alerts/internal/storage"
)

// CloudAPI is the slice of the cloud client the monitoring cycle consumes.
type CloudAPI interface {
	ListStations(ctx context.Context, page, size int) ([]cloudapi.Station, error)
	StationLatest(ctx context.Context, stationID int64) (cloudapi.StationMetrics, error)
	DeviceLatest(ctx context.Context, serials []string) ([]cloudapi.DeviceData, error)
}

// Dispatcher sends one anomaly event, subject to cooldown suppression.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.AnomalyEvent, rec *model.ExplanationRecord, bypassCooldown bool) (bool, error)
}

// Service orchestrates the monitoring sweep: stations, device batches,
// detection, explanation, dispatch, and baseline/history upkeep.
type Service struct {
	scheduler  *scheduler.Scheduler
	client     CloudAPI
	store      storage.Store
	explainer  *explain.Cache
	dispatcher Dispatcher
	logger     zerolog.Logger

	pageSize        int
	retention       time.Duration
	defaultCapacity float64
	alertsOn        bool

	mu  sync.Mutex
	now func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, client CloudAPI, store storage.Store, explainer *explain.Cache, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	pageSize := cfg.CloudAPI.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	retention := cfg.Monitor.HistoryRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &Service{
		scheduler:       sched,
		client:          client,
		store:           store,
		explainer:       explainer,
		dispatcher:      dispatcher,
		logger:          logger.With().Str("component", "service").Logger(),
		pageSize:        pageSize,
		retention:       retention,
		defaultCapacity: cfg.Monitor.DefaultCapacityW,
		alertsOn:        cfg.Alerting.Enabled,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return s.RunCycle(ctx)
	})
}

// RunCycle executes one full monitoring sweep. Overlapping invocations are
// skipped rather than run concurrently; the shared baseline/history state is
// not built for concurrent sweeps.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.mu.TryLock() {
		s.logger.Warn().Msg("skip sweep: previous sweep still in flight")
		return nil
	}
	defer s.mu.Unlock()

	started := s.now()
	page := 1
	stationCount := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stations, err := s.client.ListStations(ctx, page, s.pageSize)
		if err != nil {
			if page == 1 {
				// Total upstream unavailability is the one error that
				// aborts a sweep.
				return fmt.Errorf("list stations: %w", err)
			}
			s.logger.Error().Err(err).Int("page", page).Msg("station page fetch failed, ending sweep early")
			break
		}
		if len(stations) == 0 {
			break
		}

		for _, st := range stations {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.processStation(ctx, st); err != nil {
				s.logger.Error().Err(err).Int64("station_id", st.StationID).Msg("station processing failed, continuing sweep")
			}
		}

		stationCount += len(stations)
		page++
	}

	if err := s.store.PurgeHistoryBefore(ctx, s.now().Add(-s.retention)); err != nil {
		s.logger.Error().Err(err).Msg("history purge failed")
	}

	s.logger.Info().
		Int("stations", stationCount).
		Dur("elapsed", s.now().Sub(started)).
		Msg("sweep complete")
	return nil
}

func (s *Service) processStation(ctx context.Context, st cloudapi.Station) error {
	var station *model.StationSample
	metrics, err := s.client.StationLatest(ctx, st.StationID)
	if err != nil {
		// Device-level rules still apply without station context.
		s.logger.Warn().Err(err).Int64("station_id", st.StationID).Msg("station metrics unavailable")
	} else {
		sample := cloudapi.ToStationSample(st, metrics)
		station = &sample
	}

	serials := make([]string, 0, len(st.DeviceList))
	for _, ref := range st.DeviceList {
		if ref.DeviceSN != "" {
			serials = append(serials, ref.DeviceSN)
		}
	}

	for start := 0; start < len(serials); start += cloudapi.MaxDeviceBatch {
		end := start + cloudapi.MaxDeviceBatch
		if end > len(serials) {
			end = len(serials)
		}

		batch, err := s.client.DeviceLatest(ctx, serials[start:end])
		if err != nil {
			s.logger.Error().Err(err).Int64("station_id", st.StationID).Msg("device batch fetch failed, continuing")
			continue
		}

		for _, data := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.processDevice(ctx, data.ToSample(), station); err != nil {
				s.logger.Error().Err(err).Str("device_sn", data.DeviceSN).Msg("device processing failed, continuing")
			}
		}
	}

	return nil
}

func (s *Service) processDevice(ctx context.Context, sample model.TelemetrySample, station *model.StationSample) error {
	now := s.now()

	events := detect.DetectAnomalies(sample, station, now, s.defaultCapacity)

	history, err := s.store.ListHistory(ctx, sample.DeviceSN, now.Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Str("device_sn", sample.DeviceSN).Msg("history load failed, skipping pattern detection")
	} else {
		events = append(events, detect.DetectPatterns(sample.DeviceSN, history)...)
	}

	for _, event := range events {
		s.handleEvent(ctx, event, sample)
	}

	s.updateBaseline(ctx, sample, station)
	s.appendHistory(ctx, sample, station, events, now)

	return nil
}

func (s *Service) handleEvent(ctx context.Context, event model.AnomalyEvent, sample model.TelemetrySample) {
	var rec *model.ExplanationRecord
	if event.FaultCode != "" && s.explainer != nil {
		deviceContext := fmt.Sprintf("device %s (%s), state %d", sample.DeviceSN, sample.DeviceType, sample.DeviceState)
		explained := s.explainer.Explain(ctx, event.FaultCode, deviceContext)
		rec = &explained
	}

	if !s.alertsOn || s.dispatcher == nil {
		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, event, rec, false); err != nil {
		s.logger.Error().Err(err).Str("device_sn", event.DeviceSN).Str("type", string(event.Type)).Msg("alert dispatch failed")
	}
}

func (s *Service) updateBaseline(ctx context.Context, sample model.TelemetrySample, station *model.StationSample) {
	baseline, found, err := s.store.GetBaseline(ctx, sample.DeviceSN)
	if err != nil {
		s.logger.Error().Err(err).Str("device_sn", sample.DeviceSN).Msg("baseline load failed")
		return
	}
	if !found {
		baseline = detect.DefaultBaseline()
	}

	production := 0.0
	if station != nil {
		production = station.GenerationPower
	}

	baseline = detect.UpdateBaseline(baseline, sample, production)
	if err := s.store.PutBaseline(ctx, sample.DeviceSN, baseline); err != nil {
		s.logger.Error().Err(err).Str("device_sn", sample.DeviceSN).Msg("baseline store failed")
	}
}

func (s *Service) appendHistory(ctx context.Context, sample model.TelemetrySample, station *model.StationSample, events []model.AnomalyEvent, now time.Time) {
	entry := model.HistoryEntry{
		Timestamp:    now,
		DeviceSN:     sample.DeviceSN,
		Measurements: sample.Measurements,
	}

	if station != nil {
		entry.StationID = station.StationID
		entry.GenerationPower = station.GenerationPower
		entry.ConsumptionPower = station.ConsumptionPower
		entry.BatterySOC = station.BatterySOC
		if station.InstalledCapacity > 0 {
			entry.Efficiency = station.GenerationPower / station.InstalledCapacity
		}
	}

	for _, event := range events {
		if event.Type == model.AnomalyFaultCode {
			entry.FaultCode = event.FaultCode
			break
		}
	}

	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("device_sn", sample.DeviceSN).Msg("history append failed")
	}
}

// SimulateSample pushes a synthetic telemetry sample through the full
// detect, explain and dispatch path, bypassing cooldown suppression.
func (s *Service) SimulateSample(ctx context.Context, sample model.TelemetrySample, station *model.StationSample) ([]model.AnomalyEvent, error) {
	events := detect.DetectAnomalies(sample, station, s.now(), s.defaultCapacity)

	for _, event := range events {
		var rec *model.ExplanationRecord
		if event.FaultCode != "" && s.explainer != nil {
			explained := s.explainer.Explain(ctx, event.FaultCode, "simulated sample")
			rec = &explained
		}
		if s.dispatcher == nil {
			continue
		}
		if _, err := s.dispatcher.Dispatch(ctx, event, rec, true); err != nil {
			return events, err
		}
	}

	return events, nil
}

// RecentAlerts lists the newest dispatched alerts.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]model.SentAlert, error) {
	return s.store.ListRecentAlerts(ctx, limit)
}

// KnownFaults lists every cached fault explanation.
func (s *Service) KnownFaults(ctx context.Context) ([]model.ExplanationRecord, error) {
	if s.explainer == nil {
		return nil, nil
	}
	return s.explainer.List(ctx)
}

// DeviceHistory returns one device's retained entries, newest first.
func (s *Service) DeviceHistory(ctx context.Context, deviceSN string, since time.Time) ([]model.HistoryEntry, error) {
	return s.store.ListHistory(ctx, deviceSN, since)
}
