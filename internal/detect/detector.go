package detect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"solar-alerts/internal/model"
)

const (
	highTempThresholdC   = 80.0
	lowTempThresholdC    = -10.0
	lowSOCThresholdPct   = 20.0
	lowSOHThresholdPct   = 80.0
	correlationTempC     = 60.0
	correlationShortfall = 0.5
	noProductionFloorW   = 1.0
	DefaultCapacityW     = 5000.0
)

// DetectAnomalies evaluates one telemetry sample (plus the optional station
// sample it belongs to) against the threshold rule set. It is a pure
// function: identical input yields an identical, order-stable event list.
func DetectAnomalies(sample model.TelemetrySample, station *model.StationSample, now time.Time, defaultCapacityW float64) []model.AnomalyEvent {
	if defaultCapacityW <= 0 {
		defaultCapacityW = DefaultCapacityW
	}

	var events []model.AnomalyEvent
	stationID := int64(0)
	if station != nil {
		stationID = station.StationID
	}

	for _, m := range sample.Measurements {
		key := strings.ToLower(m.Key)

		if (strings.Contains(key, "error") || strings.Contains(key, "fault")) && m.Value != 0 {
			code := strconv.FormatFloat(m.Value, 'f', -1, 64)
			events = append(events, model.AnomalyEvent{
				Type:      model.AnomalyFaultCode,
				Severity:  model.SeverityCritical,
				Message:   fmt.Sprintf("device %s reported fault code %s (%s)", sample.DeviceSN, code, m.Key),
				DeviceSN:  sample.DeviceSN,
				StationID: stationID,
				FaultCode: code,
				Payload:   map[string]any{"measurement": m.Key, "value": m.Value},
			})
		}

		if strings.Contains(key, "temp") {
			switch {
			case m.Value > highTempThresholdC:
				events = append(events, model.AnomalyEvent{
					Type:      model.AnomalyTemperature,
					Severity:  model.SeverityWarning,
					Message:   fmt.Sprintf("device %s temperature high: %.1f%s", sample.DeviceSN, m.Value, m.Unit),
					DeviceSN:  sample.DeviceSN,
					StationID: stationID,
					Payload:   map[string]any{"measurement": m.Key, "value": m.Value, "direction": "high"},
				})
			case m.Value < lowTempThresholdC:
				events = append(events, model.AnomalyEvent{
					Type:      model.AnomalyTemperature,
					Severity:  model.SeverityWarning,
					Message:   fmt.Sprintf("device %s temperature low: %.1f%s", sample.DeviceSN, m.Value, m.Unit),
					DeviceSN:  sample.DeviceSN,
					StationID: stationID,
					Payload:   map[string]any{"measurement": m.Key, "value": m.Value, "direction": "low"},
				})
			}
		}

		if (strings.Contains(key, "soc") || strings.Contains(key, "state_of_charge")) && m.Value < lowSOCThresholdPct {
			events = append(events, model.AnomalyEvent{
				Type:      model.AnomalyBatterySOC,
				Severity:  model.SeverityWarning,
				Message:   fmt.Sprintf("device %s battery charge low: %.1f%%", sample.DeviceSN, m.Value),
				DeviceSN:  sample.DeviceSN,
				StationID: stationID,
				Payload:   map[string]any{"measurement": m.Key, "value": m.Value},
			})
		}

		if (strings.Contains(key, "soh") || strings.Contains(key, "state_of_health")) && m.Value < lowSOHThresholdPct {
			events = append(events, model.AnomalyEvent{
				Type:      model.AnomalyBatterySOH,
				Severity:  model.SeverityWarning,
				Message:   fmt.Sprintf("device %s battery health degraded: %.1f%%", sample.DeviceSN, m.Value),
				DeviceSN:  sample.DeviceSN,
				StationID: stationID,
				Payload:   map[string]any{"measurement": m.Key, "value": m.Value},
			})
		}
	}

	if station != nil {
		events = append(events, detectStationAnomalies(sample, *station, now, defaultCapacityW)...)
	}

	return events
}

func detectStationAnomalies(sample model.TelemetrySample, station model.StationSample, now time.Time, defaultCapacityW float64) []model.AnomalyEvent {
	var events []model.AnomalyEvent

	capacity := station.InstalledCapacity
	if capacity <= 0 {
		capacity = defaultCapacityW
	}
	expected := ExpectedProduction(now.Hour(), capacity)

	if expected > 0 && station.GenerationPower < noProductionFloorW {
		events = append(events, model.AnomalyEvent{
			Type:      model.AnomalyNoProduction,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("station %d produces nothing during daylight: expected ~%.0fW, actual %.0fW", station.StationID, expected, station.GenerationPower),
			DeviceSN:  sample.DeviceSN,
			StationID: station.StationID,
			Payload:   map[string]any{"expected_w": expected, "actual_w": station.GenerationPower, "hour": now.Hour()},
		})
	}

	// Fires independently of the per-measurement SOC rule; the dispatcher
	// reconciles duplicates through its per-type cooldown.
	if station.BatterySOC < lowSOCThresholdPct {
		events = append(events, model.AnomalyEvent{
			Type:      model.AnomalyBatterySOC,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("station %d battery charge low: %.1f%%", station.StationID, station.BatterySOC),
			DeviceSN:  sample.DeviceSN,
			StationID: station.StationID,
			Payload:   map[string]any{"battery_soc": station.BatterySOC},
		})
	}

	if expected > 0 && station.GenerationPower < correlationShortfall*expected {
		if temp, ok := maxMeasurementValue(sample, "temp"); ok && temp > correlationTempC {
			events = append(events, model.AnomalyEvent{
				Type:      model.AnomalyCorrelation,
				Severity:  model.SeverityWarning,
				Message:   fmt.Sprintf("station %d underproduces (%.0fW of ~%.0fW expected) while device %s runs hot (%.1f°C); possible shading or panel fault", station.StationID, station.GenerationPower, expected, sample.DeviceSN, temp),
				DeviceSN:  sample.DeviceSN,
				StationID: station.StationID,
				Payload:   map[string]any{"expected_w": expected, "actual_w": station.GenerationPower, "temperature": temp},
			})
		}
	}

	return events
}

// ExpectedProduction returns the rough production expectation in watts for a
// local hour of day, as a fraction of installed capacity.
func ExpectedProduction(hour int, capacityW float64) float64 {
	if capacityW <= 0 {
		capacityW = DefaultCapacityW
	}
	switch {
	case hour < 6 || hour >= 18:
		return 0
	case hour >= 10 && hour < 14:
		return 0.8 * capacityW
	case (hour >= 8 && hour < 10) || (hour >= 14 && hour < 16):
		return 0.6 * capacityW
	default: // 06-08 and 16-18 shoulders
		return 0.3 * capacityW
	}
}

// measurementValue returns the first measurement whose lowercased key
// contains the given substring.
func measurementValue(sample model.TelemetrySample, substr string) (float64, bool) {
	for _, m := range sample.Measurements {
		if strings.Contains(strings.ToLower(m.Key), substr) {
			return m.Value, true
		}
	}
	return 0, false
}

// maxMeasurementValue returns the highest value among all measurements whose
// lowercased key contains the given substring. Devices commonly report
// several temperature probes; the hottest one drives the correlation rule.
func maxMeasurementValue(sample model.TelemetrySample, substr string) (float64, bool) {
	max, found := 0.0, false
	for _, m := range sample.Measurements {
		if !strings.Contains(strings.ToLower(m.Key), substr) {
			continue
		}
		if !found || m.Value > max {
			max = m.Value
		}
		found = true
	}
	return max, found
}
