package detect

import (
	"reflect"
	"testing"
	"time"

	"solar-alerts/internal/model"
)

func sampleWith(measurements ...model.Measurement) model.TelemetrySample {
	return model.TelemetrySample{
		DeviceSN:     "SN1",
		DeviceType:   "INVERTER",
		Measurements: measurements,
		Timestamp:    time.Now().UTC(),
	}
}

func at(hour int) time.Time {
	return time.Date(2026, 8, 1, hour, 30, 0, 0, time.UTC)
}

func TestFaultCodeRule(t *testing.T) {
	sample := sampleWith(model.Measurement{Key: "Fault_Code_1", Value: 17})
	events := DetectAnomalies(sample, nil, at(12), 0)

	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.AnomalyFaultCode || ev.Severity != model.SeverityCritical {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.FaultCode != "17" {
		t.Fatalf("fault code should be stringified value, got %q", ev.FaultCode)
	}
}

func TestZeroFaultCodeIsNotAFault(t *testing.T) {
	sample := sampleWith(model.Measurement{Key: "fault_1", Value: 0})
	if events := DetectAnomalies(sample, nil, at(12), 0); len(events) != 0 {
		t.Fatalf("zero-valued fault measurement must not fire, got %+v", events)
	}
}

func TestTemperatureRules(t *testing.T) {
	cases := []struct {
		name   string
		value  float64
		expect int
	}{
		{"high", 85, 1},
		{"low", -15, 1},
		{"normal", 42, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sample := sampleWith(model.Measurement{Key: "AC_Temperature", Value: tc.value, Unit: "C"})
			events := DetectAnomalies(sample, nil, at(12), 0)
			if len(events) != tc.expect {
				t.Fatalf("value %.0f: expected %d events, got %d", tc.value, tc.expect, len(events))
			}
			if tc.expect == 1 && events[0].Type != model.AnomalyTemperature {
				t.Fatalf("unexpected type %s", events[0].Type)
			}
		})
	}
}

func TestBatteryRules(t *testing.T) {
	sample := sampleWith(
		model.Measurement{Key: "Battery_SOC", Value: 12},
		model.Measurement{Key: "Battery_SOH", Value: 70},
	)
	events := DetectAnomalies(sample, nil, at(12), 0)
	if len(events) != 2 {
		t.Fatalf("expected SOC and SOH events, got %+v", events)
	}
	if events[0].Type != model.AnomalyBatterySOC || events[1].Type != model.AnomalyBatterySOH {
		t.Fatalf("unexpected order/types: %+v", events)
	}
}

func TestNoProductionAtNoon(t *testing.T) {
	sample := sampleWith()
	station := &model.StationSample{StationID: 7, GenerationPower: 0, BatterySOC: 60, InstalledCapacity: 5000}

	events := DetectAnomalies(sample, station, at(12), 0)
	if len(events) != 1 {
		t.Fatalf("expected exactly the no_production event, got %+v", events)
	}
	ev := events[0]
	if ev.Type != model.AnomalyNoProduction {
		t.Fatalf("unexpected type %s", ev.Type)
	}
	if expected := ev.Payload["expected_w"].(float64); expected != 4000 {
		t.Fatalf("expected production at noon should be 4000W, got %.0f", expected)
	}
	if actual := ev.Payload["actual_w"].(float64); actual != 0 {
		t.Fatalf("actual should be 0W, got %.0f", actual)
	}
}

func TestNoProductionSilentAtNight(t *testing.T) {
	station := &model.StationSample{StationID: 7, GenerationPower: 0, BatterySOC: 60, InstalledCapacity: 5000}
	if events := DetectAnomalies(sampleWith(), station, at(2), 0); len(events) != 0 {
		t.Fatalf("no expectation at night, got %+v", events)
	}
}

func TestStationSOCFiresIndependently(t *testing.T) {
	sample := sampleWith(model.Measurement{Key: "Battery_SOC", Value: 10})
	station := &model.StationSample{StationID: 7, GenerationPower: 3000, BatterySOC: 10, InstalledCapacity: 5000}

	events := DetectAnomalies(sample, station, at(12), 0)
	var socCount int
	for _, ev := range events {
		if ev.Type == model.AnomalyBatterySOC {
			socCount++
		}
	}
	// Device- and station-level checks both fire; the dispatcher cooldown
	// collapses the pair into one alert.
	if socCount != 2 {
		t.Fatalf("expected duplicate SOC emissions, got %d (%+v)", socCount, events)
	}
}

func TestCorrelationRule(t *testing.T) {
	sample := sampleWith(model.Measurement{Key: "Radiator_Temperature", Value: 65, Unit: "C"})
	station := &model.StationSample{StationID: 7, GenerationPower: 1500, BatterySOC: 80, InstalledCapacity: 5000}

	events := DetectAnomalies(sample, station, at(12), 0)
	if len(events) != 1 || events[0].Type != model.AnomalyCorrelation {
		t.Fatalf("expected correlation event, got %+v", events)
	}
}

func TestCorrelationRuleUsesHottestTemperatureProbe(t *testing.T) {
	// A cool ambient probe listed before the hot heatsink probe must not
	// hide the overheating.
	sample := sampleWith(
		model.Measurement{Key: "Ambient_Temperature", Value: 28, Unit: "C"},
		model.Measurement{Key: "Heatsink_Temperature", Value: 72, Unit: "C"},
	)
	station := &model.StationSample{StationID: 7, GenerationPower: 1500, BatterySOC: 80, InstalledCapacity: 5000}

	events := DetectAnomalies(sample, station, at(12), 0)
	if len(events) != 1 || events[0].Type != model.AnomalyCorrelation {
		t.Fatalf("expected correlation event from the hottest probe, got %+v", events)
	}
	if got := events[0].Payload["temperature"].(float64); got != 72 {
		t.Fatalf("correlation should report the hottest probe, got %v", got)
	}
}

func TestDetectAnomaliesIsIdempotent(t *testing.T) {
	sample := sampleWith(
		model.Measurement{Key: "Fault_Code_1", Value: 3},
		model.Measurement{Key: "Temperature", Value: 90},
		model.Measurement{Key: "Battery_SOC", Value: 5},
	)
	station := &model.StationSample{StationID: 7, GenerationPower: 0, BatterySOC: 5, InstalledCapacity: 5000}
	now := at(12)

	first := DetectAnomalies(sample, station, now, 0)
	second := DetectAnomalies(sample, station, now, 0)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detection must be pure and order-stable:\n%+v\n%+v", first, second)
	}
}

func TestExpectedProductionCurve(t *testing.T) {
	cases := []struct {
		hour int
		want float64
	}{
		{0, 0}, {5, 0}, {6, 1500}, {7, 1500}, {8, 3000}, {9, 3000},
		{10, 4000}, {13, 4000}, {14, 3000}, {15, 3000}, {16, 1500},
		{17, 1500}, {18, 0}, {23, 0},
	}
	for _, tc := range cases {
		if got := ExpectedProduction(tc.hour, 5000); got != tc.want {
			t.Fatalf("hour %d: expected %.0fW, got %.0fW", tc.hour, tc.want, got)
		}
	}
	// Unknown capacity falls back to the 5kW default.
	if got := ExpectedProduction(12, 0); got != 4000 {
		t.Fatalf("default capacity fallback broken: %.0f", got)
	}
}
