package detect

import (
	"testing"
	"time"

	"solar-alerts/internal/model"
)

func historyEntries(efficiencies []float64, faultEvery int) []model.HistoryEntry {
	entries := make([]model.HistoryEntry, 0, len(efficiencies))
	now := time.Now().UTC()
	for i, eff := range efficiencies {
		entry := model.HistoryEntry{
			Timestamp:  now.Add(-time.Duration(i) * 24 * time.Hour),
			DeviceSN:   "SN1",
			StationID:  7,
			Efficiency: eff,
		}
		if faultEvery > 0 && i%faultEvery == 0 {
			entry.FaultCode = "17"
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestPatternsNeedMinimumHistory(t *testing.T) {
	entries := historyEntries([]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1}, 1)
	if events := DetectPatterns("SN1", entries); events != nil {
		t.Fatalf("fewer than %d entries must yield nothing, got %+v", PatternMinEntries, events)
	}
}

func TestDecliningEfficiency(t *testing.T) {
	// Recent week at 0.4, the three weeks before at 0.8.
	effs := make([]float64, 0, 30)
	for i := 0; i < 7; i++ {
		effs = append(effs, 0.4)
	}
	for i := 0; i < 23; i++ {
		effs = append(effs, 0.8)
	}

	events := DetectPatterns("SN1", historyEntries(effs, 0))
	if len(events) != 1 || events[0].Type != model.AnomalyDecliningEfficiency {
		t.Fatalf("expected declining_efficiency, got %+v", events)
	}
	if events[0].Payload["recent_avg"].(float64) >= events[0].Payload["older_avg"].(float64) {
		t.Fatalf("payload averages inconsistent: %+v", events[0].Payload)
	}
}

func TestDecliningEfficiencyIgnoresHistoryBeyondComparisonWindow(t *testing.T) {
	// Recent week at 0.5 against the 23 entries before it at 0.6 is a real
	// decline. The month of 0.3 readings further back must not drag the
	// comparison baseline down and mask it.
	effs := make([]float64, 0, 60)
	for i := 0; i < 7; i++ {
		effs = append(effs, 0.5)
	}
	for i := 0; i < 23; i++ {
		effs = append(effs, 0.6)
	}
	for i := 0; i < 30; i++ {
		effs = append(effs, 0.3)
	}

	events := DetectPatterns("SN1", historyEntries(effs, 0))
	if len(events) != 1 || events[0].Type != model.AnomalyDecliningEfficiency {
		t.Fatalf("expected declining_efficiency, got %+v", events)
	}
	if got := events[0].Payload["older_avg"].(float64); got < 0.59 || got > 0.61 {
		t.Fatalf("comparison baseline should cover only the 23 preceding entries, got avg %v", got)
	}
}

func TestStableEfficiencyStaysQuiet(t *testing.T) {
	effs := make([]float64, 30)
	for i := range effs {
		effs[i] = 0.75
	}
	if events := DetectPatterns("SN1", historyEntries(effs, 0)); len(events) != 0 {
		t.Fatalf("flat efficiency should not fire, got %+v", events)
	}
}

func TestMildDipBelowTenPercentStaysQuiet(t *testing.T) {
	effs := make([]float64, 0, 30)
	for i := 0; i < 7; i++ {
		effs = append(effs, 0.74) // ~5% below, inside the 0.9 factor
	}
	for i := 0; i < 23; i++ {
		effs = append(effs, 0.78)
	}
	if events := DetectPatterns("SN1", historyEntries(effs, 0)); len(events) != 0 {
		t.Fatalf("dip under 10%% should not fire, got %+v", events)
	}
}

func TestRepeatedFault(t *testing.T) {
	effs := make([]float64, 10)
	for i := range effs {
		effs[i] = 0.7
	}
	events := DetectPatterns("SN1", historyEntries(effs, 3)) // codes at 0,3,6,9 = 4 occurrences

	if len(events) != 1 || events[0].Type != model.AnomalyRepeatedFault {
		t.Fatalf("expected repeated_fault, got %+v", events)
	}
	if events[0].FaultCode != "17" || events[0].Payload["count"].(int) != 4 {
		t.Fatalf("unexpected fault payload: %+v", events[0])
	}
}

func TestTwoOccurrencesAreNotRepeated(t *testing.T) {
	effs := make([]float64, 8)
	for i := range effs {
		effs[i] = 0.7
	}
	entries := historyEntries(effs, 0)
	entries[0].FaultCode = "5"
	entries[4].FaultCode = "5"

	if events := DetectPatterns("SN1", entries); len(events) != 0 {
		t.Fatalf("two occurrences are below the repeat floor, got %+v", events)
	}
}
