package detect

import (
	"fmt"

	"github.com/shopspring/decimal"

	"solar-alerts/internal/model"
)

const (
	// PatternMinEntries is the minimum retained history before pattern
	// analysis produces anything.
	PatternMinEntries = 7

	recentWindow       = 7
	olderWindow        = 23
	repeatedFaultFloor = 3
)

var declineRatio = decimal.NewFromFloat(0.9)

// DetectPatterns analyses a device's retained history, ordered most recent
// first, for slow trends the single-sample rules cannot see.
func DetectPatterns(deviceSN string, entries []model.HistoryEntry) []model.AnomalyEvent {
	if len(entries) < PatternMinEntries {
		return nil
	}

	var events []model.AnomalyEvent

	if ev, ok := decliningEfficiency(deviceSN, entries); ok {
		events = append(events, ev)
	}
	events = append(events, repeatedFaults(deviceSN, entries)...)

	return events
}

func decliningEfficiency(deviceSN string, entries []model.HistoryEntry) (model.AnomalyEvent, bool) {
	if len(entries) <= recentWindow {
		return model.AnomalyEvent{}, false
	}

	// The comparison baseline stops at 30 entries back so a month of
	// retained history cannot dilute a recent decline.
	end := recentWindow + olderWindow
	if end > len(entries) {
		end = len(entries)
	}

	recent := averageEfficiency(entries[:recentWindow])
	older := averageEfficiency(entries[recentWindow:end])
	if older.IsZero() {
		return model.AnomalyEvent{}, false
	}

	if recent.GreaterThanOrEqual(older.Mul(declineRatio)) {
		return model.AnomalyEvent{}, false
	}

	return model.AnomalyEvent{
		Type:     model.AnomalyDecliningEfficiency,
		Severity: model.SeverityWarning,
		Message: fmt.Sprintf("device %s efficiency declined: recent average %s vs earlier %s",
			deviceSN, recent.StringFixed(3), older.StringFixed(3)),
		DeviceSN:  deviceSN,
		StationID: entries[0].StationID,
		Payload: map[string]any{
			"recent_avg": recent.InexactFloat64(),
			"older_avg":  older.InexactFloat64(),
		},
	}, true
}

func averageEfficiency(entries []model.HistoryEntry) decimal.Decimal {
	if len(entries) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(decimal.NewFromFloat(e.Efficiency))
	}
	return sum.Div(decimal.NewFromInt(int64(len(entries))))
}

func repeatedFaults(deviceSN string, entries []model.HistoryEntry) []model.AnomalyEvent {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, e := range entries {
		if e.FaultCode == "" {
			continue
		}
		if counts[e.FaultCode] == 0 {
			order = append(order, e.FaultCode)
		}
		counts[e.FaultCode]++
	}

	var events []model.AnomalyEvent
	for _, code := range order {
		count := counts[code]
		if count < repeatedFaultFloor {
			continue
		}
		events = append(events, model.AnomalyEvent{
			Type:      model.AnomalyRepeatedFault,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("device %s reported fault code %s %d times within the retained window", deviceSN, code, count),
			DeviceSN:  deviceSN,
			StationID: entries[0].StationID,
			FaultCode: code,
			Payload:   map[string]any{"count": count},
		})
	}
	return events
}
