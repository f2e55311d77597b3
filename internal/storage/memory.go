package storage

import (
	"context"
	"sync"
	"time"

	"solar-alerts/internal/model"
)

// Memory is the process-local fallback store used when no database is
// configured. The engine runs degraded but fully functional on it.
type Memory struct {
	mu           sync.RWMutex
	history      map[string][]model.HistoryEntry
	baselines    map[string]model.Baseline
	explanations map[string]model.ExplanationRecord
	faultOrder   []string
	alerts       []model.SentAlert
	alertCap     int
}

// NewMemory constructs an in-memory store.
func NewMemory(alertCap int) *Memory {
	if alertCap <= 0 {
		alertCap = 1000
	}
	return &Memory{
		history:      make(map[string][]model.HistoryEntry),
		baselines:    make(map[string]model.Baseline),
		explanations: make(map[string]model.ExplanationRecord),
		alertCap:     alertCap,
	}
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}

// AppendHistory records one observation in chronological order.
func (m *Memory) AppendHistory(_ context.Context, entry model.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[entry.DeviceSN] = append(m.history[entry.DeviceSN], entry)
	return nil
}

// ListHistory returns a device's entries since the cutoff, newest first.
func (m *Memory) ListHistory(_ context.Context, deviceSN string, since time.Time) ([]model.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[deviceSN]
	out := make([]model.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp.Before(since) {
			continue
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// PurgeHistoryBefore drops entries past the retention window.
func (m *Memory) PurgeHistoryBefore(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sn, entries := range m.history {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m.history, sn)
			continue
		}
		m.history[sn] = kept
	}
	return nil
}

// GetBaseline loads a device baseline.
func (m *Memory) GetBaseline(_ context.Context, deviceSN string) (model.Baseline, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[deviceSN]
	return b, ok, nil
}

// PutBaseline stores a device baseline.
func (m *Memory) PutBaseline(_ context.Context, deviceSN string, baseline model.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[deviceSN] = baseline
	return nil
}

// GetExplanation returns the cached explanation or nil.
func (m *Memory) GetExplanation(_ context.Context, faultCode string) (*model.ExplanationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.explanations[faultCode]; ok {
		return &rec, nil
	}
	return nil, nil
}

// PutExplanation caches an explanation; the first write for a code wins.
func (m *Memory) PutExplanation(_ context.Context, rec model.ExplanationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.explanations[rec.FaultCode]; ok {
		return nil
	}
	m.explanations[rec.FaultCode] = rec
	m.faultOrder = append(m.faultOrder, rec.FaultCode)
	return nil
}

// ListExplanations returns cached explanations in insertion order.
func (m *Memory) ListExplanations(_ context.Context) ([]model.ExplanationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ExplanationRecord, 0, len(m.faultOrder))
	for _, code := range m.faultOrder {
		out = append(out, m.explanations[code])
	}
	return out, nil
}

// AppendAlert records a dispatched alert, evicting the oldest at capacity.
func (m *Memory) AppendAlert(_ context.Context, alert model.SentAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) >= m.alertCap {
		copy(m.alerts, m.alerts[1:])
		m.alerts[len(m.alerts)-1] = alert
		return nil
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// ListRecentAlerts returns the newest alerts first.
func (m *Memory) ListRecentAlerts(_ context.Context, limit int) ([]model.SentAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]model.SentAlert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

// LastAlertTime scans the log for the newest (device, type) match.
func (m *Memory) LastAlertTime(_ context.Context, deviceSN string, typ model.AnomalyType) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.DeviceSN == deviceSN && a.Type == typ {
			return a.SentAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// TrimAlerts keeps only the most recent entries.
func (m *Memory) TrimAlerts(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keep <= 0 || len(m.alerts) <= keep {
		return nil
	}
	m.alerts = append([]model.SentAlert{}, m.alerts[len(m.alerts)-keep:]...)
	return nil
}

var _ Store = (*Memory)(nil)
