package explain

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"solar-alerts/internal/model"
	"solar-alerts/internal/storage"
)

// Cache maps fault codes to structured explanations. Fault semantics are
// device-model-invariant, so the cache is keyed by code alone. A code is
// explained once and never refreshed.
type Cache struct {
	mu     sync.RWMutex
	local  map[string]model.ExplanationRecord
	store  storage.ExplanationStore
	llm    Explainer
	logger zerolog.Logger
}

// NewCache builds the cache over an optional backing store and the LLM
// collaborator.
func NewCache(store storage.ExplanationStore, llm Explainer, logger zerolog.Logger) *Cache {
	return &Cache{
		local:  make(map[string]model.ExplanationRecord),
		store:  store,
		llm:    llm,
		logger: logger.With().Str("component", "explanation_cache").Logger(),
	}
}

// Explain resolves a fault code to an explanation. It never fails: LLM
// unavailability degrades to a deterministic fallback record.
func (c *Cache) Explain(ctx context.Context, faultCode, deviceContext string) model.ExplanationRecord {
	c.mu.RLock()
	if rec, ok := c.local[faultCode]; ok {
		c.mu.RUnlock()
		return rec
	}
	c.mu.RUnlock()

	if c.store != nil {
		if rec, err := c.store.GetExplanation(ctx, faultCode); err != nil {
			c.logger.Error().Err(err).Str("fault_code", faultCode).Msg("explanation store lookup failed")
		} else if rec != nil {
			c.remember(*rec)
			return *rec
		}
	}

	rec := c.resolve(ctx, faultCode, deviceContext)
	c.remember(rec)

	if c.store != nil {
		if err := c.store.PutExplanation(ctx, rec); err != nil {
			c.logger.Error().Err(err).Str("fault_code", faultCode).Msg("failed to persist explanation")
		}
	}

	return rec
}

func (c *Cache) resolve(ctx context.Context, faultCode, deviceContext string) model.ExplanationRecord {
	if c.llm == nil {
		return Fallback(faultCode)
	}

	rec, err := c.llm.Explain(ctx, faultCode, deviceContext)
	if err != nil {
		c.logger.Warn().Err(err).Str("fault_code", faultCode).Msg("llm explanation failed, using fallback")
		return Fallback(faultCode)
	}
	rec.FaultCode = faultCode
	return rec
}

// remember performs an insert-if-absent so concurrent resolvers of the same
// code converge on one record.
func (c *Cache) remember(rec model.ExplanationRecord) {
	c.mu.Lock()
	if _, ok := c.local[rec.FaultCode]; !ok {
		c.local[rec.FaultCode] = rec
	}
	c.mu.Unlock()
}

// List returns every known explanation.
func (c *Cache) List(ctx context.Context) ([]model.ExplanationRecord, error) {
	if c.store != nil {
		return c.store.ListExplanations(ctx)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ExplanationRecord, 0, len(c.local))
	for _, rec := range c.local {
		out = append(out, rec)
	}
	return out, nil
}

// Fallback is the deterministic explanation substituted when the LLM
// collaborator is unavailable or returns garbage.
func Fallback(faultCode string) model.ExplanationRecord {
	return model.ExplanationRecord{
		FaultCode:   faultCode,
		Name:        fmt.Sprintf("Fault %s", faultCode),
		Severity:    model.SeverityWarning,
		Cause:       "Unknown; automatic explanation unavailable.",
		Explanation: fmt.Sprintf("The device reported fault code %s. Consult the inverter manual for the exact meaning.", faultCode),
		TroubleshootingSteps: []string{
			"Check the inverter display for the fault text.",
			"Power-cycle the inverter once and observe whether the fault returns.",
			"Contact the installer if the fault persists.",
		},
		RequiresOnsite: false,
		OwnerCanFix:    false,
	}
}
