package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"solar-alerts/internal/config"
	"solar-alerts/internal/model"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

// HistoryStore retains per-device observations for the rolling window.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry model.HistoryEntry) error
	// ListHistory returns entries for one device since the cutoff, most
	// recent first.
	ListHistory(ctx context.Context, deviceSN string, since time.Time) ([]model.HistoryEntry, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error
}

// BaselineStore keeps the per-device smoothed baselines.
type BaselineStore interface {
	GetBaseline(ctx context.Context, deviceSN string) (model.Baseline, bool, error)
	PutBaseline(ctx context.Context, deviceSN string, baseline model.Baseline) error
}

// ExplanationStore caches structured fault explanations. A fault code is
// written once and never refreshed.
type ExplanationStore interface {
	GetExplanation(ctx context.Context, faultCode string) (*model.ExplanationRecord, error)
	PutExplanation(ctx context.Context, rec model.ExplanationRecord) error
	ListExplanations(ctx context.Context) ([]model.ExplanationRecord, error)
}

// AlertLogStore is the append-only sent-alert log, capped and queried for
// cooldown suppression.
type AlertLogStore interface {
	AppendAlert(ctx context.Context, alert model.SentAlert) error
	ListRecentAlerts(ctx context.Context, limit int) ([]model.SentAlert, error)
	LastAlertTime(ctx context.Context, deviceSN string, typ model.AnomalyType) (time.Time, bool, error)
	TrimAlerts(ctx context.Context, keep int) error
}

// Store aggregates all persistence concerns of the monitoring engine.
type Store interface {
	HistoryStore
	BaselineStore
	ExplanationStore
	AlertLogStore
	Close()
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
