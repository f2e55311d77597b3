package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"solar-alerts/internal/model"
)

const (
	insertHistorySQL = `INSERT INTO device_history (
        collected_at,
        device_sn,
        station_id,
        measurements,
        generation_power_w,
        consumption_power_w,
        battery_soc,
        efficiency,
        fault_code
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listHistorySQL = `SELECT
        collected_at,
        device_sn,
        station_id,
        measurements,
        generation_power_w,
        consumption_power_w,
        battery_soc,
        efficiency,
        fault_code
    FROM device_history
    WHERE device_sn = $1
      AND collected_at >= $2
    ORDER BY collected_at DESC;`

	purgeHistorySQL = `DELETE FROM device_history WHERE collected_at < $1;`

	upsertBaselineSQL = `INSERT INTO device_baselines (
        device_sn, voltage, frequency, temperature, production
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (device_sn) DO UPDATE
    SET voltage     = EXCLUDED.voltage,
        frequency   = EXCLUDED.frequency,
        temperature = EXCLUDED.temperature,
        production  = EXCLUDED.production;`

	getBaselineSQL = `SELECT voltage, frequency, temperature, production
    FROM device_baselines
    WHERE device_sn = $1;`

	insertExplanationSQL = `INSERT INTO fault_explanations (
        fault_code, name, severity, cause, explanation, troubleshooting_steps, requires_onsite, owner_can_fix
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (fault_code) DO NOTHING;`

	getExplanationSQL = `SELECT
        fault_code, name, severity, cause, explanation, troubleshooting_steps, requires_onsite, owner_can_fix
    FROM fault_explanations
    WHERE fault_code = $1;`

	listExplanationsSQL = `SELECT
        fault_code, name, severity, cause, explanation, troubleshooting_steps, requires_onsite, owner_can_fix
    FROM fault_explanations
    ORDER BY fault_code;`

	insertAlertSQL = `INSERT INTO sent_alerts (
        id, type, severity, message, device_sn, station_id, fault_code, recommendation, recipient_email, sent_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentAlertsSQL = `SELECT
        id, type, severity, message, device_sn, station_id, fault_code, recommendation, recipient_email, sent_at
    FROM sent_alerts
    ORDER BY sent_at DESC
    LIMIT $1;`

	lastAlertTimeSQL = `SELECT sent_at
    FROM sent_alerts
    WHERE device_sn = $1
      AND type = $2
    ORDER BY sent_at DESC
    LIMIT 1;`

	trimAlertsSQL = `DELETE FROM sent_alerts
    WHERE id NOT IN (
        SELECT id FROM sent_alerts ORDER BY sent_at DESC LIMIT $1
    );`
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS device_history (
    id                  BIGSERIAL PRIMARY KEY,
    collected_at        TIMESTAMPTZ NOT NULL,
    device_sn           TEXT        NOT NULL,
    station_id          BIGINT      NOT NULL DEFAULT 0,
    measurements        JSONB       NOT NULL DEFAULT '[]',
    generation_power_w  DOUBLE PRECISION NOT NULL DEFAULT 0,
    consumption_power_w DOUBLE PRECISION NOT NULL DEFAULT 0,
    battery_soc         DOUBLE PRECISION NOT NULL DEFAULT 0,
    efficiency          DOUBLE PRECISION NOT NULL DEFAULT 0,
    fault_code          TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS device_history_sn_at_idx
    ON device_history (device_sn, collected_at DESC);

CREATE TABLE IF NOT EXISTS device_baselines (
    device_sn   TEXT PRIMARY KEY,
    voltage     DOUBLE PRECISION NOT NULL,
    frequency   DOUBLE PRECISION NOT NULL,
    temperature DOUBLE PRECISION NOT NULL,
    production  DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS fault_explanations (
    fault_code            TEXT PRIMARY KEY,
    name                  TEXT NOT NULL,
    severity              TEXT NOT NULL,
    cause                 TEXT NOT NULL,
    explanation           TEXT NOT NULL,
    troubleshooting_steps JSONB NOT NULL DEFAULT '[]',
    requires_onsite       BOOLEAN NOT NULL DEFAULT FALSE,
    owner_can_fix         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sent_alerts (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    message         TEXT NOT NULL,
    device_sn       TEXT NOT NULL,
    station_id      BIGINT NOT NULL DEFAULT 0,
    fault_code      TEXT NOT NULL DEFAULT '',
    recommendation  TEXT NOT NULL DEFAULT '',
    recipient_email TEXT NOT NULL DEFAULT '',
    sent_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sent_alerts_sn_type_at_idx
    ON sent_alerts (device_sn, type, sent_at DESC);
`

// Postgres persists the monitoring state through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the storage tables when they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendHistory persists one observation.
func (s *Postgres) AppendHistory(ctx context.Context, entry model.HistoryEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	measurements, err := json.Marshal(entry.Measurements)
	if err != nil {
		return fmt.Errorf("marshal measurements: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertHistorySQL,
		entry.Timestamp,
		entry.DeviceSN,
		entry.StationID,
		measurements,
		entry.GenerationPower,
		entry.ConsumptionPower,
		entry.BatterySOC,
		entry.Efficiency,
		entry.FaultCode,
	); execErr != nil {
		return fmt.Errorf("append history: %w", execErr)
	}
	return nil
}

// ListHistory returns one device's retained entries, newest first.
func (s *Postgres) ListHistory(ctx context.Context, deviceSN string, since time.Time) ([]model.HistoryEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, deviceSN, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0)
	for rows.Next() {
		entry, scanErr := scanHistoryEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// PurgeHistoryBefore removes entries past the retention window.
func (s *Postgres) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, purgeHistorySQL, cutoff); execErr != nil {
		return fmt.Errorf("purge history: %w", execErr)
	}
	return nil
}

// GetBaseline loads the stored baseline for a device.
func (s *Postgres) GetBaseline(ctx context.Context, deviceSN string) (model.Baseline, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Baseline{}, false, err
	}

	var b model.Baseline
	scanErr := pool.QueryRow(ctx, getBaselineSQL, deviceSN).Scan(&b.Voltage, &b.Frequency, &b.Temperature, &b.Production)
	if scanErr == pgx.ErrNoRows {
		return model.Baseline{}, false, nil
	}
	if scanErr != nil {
		return model.Baseline{}, false, fmt.Errorf("get baseline: %w", scanErr)
	}
	return b, true, nil
}

// PutBaseline upserts a device baseline.
func (s *Postgres) PutBaseline(ctx context.Context, deviceSN string, baseline model.Baseline) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertBaselineSQL,
		deviceSN, baseline.Voltage, baseline.Frequency, baseline.Temperature, baseline.Production,
	); execErr != nil {
		return fmt.Errorf("put baseline: %w", execErr)
	}
	return nil
}

// GetExplanation returns the cached explanation or nil.
func (s *Postgres) GetExplanation(ctx context.Context, faultCode string) (*model.ExplanationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanExplanation(pool.QueryRow(ctx, getExplanationSQL, faultCode))
	if scanErr == pgx.ErrNoRows {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("get explanation: %w", scanErr)
	}
	return &rec, nil
}

// PutExplanation caches an explanation; an existing fault code wins.
func (s *Postgres) PutExplanation(ctx context.Context, rec model.ExplanationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	steps, err := json.Marshal(rec.TroubleshootingSteps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertExplanationSQL,
		rec.FaultCode, rec.Name, string(rec.Severity), rec.Cause, rec.Explanation, steps, rec.RequiresOnsite, rec.OwnerCanFix,
	); execErr != nil {
		return fmt.Errorf("put explanation: %w", execErr)
	}
	return nil
}

// ListExplanations returns every cached fault explanation.
func (s *Postgres) ListExplanations(ctx context.Context) ([]model.ExplanationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listExplanationsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list explanations: %w", queryErr)
	}
	defer rows.Close()

	records := make([]model.ExplanationRecord, 0)
	for rows.Next() {
		rec, scanErr := scanExplanation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// AppendAlert persists one dispatched alert.
func (s *Postgres) AppendAlert(ctx context.Context, alert model.SentAlert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		string(alert.Type),
		string(alert.Severity),
		alert.Message,
		alert.DeviceSN,
		alert.StationID,
		alert.FaultCode,
		alert.Recommendation,
		alert.RecipientEmail,
		alert.SentAt,
	); execErr != nil {
		return fmt.Errorf("append alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Postgres) ListRecentAlerts(ctx context.Context, limit int) ([]model.SentAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]model.SentAlert, 0, limit)
	for rows.Next() {
		var (
			alert     model.SentAlert
			typ       string
			severity  string
			faultCode sql.NullString
		)
		if err := rows.Scan(
			&alert.ID,
			&typ,
			&severity,
			&alert.Message,
			&alert.DeviceSN,
			&alert.StationID,
			&faultCode,
			&alert.Recommendation,
			&alert.RecipientEmail,
			&alert.SentAt,
		); err != nil {
			return nil, err
		}
		alert.Type = model.AnomalyType(typ)
		alert.Severity = model.Severity(severity)
		if faultCode.Valid {
			alert.FaultCode = faultCode.String
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LastAlertTime returns when the last alert for (device, type) was sent.
func (s *Postgres) LastAlertTime(ctx context.Context, deviceSN string, typ model.AnomalyType) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var sentAt time.Time
	scanErr := pool.QueryRow(ctx, lastAlertTimeSQL, deviceSN, string(typ)).Scan(&sentAt)
	if scanErr == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if scanErr != nil {
		return time.Time{}, false, fmt.Errorf("last alert time: %w", scanErr)
	}
	return sentAt, true, nil
}

// TrimAlerts keeps only the most recent entries.
func (s *Postgres) TrimAlerts(ctx context.Context, keep int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, trimAlertsSQL, keep); execErr != nil {
		return fmt.Errorf("trim alerts: %w", execErr)
	}
	return nil
}

func scanHistoryEntry(rows pgx.Rows) (model.HistoryEntry, error) {
	var (
		entry        model.HistoryEntry
		measurements []byte
		faultCode    sql.NullString
	)

	if err := rows.Scan(
		&entry.Timestamp,
		&entry.DeviceSN,
		&entry.StationID,
		&measurements,
		&entry.GenerationPower,
		&entry.ConsumptionPower,
		&entry.BatterySOC,
		&entry.Efficiency,
		&faultCode,
	); err != nil {
		return model.HistoryEntry{}, err
	}

	if len(measurements) > 0 {
		if err := json.Unmarshal(measurements, &entry.Measurements); err != nil {
			return model.HistoryEntry{}, fmt.Errorf("decode measurements: %w", err)
		}
	}
	if faultCode.Valid {
		entry.FaultCode = faultCode.String
	}

	return entry, nil
}

func scanExplanation(row pgx.Row) (model.ExplanationRecord, error) {
	var (
		rec      model.ExplanationRecord
		severity string
		steps    []byte
	)
	if err := row.Scan(
		&rec.FaultCode,
		&rec.Name,
		&severity,
		&rec.Cause,
		&rec.Explanation,
		&steps,
		&rec.RequiresOnsite,
		&rec.OwnerCanFix,
	); err != nil {
		return model.ExplanationRecord{}, err
	}
	rec.Severity = model.Severity(severity)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &rec.TroubleshootingSteps); err != nil {
			return model.ExplanationRecord{}, fmt.Errorf("decode steps: %w", err)
		}
	}
	return rec, nil
}

var _ Store = (*Postgres)(nil)
