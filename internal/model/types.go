package model

import "time"

// AnomalyType enumerates the kinds of anomalies the detectors emit.
type AnomalyType string

const (
	AnomalyFaultCode           AnomalyType = "fault_code"
	AnomalyTemperature         AnomalyType = "temperature"
	AnomalyBatterySOC          AnomalyType = "battery_soc"
	AnomalyBatterySOH          AnomalyType = "battery_soh"
	AnomalyNoProduction        AnomalyType = "no_production"
	AnomalyCorrelation         AnomalyType = "correlation"
	AnomalyDecliningEfficiency AnomalyType = "declining_efficiency"
	AnomalyRepeatedFault       AnomalyType = "repeated_fault"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Measurement is a single keyed reading from a device data list.
type Measurement struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// TelemetrySample is one device reading as returned by the cloud API.
// Immutable once received.
type TelemetrySample struct {
	DeviceSN     string        `json:"device_sn"`
	DeviceType   string        `json:"device_type"`
	DeviceState  int           `json:"device_state"`
	Measurements []Measurement `json:"measurements"`
	Timestamp    time.Time     `json:"timestamp"`
}

// StationSample carries station-level aggregate metrics correlated with a
// telemetry sample by station membership.
type StationSample struct {
	StationID         int64   `json:"station_id"`
	GenerationPower   float64 `json:"generation_power_w"`
	ConsumptionPower  float64 `json:"consumption_power_w"`
	BatterySOC        float64 `json:"battery_soc"`
	InstalledCapacity float64 `json:"installed_capacity_w"`
}

// Baseline holds the slowly adapting per-device averages.
type Baseline struct {
	Voltage     float64 `json:"voltage"`
	Frequency   float64 `json:"frequency"`
	Temperature float64 `json:"temperature"`
	Production  float64 `json:"production"`
}

// HistoryEntry is one retained per-device observation. Entries are append-only
// and purged after the retention window.
type HistoryEntry struct {
	Timestamp        time.Time     `json:"timestamp"`
	DeviceSN         string        `json:"device_sn"`
	StationID        int64         `json:"station_id"`
	Measurements     []Measurement `json:"measurements,omitempty"`
	GenerationPower  float64       `json:"generation_power_w"`
	ConsumptionPower float64       `json:"consumption_power_w"`
	BatterySOC       float64       `json:"battery_soc"`
	Efficiency       float64       `json:"efficiency"`
	FaultCode        string        `json:"fault_code,omitempty"`
}

// AnomalyEvent is produced by the detectors and consumed by the dispatcher.
type AnomalyEvent struct {
	Type      AnomalyType    `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	DeviceSN  string         `json:"device_sn"`
	StationID int64          `json:"station_id,omitempty"`
	FaultCode string         `json:"fault_code,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ExplanationRecord is the structured explanation for one fault code.
// Keyed uniquely by FaultCode; immutable once cached.
type ExplanationRecord struct {
	FaultCode            string   `json:"fault_code"`
	Name                 string   `json:"name"`
	Severity             Severity `json:"severity"`
	Cause                string   `json:"cause"`
	Explanation          string   `json:"explanation"`
	TroubleshootingSteps []string `json:"troubleshooting_steps"`
	RequiresOnsite       bool     `json:"requires_onsite"`
	OwnerCanFix          bool     `json:"owner_can_fix"`
}

// SentAlert records one dispatched alert. The log is append-only and capped,
// and doubles as the cooldown lookup source.
type SentAlert struct {
	ID             string      `json:"id"`
	Type           AnomalyType `json:"type"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	DeviceSN       string      `json:"device_sn"`
	StationID      int64       `json:"station_id,omitempty"`
	FaultCode      string      `json:"fault_code,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
	RecipientEmail string      `json:"recipient_email"`
	SentAt         time.Time   `json:"sent_at"`
}
