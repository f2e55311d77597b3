package cloudapi

import (
	"strconv"
	"time"

	"solar-alerts/internal/model"
)

// Station is one entry from the station list endpoint.
type Station struct {
	StationID         int64       `json:"id"`
	Name              string      `json:"name"`
	InstalledCapacity float64     `json:"installedCapacity"`
	DeviceList        []DeviceRef `json:"deviceListItems"`
}

// DeviceRef identifies one device attached to a station.
type DeviceRef struct {
	DeviceSN   string `json:"deviceSn"`
	DeviceType string `json:"deviceType"`
}

// StationMetrics carries the station realtime endpoint payload.
type StationMetrics struct {
	GenerationPower float64 `json:"generationPower"`
	UsePower        float64 `json:"usePower"`
	BatterySOC      float64 `json:"batterySoc"`
}

// DeviceData is one device reading from the batch latest-data endpoint.
type DeviceData struct {
	DeviceSN       string     `json:"deviceSn"`
	DeviceType     string     `json:"deviceType"`
	DeviceState    int        `json:"deviceState"`
	CollectionTime int64      `json:"collectionTime"`
	DataList       []DataItem `json:"dataList"`
}

// DataItem is a single keyed measurement. Values arrive as strings on the
// wire; non-numeric values are dropped during conversion.
type DataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

// ToSample converts wire device data into a domain telemetry sample.
func (d DeviceData) ToSample() model.TelemetrySample {
	measurements := make([]model.Measurement, 0, len(d.DataList))
	for _, item := range d.DataList {
		value, err := strconv.ParseFloat(item.Value, 64)
		if err != nil {
			continue
		}
		measurements = append(measurements, model.Measurement{
			Key:   item.Key,
			Value: value,
			Unit:  item.Unit,
		})
	}

	ts := time.Now().UTC()
	if d.CollectionTime > 0 {
		ts = time.Unix(d.CollectionTime, 0).UTC()
	}

	return model.TelemetrySample{
		DeviceSN:     d.DeviceSN,
		DeviceType:   d.DeviceType,
		DeviceState:  d.DeviceState,
		Measurements: measurements,
		Timestamp:    ts,
	}
}

// ToStationSample combines station identity with its realtime metrics.
func ToStationSample(st Station, metrics StationMetrics) model.StationSample {
	return model.StationSample{
		StationID:         st.StationID,
		GenerationPower:   metrics.GenerationPower,
		ConsumptionPower:  metrics.UsePower,
		BatterySOC:        metrics.BatterySOC,
		InstalledCapacity: st.InstalledCapacity,
	}
}
