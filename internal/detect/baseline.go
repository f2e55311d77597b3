package detect

import "solar-alerts/internal/model"

// Exponential smoothing factor: each update keeps 90% of the old value.
const baselineAlpha = 0.1

// DefaultBaseline is the lazily created starting point for a device that has
// never been observed before.
func DefaultBaseline() model.Baseline {
	return model.Baseline{
		Voltage:     230,
		Frequency:   50,
		Temperature: 25,
		Production:  0,
	}
}

// UpdateBaseline folds one telemetry sample into a device baseline. Metrics
// absent from the sample leave the corresponding baseline field untouched.
// Production tracks the station generation power passed alongside the sample.
func UpdateBaseline(b model.Baseline, sample model.TelemetrySample, productionW float64) model.Baseline {
	if v, ok := measurementValue(sample, "voltage"); ok {
		b.Voltage = smooth(b.Voltage, v)
	}
	if v, ok := measurementValue(sample, "freq"); ok {
		b.Frequency = smooth(b.Frequency, v)
	}
	if v, ok := measurementValue(sample, "temp"); ok {
		b.Temperature = smooth(b.Temperature, v)
	}
	if productionW >= 0 {
		b.Production = smooth(b.Production, productionW)
	}
	return b
}

func smooth(old, sample float64) float64 {
	return old*(1-baselineAlpha) + sample*baselineAlpha
}
