package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"solar-alerts/internal/model"
)

// Export renders one device's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.DeviceSN == "" {
		return errors.New("--device is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Monitor.HistoryRetention)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := store.ListHistory(ctx, opts.DeviceSN, from)
	if err != nil {
		return err
	}

	// History comes back newest first; exports read better oldest first.
	kept := make([]model.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Timestamp.After(to) {
			continue
		}
		kept = append(kept, entries[i])
	}
	if len(kept) == 0 {
		a.Logger.Info().Str("device_sn", opts.DeviceSN).Msg("no history found for export window")
		return nil
	}

	downsampled := downsampleEntries(kept, opts.MaxPoints)
	a.Logger.Info().
		Str("device_sn", opts.DeviceSN).
		Int("total", len(kept)).
		Int("exported", len(downsampled)).
		Msg("exporting device history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.DeviceSN, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEntries(entries []model.HistoryEntry, max int) []model.HistoryEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}

	result := make([]model.HistoryEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeHistoryCSV(path string, entries []model.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"collected_at", "device_sn", "station_id", "generation_power_w", "consumption_power_w", "battery_soc", "efficiency", "fault_code"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		record := []string{
			entry.Timestamp.Format(time.RFC3339),
			entry.DeviceSN,
			strconv.FormatInt(entry.StationID, 10),
			strconv.FormatFloat(entry.GenerationPower, 'f', 1, 64),
			strconv.FormatFloat(entry.ConsumptionPower, 'f', 1, 64),
			strconv.FormatFloat(entry.BatterySOC, 'f', 1, 64),
			strconv.FormatFloat(entry.Efficiency, 'f', 4, 64),
			entry.FaultCode,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, deviceSN string, entries []model.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	generation := make([]float64, len(entries))
	consumption := make([]float64, len(entries))
	soc := make([]float64, len(entries))

	for i, entry := range entries {
		x[i] = entry.Timestamp
		generation[i] = entry.GenerationPower
		consumption[i] = entry.ConsumptionPower
		soc[i] = entry.BatterySOC
	}

	powerFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  deviceSN,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Power (W)",
			ValueFormatter: powerFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Battery SOC (%)",
			ValueFormatter: powerFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Generation",
				XValues: x,
				YValues: generation,
			},
			chart.TimeSeries{
				Name:    "Consumption",
				XValues: x,
				YValues: consumption,
			},
			chart.TimeSeries{
				Name:    "Battery SOC",
				XValues: x,
				YValues: soc,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
