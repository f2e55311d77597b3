package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solar-alerts/internal/model"
)

// SimulateAlert 构造一条合成遥测数据并走完整的检测与告警流程。
// 冷却抑制被绕过，便于端到端验证邮件通道。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if opts.DeviceSN == "" {
		opts.DeviceSN = "SIMULATED-DEVICE"
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := a.newService(nil, store)

	sample := model.TelemetrySample{
		DeviceSN:   opts.DeviceSN,
		DeviceType: "INVERTER",
		Timestamp:  time.Now().UTC(),
		Measurements: []model.Measurement{
			{Key: "fault_code", Value: opts.FaultCode},
			{Key: "temperature", Value: opts.Temperature, Unit: "C"},
			{Key: "battery_soc", Value: opts.BatterySOC, Unit: "%"},
		},
	}

	events, err := svc.SimulateSample(ctx, sample, nil)
	if err != nil {
		return err
	}

	fmt.Printf("simulated sample triggered %d event(s)\n", len(events))
	for _, event := range events {
		fmt.Printf("  [%s] %s: %s\n", event.Severity, event.Type, event.Message)
	}
	return nil
}
