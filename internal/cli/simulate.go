package cli

import (
	"github.com/spf13/cobra"

	"solar-alerts/internal/app"
)

var (
	simulateDevice string
	simulateFault  float64
	simulateTemp   float64
	simulateSOC    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条设备异常并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			DeviceSN:    simulateDevice,
			FaultCode:   simulateFault,
			Temperature: simulateTemp,
			BatterySOC:  simulateSOC,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateDevice, "device", "", "模拟的设备序列号")
	simulateCmd.Flags().Float64Var(&simulateFault, "fault", 0, "模拟的故障码")
	simulateCmd.Flags().Float64Var(&simulateTemp, "temperature", 25, "模拟的设备温度 (C)")
	simulateCmd.Flags().Float64Var(&simulateSOC, "soc", 55, "模拟的电池电量 (%)")
}
