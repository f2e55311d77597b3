package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowAlerts prints the most recently dispatched alerts.
func (a *App) ShowAlerts(ctx context.Context, opts AlertsOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tDevice\tType\tSeverity\tFault\tMessage")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.SentAt.UTC().Format(time.RFC3339),
			alert.DeviceSN,
			alert.Type,
			alert.Severity,
			alert.FaultCode,
			sanitizeInline(alert.Message),
		)
	}

	writer.Flush()
	return nil
}

// ShowFaults prints every cached fault explanation.
func (a *App) ShowFaults(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	faults, err := store.ListExplanations(ctx)
	if err != nil {
		return err
	}
	if len(faults) == 0 {
		fmt.Fprintln(os.Stdout, "no fault explanations cached")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Code\tName\tSeverity\tOnsite\tOwner fix\tCause")

	for _, fault := range faults {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\t%t\t%s\n",
			fault.FaultCode,
			fault.Name,
			fault.Severity,
			fault.RequiresOnsite,
			fault.OwnerCanFix,
			sanitizeInline(fault.Cause),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
