package alerting

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solar-alerts/internal/model"
	"solar-alerts/internal/storage"
)

// Options tune dispatch behaviour.
type Options struct {
	Cooldown  time.Duration
	MaxLog    int
	From      string
	Recipient string
}

// Dispatcher 负责告警的冷却去重、渲染与发送记录。
// At most one alert per (device, type) leaves within a cooldown window.
type Dispatcher struct {
	opts     Options
	notifier Notifier
	log      storage.AlertLogStore
	logger   zerolog.Logger
	now      func() time.Time
}

// NewDispatcher constructs an alert dispatcher.
func NewDispatcher(opts Options, notifier Notifier, log storage.AlertLogStore, logger zerolog.Logger) *Dispatcher {
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}
	if opts.MaxLog <= 0 {
		opts.MaxLog = 1000
	}
	return &Dispatcher{
		opts:     opts,
		notifier: notifier,
		log:      log,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch sends one anomaly event unless the cooldown suppresses it.
// Returns true only when a mail actually left. Transport failures are logged
// and swallowed so one bad send never aborts a monitoring sweep; a missing
// mail configuration is the only hard error.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.AnomalyEvent, rec *model.ExplanationRecord, bypassCooldown bool) (bool, error) {
	if !bypassCooldown {
		last, found, err := d.log.LastAlertTime(ctx, event.DeviceSN, event.Type)
		if err != nil {
			// A broken log must not silence alerts; fall through and send.
			d.logger.Error().Err(err).Msg("cooldown lookup failed")
		} else if found && d.now().Sub(last) < d.opts.Cooldown {
			d.logger.Debug().
				Str("device_sn", event.DeviceSN).
				Str("type", string(event.Type)).
				Msg("alert suppressed by cooldown")
			return false, nil
		}
	}

	mail := Mail{
		From:    d.opts.From,
		To:      d.opts.Recipient,
		Subject: renderSubject(event),
		HTML:    renderHTML(event, rec, d.now()),
	}

	if err := d.notifier.Send(ctx, mail); err != nil {
		if errors.Is(err, ErrMailNotConfigured) {
			return false, err
		}
		d.logger.Error().Err(err).Str("device_sn", event.DeviceSN).Msg("failed to dispatch alert")
		return false, nil
	}

	alert := model.SentAlert{
		ID:             uuid.NewString(),
		Type:           event.Type,
		Severity:       event.Severity,
		Message:        event.Message,
		DeviceSN:       event.DeviceSN,
		StationID:      event.StationID,
		FaultCode:      event.FaultCode,
		RecipientEmail: d.opts.Recipient,
		SentAt:         d.now(),
	}
	if rec != nil {
		alert.Recommendation = rec.Explanation
	}

	if err := d.log.AppendAlert(ctx, alert); err != nil {
		d.logger.Error().Err(err).Msg("failed to record sent alert")
	}
	if err := d.log.TrimAlerts(ctx, d.opts.MaxLog); err != nil {
		d.logger.Error().Err(err).Msg("failed to trim alert log")
	}

	return true, nil
}

func renderSubject(event model.AnomalyEvent) string {
	return fmt.Sprintf("[%s] solar alert: %s on %s", strings.ToUpper(string(event.Severity)), event.Type, event.DeviceSN)
}

func renderHTML(event model.AnomalyEvent, rec *model.ExplanationRecord, now time.Time) string {
	builder := strings.Builder{}
	builder.WriteString("<h2>Solar monitoring alert</h2>\n")
	builder.WriteString(fmt.Sprintf("<p><b>Severity:</b> %s</p>\n", html.EscapeString(string(event.Severity))))
	builder.WriteString(fmt.Sprintf("<p><b>Device:</b> %s</p>\n", html.EscapeString(event.DeviceSN)))
	if event.StationID != 0 {
		builder.WriteString(fmt.Sprintf("<p><b>Station:</b> %d</p>\n", event.StationID))
	}
	builder.WriteString(fmt.Sprintf("<p><b>Detected:</b> %s</p>\n", now.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("<p>%s</p>\n", html.EscapeString(event.Message)))

	if rec != nil {
		builder.WriteString(fmt.Sprintf("<h3>%s</h3>\n", html.EscapeString(rec.Name)))
		if rec.Cause != "" {
			builder.WriteString(fmt.Sprintf("<p><b>Likely cause:</b> %s</p>\n", html.EscapeString(rec.Cause)))
		}
		builder.WriteString(fmt.Sprintf("<p>%s</p>\n", html.EscapeString(rec.Explanation)))
		if len(rec.TroubleshootingSteps) > 0 {
			builder.WriteString("<ol>\n")
			for _, step := range rec.TroubleshootingSteps {
				builder.WriteString(fmt.Sprintf("<li>%s</li>\n", html.EscapeString(step)))
			}
			builder.WriteString("</ol>\n")
		}
		if rec.RequiresOnsite {
			builder.WriteString("<p><b>An on-site visit is likely required.</b></p>\n")
		}
	}

	return builder.String()
}
