package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solar-alerts/internal/model"
	"solar-alerts/internal/storage"
)

type recordingNotifier struct {
	sent []Mail
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, mail Mail) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, mail)
	return nil
}

func testDispatcher(notifier Notifier) (*Dispatcher, *storage.Memory) {
	store := storage.NewMemory(0)
	d := NewDispatcher(Options{
		Cooldown:  time.Hour,
		MaxLog:    1000,
		From:      "solarwatch@example.com",
		Recipient: "owner@example.com",
	}, notifier, store, zerolog.Nop())
	return d, store
}

func socEvent() model.AnomalyEvent {
	return model.AnomalyEvent{
		Type:     model.AnomalyBatterySOC,
		Severity: model.SeverityWarning,
		Message:  "battery charge low",
		DeviceSN: "SN1",
	}
}

func TestDispatchCooldownSuppressesSecondSend(t *testing.T) {
	notifier := &recordingNotifier{}
	d, _ := testDispatcher(notifier)
	ctx := context.Background()

	base := time.Now().UTC()
	d.now = func() time.Time { return base }

	sent, err := d.Dispatch(ctx, socEvent(), nil, false)
	if err != nil || !sent {
		t.Fatalf("第一次发送应成功: sent=%v err=%v", sent, err)
	}

	d.now = func() time.Time { return base.Add(10 * time.Minute) }
	sent, err = d.Dispatch(ctx, socEvent(), nil, false)
	if err != nil || sent {
		t.Fatalf("冷却窗口内应被抑制: sent=%v err=%v", sent, err)
	}

	d.now = func() time.Time { return base.Add(61 * time.Minute) }
	sent, err = d.Dispatch(ctx, socEvent(), nil, false)
	if err != nil || !sent {
		t.Fatalf("冷却结束后应再次发送: sent=%v err=%v", sent, err)
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("应恰好发送两封: %d", len(notifier.sent))
	}
}

func TestDispatchCooldownIsPerDeviceAndType(t *testing.T) {
	notifier := &recordingNotifier{}
	d, _ := testDispatcher(notifier)
	ctx := context.Background()

	if sent, _ := d.Dispatch(ctx, socEvent(), nil, false); !sent {
		t.Fatal("第一次发送应成功")
	}

	other := socEvent()
	other.DeviceSN = "SN2"
	if sent, _ := d.Dispatch(ctx, other, nil, false); !sent {
		t.Fatal("不同设备不受冷却影响")
	}

	diffType := socEvent()
	diffType.Type = model.AnomalyTemperature
	if sent, _ := d.Dispatch(ctx, diffType, nil, false); !sent {
		t.Fatal("不同类型不受冷却影响")
	}
}

func TestDispatchBypassSkipsCooldown(t *testing.T) {
	notifier := &recordingNotifier{}
	d, _ := testDispatcher(notifier)
	ctx := context.Background()

	_, _ = d.Dispatch(ctx, socEvent(), nil, false)
	sent, err := d.Dispatch(ctx, socEvent(), nil, true)
	if err != nil || !sent {
		t.Fatalf("bypass 应绕过冷却: sent=%v err=%v", sent, err)
	}
}

func TestDispatchRecordsSentAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	d, store := testDispatcher(notifier)

	rec := &model.ExplanationRecord{FaultCode: "17", Name: "Grid fault", Explanation: "Check grid connection."}
	event := socEvent()
	event.Type = model.AnomalyFaultCode
	event.FaultCode = "17"

	if sent, _ := d.Dispatch(context.Background(), event, rec, false); !sent {
		t.Fatal("发送应成功")
	}

	alerts, _ := store.ListRecentAlerts(context.Background(), 10)
	if len(alerts) != 1 {
		t.Fatalf("应记录一条 SentAlert: %d", len(alerts))
	}
	a := alerts[0]
	if a.ID == "" || a.FaultCode != "17" || a.Recommendation != "Check grid connection." {
		t.Fatalf("记录内容不正确: %+v", a)
	}
	if a.RecipientEmail != "owner@example.com" {
		t.Fatalf("收件人不正确: %s", a.RecipientEmail)
	}
}

func TestDispatchTransportFailureIsSwallowed(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp: connection reset")}
	d, store := testDispatcher(notifier)

	sent, err := d.Dispatch(context.Background(), socEvent(), nil, false)
	if err != nil {
		t.Fatalf("传输失败不应向上传播: %v", err)
	}
	if sent {
		t.Fatal("失败的发送不应标记为已发送")
	}

	alerts, _ := store.ListRecentAlerts(context.Background(), 10)
	if len(alerts) != 0 {
		t.Fatalf("失败的发送不应写入日志: %d", len(alerts))
	}
}

func TestDispatchMissingMailConfigIsHardError(t *testing.T) {
	notifier := &recordingNotifier{err: ErrMailNotConfigured}
	d, _ := testDispatcher(notifier)

	_, err := d.Dispatch(context.Background(), socEvent(), nil, false)
	if !errors.Is(err, ErrMailNotConfigured) {
		t.Fatalf("配置缺失应作为硬错误返回: %v", err)
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	event := socEvent()
	event.Message = `<script>alert("x")</script>`
	body := renderHTML(event, nil, time.Now())
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Fatalf("消息应被转义: %s", body)
	}
}
