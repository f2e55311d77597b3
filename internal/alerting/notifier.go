package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMailNotConfigured 表示 SMTP 发件配置不完整。
var ErrMailNotConfigured = errors.New("alerting: smtp host, from and recipient must be configured")

// Mail 封装一封待发送的告警邮件。
type Mail struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Send(ctx context.Context, mail Mail) error
}

// SMTPNotifier 通过 SMTP 投递 HTML 告警邮件。
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	logger   zerolog.Logger

	// sendMail is swapped out in tests.
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier 构造 SMTP 告警器。
func NewSMTPNotifier(host string, port int, username, password string, logger zerolog.Logger) *SMTPNotifier {
	if port <= 0 {
		port = 587
	}
	return &SMTPNotifier{
		host:     host,
		port:     port,
		username: username,
		password: password,
		logger:   logger.With().Str("component", "alert_smtp").Logger(),
		sendMail: smtp.SendMail,
	}
}

// Send 渲染 MIME 报文并投递。配置缺失是硬错误，不重试。
func (n *SMTPNotifier) Send(_ context.Context, mail Mail) error {
	if n.host == "" || mail.From == "" || mail.To == "" {
		return ErrMailNotConfigured
	}
	if !strings.Contains(mail.To, "@") {
		return fmt.Errorf("alerting: invalid recipient address %q", mail.To)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("From: %s\r\n", mail.From))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", mail.To))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", mail.Subject))
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(mail.HTML)
	builder.WriteString("\r\n")

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.sendMail(addr, auth, mail.From, []string{mail.To}, []byte(builder.String())); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}

	n.logger.Info().Str("to", mail.To).Str("subject", mail.Subject).Msg("告警已发送 (SMTP)")
	return nil
}

var _ Notifier = (*SMTPNotifier)(nil)
