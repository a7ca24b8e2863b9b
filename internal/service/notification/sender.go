// internal/service/notification/sender.go
package notification

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
)

// Sender 投递一封邮件。
type Sender interface {
	Send(ctx context.Context, email domain.EmailEvent) error
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender 通过 SMTP 投递纯文本邮件；服务器支持时自动 STARTTLS。
type SMTPSender struct {
	cfg  SMTPConfig
	send sendFunc
	now  func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, email domain.EmailEvent) error {
	from, err := mail.ParseAddress(email.From)
	if err != nil {
		return errors.Wrapf(err, "invalid from address %q", email.From)
	}
	to, err := mail.ParseAddress(email.To)
	if err != nil {
		return errors.Wrapf(err, "invalid to address %q", email.To)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, from.Address, []string{to.Address}, buildMessage(from, to, email, s.now())); err != nil {
		return errors.Wrapf(err, "smtp send to %s", addr)
	}
	logger.Ctx(ctx).Info().Str("order", email.OrderID).Str("to", to.Address).Msg("✅ email sent")
	return nil
}

func buildMessage(from, to *mail.Address, email domain.EmailEvent, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.Write(bytes.ReplaceAll([]byte(email.Body), []byte("\n"), []byte("\r\n")))
	return b.Bytes()
}

// LogSender 在没有配置 SMTP 时使用，只记录日志。
type LogSender struct{}

func (LogSender) Send(ctx context.Context, email domain.EmailEvent) error {
	logger.Ctx(ctx).Info().
		Str("tenant", email.TenantID).
		Str("order", email.OrderID).
		Str("to", email.To).
		Str("subject", email.Subject).
		Msg("smtp not configured, email logged only")
	return nil
}
