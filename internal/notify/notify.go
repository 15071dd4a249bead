package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

const subjectPrefix = "zoho-order-sync: "

// Notifier delivers operator notifications about degraded pushes.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// New returns an SMTP notifier when a recipient and server are configured,
// otherwise one that only logs.
func New(cfg config.NotifyConfig, log *zap.Logger) Notifier {
	log = log.Named("notify")
	if cfg.Email == "" || cfg.SMTPAddr == "" {
		return &LogNotifier{log: log}
	}
	return NewSMTP(cfg, log)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.log.Warn("notification", zap.String("subject", subjectPrefix+subject), zap.String("body", body))
	return nil
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails notifications to a single operator address.
type SMTPNotifier struct {
	addr    string
	from    string
	to      string
	auth    smtp.Auth
	timeout time.Duration
	send    sendFunc
	log     *zap.Logger
}

func NewSMTP(cfg config.NotifyConfig, log *zap.Logger) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			host = cfg.SMTPAddr
		}
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
	}
	timeout := cfg.SMTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &SMTPNotifier{
		addr:    cfg.SMTPAddr,
		from:    cfg.From,
		to:      cfg.Email,
		auth:    auth,
		timeout: timeout,
		log:     log,
	}
	n.send = n.sendMail
	return n
}

func (n *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	msg := buildMessage(n.from, n.to, subjectPrefix+subject, body)
	if err := n.send(ctx, n.addr, n.auth, envelopeAddress(n.from), []string{n.to}, msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	n.log.Debug("notification sent", zap.String("to", n.to), zap.String("subject", subject))
	return nil
}

// sendMail is smtp.SendMail over a connection bounded by the notifier
// timeout and the context.
func (n *SMTPNotifier) sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	dialer := net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

var headerLineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + headerLineBreaks.Replace(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// envelopeAddress strips a display name: "Shop <a@b>" becomes "a@b".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}
