package notify

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"zoho-order-sync/internal/config"
)

func TestNew_FallsBackToLog(t *testing.T) {
	n := New(config.NotifyConfig{Email: "ops@example.com"}, zap.NewNop())
	_, ok := n.(*LogNotifier)
	assert.True(t, ok)

	n = New(config.NotifyConfig{Email: "ops@example.com", SMTPAddr: "mail:25"}, zap.NewNop())
	_, ok = n.(*SMTPNotifier)
	assert.True(t, ok)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewLog(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), "SKU 'X' not found in Zoho.", "details"))
	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "zoho-order-sync: SKU 'X' not found in Zoho.", entries[0].ContextMap()["subject"])
}

func TestSMTPNotifier_Message(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	n := NewSMTP(config.NotifyConfig{
		Email:        "ops@example.com",
		From:         "Shop <noreply@shop.test>",
		SMTPAddr:     "mail.shop.test:587",
		SMTPUsername: "user",
		SMTPPassword: "pw",
	}, zap.NewNop())
	n.send = func(_ context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), "SKU 'X' not found in Zoho.", "line one\nline two"))
	assert.Equal(t, "mail.shop.test:587", gotAddr)
	assert.Equal(t, "noreply@shop.test", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: zoho-order-sync: SKU 'X' not found in Zoho.\r\n")
	assert.Contains(t, gotMsg, "line one\r\nline two")
}

func TestSMTPNotifier_Error(t *testing.T) {
	n := NewSMTP(config.NotifyConfig{Email: "ops@example.com", SMTPAddr: "mail:25"}, zap.NewNop())
	n.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := n.Notify(context.Background(), "s", "b")
	assert.ErrorContains(t, err, "connection refused")
}

func TestBuildMessage_StripsHeaderLineBreaks(t *testing.T) {
	msg := string(buildMessage("a@shop.test", "ops@example.com", "SKU 'X\r\nBcc: evil@example.com' not found\r", "b"))
	assert.Contains(t, msg, "Subject: SKU 'X Bcc: evil@example.com' not found \r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
}

// silentSMTP accepts connections and never sends a greeting.
func silentSMTP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestSMTPNotifier_HungServerTimesOut(t *testing.T) {
	addr := silentSMTP(t)
	n := NewSMTP(config.NotifyConfig{Email: "ops@example.com", SMTPAddr: addr, SMTPTimeout: 100 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := n.Notify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPNotifier_HonorsContext(t *testing.T) {
	addr := silentSMTP(t)
	n := NewSMTP(config.NotifyConfig{Email: "ops@example.com", SMTPAddr: addr, SMTPTimeout: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := n.Notify(ctx, "s", "b")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
