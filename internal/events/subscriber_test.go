package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
	"zoho-order-sync/internal/worker"
)

type recordingSink struct {
	mu     sync.Mutex
	orders map[int64]worker.Mode
}

func (r *recordingSink) OrderPlaced(_ context.Context, id int64, mode worker.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orders == nil {
		r.orders = make(map[int64]worker.Mode)
	}
	r.orders[id] = mode
	return nil
}

func (r *recordingSink) get(id int64) (worker.Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.orders[id]
	return m, ok
}

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestHandleValidatesEvents(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(config.NATSConfig{}, sink, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, []byte(`{"order_id": 5}`)))
	require.NoError(t, s.Handle(ctx, []byte(`{"order_id": 6, "mode": "immediate"}`)))
	assert.Error(t, s.Handle(ctx, []byte(`{"order_id": 0}`)))
	assert.Error(t, s.Handle(ctx, []byte(`{"order_id": 7, "mode": "soon"}`)))
	assert.Error(t, s.Handle(ctx, []byte(`not json`)))

	m, ok := sink.get(5)
	require.True(t, ok)
	assert.Equal(t, worker.Mode(""), m)
	m, ok = sink.get(6)
	require.True(t, ok)
	assert.Equal(t, worker.ModeImmediate, m)
	_, ok = sink.get(7)
	assert.False(t, ok)
}

func TestServeConsumesFromNATS(t *testing.T) {
	ns := runServer(t)
	sink := &recordingSink{}
	cfg := config.NATSConfig{URL: ns.ClientURL(), Subject: "orders.created", QueueGroup: "ordersync-workers"}
	s := NewSubscriber(cfg, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	var resp *nats.Msg
	require.Eventually(t, func() bool {
		resp, err = nc.Request(cfg.Subject, []byte(`{"order_id": 77, "mode": "deferred"}`), 200*time.Millisecond)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	var r reply
	require.NoError(t, json.Unmarshal(resp.Data, &r))
	assert.True(t, r.OK)
	m, ok := sink.get(77)
	require.True(t, ok)
	assert.Equal(t, worker.ModeDeferred, m)

	resp, err = nc.Request(cfg.Subject, []byte(`{"order_id": -1}`), time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &r))
	assert.False(t, r.OK)
	assert.NotEmpty(t, r.Error)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
