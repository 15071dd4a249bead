package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type flakyService struct {
	starts atomic.Int32
}

// Serve fails on its first run and then blocks until stopped.
func (f *flakyService) Serve(ctx context.Context) error {
	if f.starts.Add(1) == 1 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRestartsFailedService(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tree := NewTree(zap.New(core), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	svc := &flakyService{}
	tree.AddSync("flaky", svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.starts.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}

	assert.NotZero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "termination should be logged")
}

func TestNamed(t *testing.T) {
	svc := Named("processor", &flakyService{})
	assert.Equal(t, "processor", svc.(interface{ String() string }).String())
}

type stubServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Int32
}

func (s *stubServer) ListenAndServe() error {
	if s.listen != nil {
		return s.listen
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *stubServer) Shutdown(context.Context) error {
	s.shutdown.Add(1)
	close(s.stop)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := &stubServer{stop: make(chan struct{})}
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), srv.shutdown.Load())
}

func TestHTTPServiceListenError(t *testing.T) {
	srv := &stubServer{stop: make(chan struct{}), listen: errors.New("address in use")}
	err := NewHTTPService(srv, 0).Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}
