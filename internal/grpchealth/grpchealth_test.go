package grpchealth

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T) (string, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, _ := NewServer()
	go func() { _ = srv.Serve(lis) }()
	return lis.Addr().String(), srv.Stop
}

func TestProbeServing(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	status, err := Probe(context.Background(), DefaultProbeConfig(addr))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestProbeUnknownService(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	cfg := DefaultProbeConfig(addr)
	cfg.Service = "nope"
	_, err := Probe(context.Background(), cfg)
	assert.Error(t, err)
}

func TestProbeNoServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	cfg := DefaultProbeConfig(addr)
	cfg.ConnectTimeout = 300 * time.Millisecond
	status, err := Probe(context.Background(), cfg)
	assert.Error(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, status)
}

type flakyPinger struct{ fail atomic.Bool }

func (p *flakyPinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("db down")
	}
	return nil
}

func TestWatchDependencies(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, hs := NewServer()
	dep := &flakyPinger{}
	dep.fail.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchDependencies(ctx, hs, 10*time.Millisecond, dep)
	}()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_NOT_SERVING }, time.Second, 5*time.Millisecond)
	dep.fail.Store(false)
	assert.Eventually(t, func() bool { return check() == healthpb.HealthCheckResponse_SERVING }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
