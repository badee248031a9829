// Package grpchealth exposes the standard gRPC health service for the chat
// server and a client probe for it.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service name reported for the chat pipeline.
const ServiceName = "safecoach.chat"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Pinger is a dependency whose failure makes the service NOT_SERVING.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer creates a gRPC server with the health service registered and
// ServiceName marked SERVING.
func NewServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchDependencies pings deps every interval and flips ServiceName between
// SERVING and NOT_SERVING. It returns when ctx is cancelled.
func WatchDependencies(ctx context.Context, hs *health.Server, interval time.Duration, deps ...Pinger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		healthy := true
		for _, d := range deps {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := d.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Warn("Health dependency check failed", "error", err)
				healthy = false
				break
			}
		}
		if healthy == serving {
			continue
		}
		serving = healthy
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(ServiceName, status)
		slog.Info("gRPC health status changed", "service", ServiceName, "status", status.String())
	}
}

// ProbeConfig holds configuration for Probe.
type ProbeConfig struct {
	Address          string
	Service          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultProbeConfig returns default configuration for addr.
func DefaultProbeConfig(addr string) ProbeConfig {
	return ProbeConfig{
		Address:          addr,
		Service:          ServiceName,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Probe connects to a health server and returns the reported status.
func Probe(ctx context.Context, cfg ProbeConfig) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Debug("failed to close gRPC connection", "error", closeErr)
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health server at %s not ready: %w", cfg.Address, err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: cfg.Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}
