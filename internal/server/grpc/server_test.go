package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func TestHealth_ReportsStatus(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	srv := NewGRPCServer(addr, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx) }()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		var (
			resp *healthpb.HealthCheckResponse
			err  error
		)
		for i := 0; i < 50; i++ {
			cctx, ccancel := context.WithTimeout(ctx, time.Second)
			resp, err = client.Check(cctx, &healthpb.HealthCheckRequest{Service: service})
			ccancel()
			if err == nil {
				return resp.GetStatus()
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("health check %q: %v", service, err)
		return 0
	}

	if got := check(ServiceFinalizer); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("finalizer status = %v, want NOT_SERVING", got)
	}

	srv.SetServing(ServiceAPI, true)
	if got := check(ServiceAPI); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("api status = %v, want SERVING", got)
	}
}
