package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const testLedgerService = "taskescrow.ledger.v1.LedgerService"

func TestWaitForHealthServing(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	conn := srv.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var logged []string
	logf := func(format string, _ ...any) { logged = append(logged, format) }
	if err := WaitForHealth(ctx, conn, testLedgerService, logf); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
	if len(logged) == 0 {
		t.Fatal("expected serving log line")
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	conn := srv.dial(t)

	go func() {
		time.Sleep(200 * time.Millisecond)
		srv.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WaitForHealth(ctx, conn, testLedgerService, nil); err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
}

func TestWaitForHealthRespectsContext(t *testing.T) {
	srv := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	conn := srv.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := WaitForHealth(ctx, conn, testLedgerService, nil); err == nil {
		t.Fatal("expected context error, got nil")
	}
}

func TestWaitForHealthRejectsNilConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

type healthServer struct {
	listener *bufconn.Listener
	health   *health.Server
}

func (s *healthServer) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(testLedgerService, status)
}

// newClient connects to the bufconn listener whatever target it is given.
func (s *healthServer) newClient(target string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	opts = append(opts, gogrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.listener.DialContext(ctx)
	}))
	return gogrpc.NewClient(target, opts...)
}

func (s *healthServer) dial(t *testing.T) *gogrpc.ClientConn {
	t.Helper()
	conn, err := s.newClient("passthrough:///bufnet", gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial health server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startHealthServer(t *testing.T, status grpc_health_v1.HealthCheckResponse_ServingStatus) *healthServer {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	grpcServer := gogrpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(testLedgerService, status)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	t.Cleanup(func() {
		grpcServer.GracefulStop()
		_ = listener.Close()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
		}
	})

	return &healthServer{listener: listener, health: hs}
}
