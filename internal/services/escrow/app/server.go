// Package app wires storage, ledgers and transport into the escrow
// processes.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/taskescrow/internal/platform/timeouts"
	ledgerapi "github.com/louisbranch/taskescrow/internal/services/escrow/api/grpc/ledger"
	grpcmeta "github.com/louisbranch/taskescrow/internal/services/escrow/api/grpc/metadata"
)

// serve exposes ledger on listener until ctx ends, then drains in-flight
// calls for up to timeouts.Shutdown.
func serve(ctx context.Context, listener net.Listener, ledger ledgerapi.Ledger, name string) error {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcmeta.UnaryServerInterceptor(nil)),
	)
	ledgerapi.RegisterLedgerServiceServer(grpcServer, ledgerapi.NewServer(ledger))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ledgerapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	log.Printf("%s ledger listening at %v", name, listener.Addr())

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve %s ledger: %w", name, err)
	case <-ctx.Done():
	}

	healthServer.Shutdown()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeouts.Shutdown):
		log.Printf("%s ledger shutdown timed out; stopping", name)
		grpcServer.Stop()
	}
	<-serveErr
	return nil
}

func listen(port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return listener, nil
}
