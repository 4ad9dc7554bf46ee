// Package grpc holds client-side helpers shared by the ledger processes.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// NewClientFunc matches grpc.NewClient.
type NewClientFunc func(target string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Stage names the step of Connect that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageHealth  Stage = "health"
)

// ConnectError reports which Connect stage failed for which peer.
type ConnectError struct {
	Addr  string
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "gRPC connect error"
	}
	if e.Addr == "" {
		return fmt.Sprintf("gRPC %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gRPC %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClientOptions are the dial options every ledger client uses: plaintext
// transport and otelgrpc trace propagation.
func ClientOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// ConnectConfig describes a peer ledger and how long to wait for it.
type ConnectConfig struct {
	Addr string
	// Service is the health service to wait on. Empty waits on the server
	// as a whole.
	Service string
	// Timeout bounds the health wait. Zero waits until ctx ends.
	Timeout time.Duration
	Logf    func(string, ...any)
	// NewClient defaults to grpc.NewClient.
	NewClient NewClientFunc
}

// Connect creates a client for cfg.Addr and returns it once the peer's
// health check reports SERVING. Connections that never become healthy are
// closed.
func Connect(ctx context.Context, cfg ConnectConfig, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	newClient := cfg.NewClient
	if newClient == nil {
		newClient = gogrpc.NewClient
	}
	if len(opts) == 0 {
		opts = ClientOptions()
	}

	conn, err := newClient(cfg.Addr, opts...)
	if err != nil {
		return nil, &ConnectError{Addr: cfg.Addr, Stage: StageConnect, Err: err}
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := WaitForHealth(waitCtx, conn, cfg.Service, cfg.Logf); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Addr: cfg.Addr, Stage: StageHealth, Err: err}
	}
	return conn, nil
}
