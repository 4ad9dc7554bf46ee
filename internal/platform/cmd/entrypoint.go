package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/taskescrow/internal/platform/config"
	"github.com/louisbranch/taskescrow/internal/platform/otel"
)

// Process names used for telemetry resources and log prefixes.
const (
	ServiceEscrow        = "escrow"
	ServiceEscrowSession = "escrow-session"
)

const defaultFlushTimeout = 5 * time.Second

// RunOptions tunes RunWithTelemetryAndOptions.
type RunOptions struct {
	// Telemetry replaces the TASKESCROW_OTEL_* environment when set.
	Telemetry *otel.Config
	// FlushTimeout bounds the exporter flush after run returns.
	FlushTimeout time.Duration
	// Logf defaults to log.Printf.
	Logf func(string, ...any)
}

// ParseConfig fills cfg from its env tags and validates it.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs applies command-line flags on top of env defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs tracing for service and runs it until run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions is RunWithTelemetry with explicit options.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logf := options.Logf
	if logf == nil {
		logf = log.Printf
	}

	var telemetry otel.Config
	if options.Telemetry != nil {
		telemetry = *options.Telemetry
	} else {
		var err error
		if telemetry, err = otel.ConfigFromEnv(); err != nil {
			return err
		}
	}
	flush, err := otel.SetupWithConfig(ctx, service, telemetry)
	if err != nil {
		return fmt.Errorf("%s telemetry: %w", service, err)
	}
	if telemetry.Active() {
		logf("%s exporting traces to %s", service, telemetry.Endpoint)
	}

	started := time.Now()
	defer func() {
		timeout := options.FlushTimeout
		if timeout <= 0 {
			timeout = defaultFlushTimeout
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := flush(flushCtx); err != nil {
			logf("%s telemetry flush: %v", service, err)
		}
	}()

	err = run(ctx)
	logf("%s stopped after %s", service, time.Since(started).Round(time.Millisecond))
	return err
}
