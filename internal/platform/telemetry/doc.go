// Package telemetry groups operational observability helpers.
//
// The ledger journal is the durable record of what happened; telemetry is
// the operational view of how it happened (throughput, latency, rejection
// codes). Traces are exported through internal/platform/otel, metrics are
// recorded through telemetry/metrics on the global OpenTelemetry meter.
package telemetry
