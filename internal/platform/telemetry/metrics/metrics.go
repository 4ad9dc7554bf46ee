// Package metrics records ledger throughput and rejection counts on the
// global OpenTelemetry meter.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/louisbranch/taskescrow/ledger"

// Attribute keys.
const (
	KeyOutcome     = attribute.Key("ledger.outcome")
	KeyCode        = attribute.Key("ledger.error_code")
	KeyInstruction = attribute.Key("ledger.instruction")
	KeyLedger      = attribute.Key("ledger.name")
)

// Outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// Ledger holds the instruments one ledger records to.
type Ledger struct {
	name         string
	transactions metric.Int64Counter
	instructions metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewLedger creates instruments for the named ledger.
func NewLedger(name string) (*Ledger, error) {
	meter := otel.Meter(meterName)
	transactions, err := meter.Int64Counter("ledger.transactions",
		metric.WithDescription("Transactions processed, by outcome"))
	if err != nil {
		return nil, err
	}
	instructions, err := meter.Int64Counter("ledger.instructions",
		metric.WithDescription("Instructions executed, by name and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("ledger.transaction.duration",
		metric.WithDescription("Transaction processing time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Ledger{name: name, transactions: transactions, instructions: instructions, duration: duration}, nil
}

// Transaction records one processed transaction. code is empty on success.
func (l *Ledger) Transaction(ctx context.Context, elapsed time.Duration, code string) {
	if l == nil {
		return
	}
	attrs := l.outcome(code)
	l.transactions.Add(ctx, 1, metric.WithAttributes(attrs...))
	l.duration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// Instruction records one executed instruction.
func (l *Ledger) Instruction(ctx context.Context, name string, code string) {
	if l == nil {
		return
	}
	attrs := append(l.outcome(code), KeyInstruction.String(name))
	l.instructions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (l *Ledger) outcome(code string) []attribute.KeyValue {
	if code == "" {
		return []attribute.KeyValue{KeyLedger.String(l.name), KeyOutcome.String(OutcomeCommitted)}
	}
	return []attribute.KeyValue{KeyLedger.String(l.name), KeyOutcome.String(OutcomeRejected), KeyCode.String(code)}
}
