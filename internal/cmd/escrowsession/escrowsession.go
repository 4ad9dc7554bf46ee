// Package escrowsession parses session command flags and launches the
// delegated session ledger.
package escrowsession

import (
	"context"
	"errors"
	"flag"
	"math"
	"time"

	entrypoint "github.com/louisbranch/taskescrow/internal/platform/cmd"
	"github.com/louisbranch/taskescrow/internal/platform/discovery"
	escrowapp "github.com/louisbranch/taskescrow/internal/services/escrow/app"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
)

// Config holds session command configuration.
type Config struct {
	Port            int           `env:"TASKESCROW_SESSION_PORT" envDefault:"8093"`
	BaseAddr        string        `env:"TASKESCROW_SESSION_BASE_ADDR"`
	AuthoritySeed   string        `env:"TASKESCROW_SESSION_AUTHORITY_SEED"`
	FeeNumerator    uint64        `env:"TASKESCROW_FEE_NUMERATOR" envDefault:"69"`
	FeeDenominator  uint64        `env:"TASKESCROW_FEE_DENOMINATOR" envDefault:"1000"`
	MinResponses    uint          `env:"TASKESCROW_MIN_RESPONSES" envDefault:"0"`
	CommitPoll      time.Duration `env:"TASKESCROW_SESSION_COMMIT_POLL" envDefault:"1s"`
	GRPCDialTimeout time.Duration `env:"TASKESCROW_SESSION_DIAL_TIMEOUT" envDefault:"2s"`
}

// Validate checks the fee policy and retry timings.
func (c Config) Validate() error {
	if err := c.Fee().Validate(); err != nil {
		return err
	}
	if c.MinResponses > math.MaxUint16 {
		return errors.New("min responses exceeds 65535")
	}
	if c.CommitPoll <= 0 {
		return errors.New("commit poll must be positive")
	}
	return nil
}

// Fee returns the configured deposit fee.
func (c Config) Fee() fee.Policy {
	return fee.Policy{Numerator: c.FeeNumerator, Denominator: c.FeeDenominator}
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.BaseAddr = discovery.OrDefaultGRPCAddr(cfg.BaseAddr, discovery.ServiceEscrow)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The session ledger gRPC server port")
	fs.StringVar(&cfg.BaseAddr, "base-addr", cfg.BaseAddr, "The base ledger gRPC server address")
	fs.StringVar(&cfg.AuthoritySeed, "authority-seed", cfg.AuthoritySeed, "Base58 ed25519 seed of the session authority")
	fs.Uint64Var(&cfg.FeeNumerator, "fee-numerator", cfg.FeeNumerator, "Deposit fee numerator")
	fs.Uint64Var(&cfg.FeeDenominator, "fee-denominator", cfg.FeeDenominator, "Deposit fee denominator")
	fs.UintVar(&cfg.MinResponses, "min-responses", cfg.MinResponses, "Responses required before a task can be completed")
	fs.DurationVar(&cfg.CommitPoll, "commit-poll", cfg.CommitPoll, "Retry interval for pending commits")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "gRPC dependency dial timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the session ledger.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEscrowSession, func(ctx context.Context) error {
		return escrowapp.RunSession(ctx, escrowapp.SessionConfig{
			Port:            cfg.Port,
			BaseAddr:        cfg.BaseAddr,
			AuthoritySeed:   cfg.AuthoritySeed,
			Fee:             cfg.Fee(),
			MinResponses:    uint16(cfg.MinResponses),
			CommitPoll:      cfg.CommitPoll,
			GRPCDialTimeout: cfg.GRPCDialTimeout,
		})
	})
}
