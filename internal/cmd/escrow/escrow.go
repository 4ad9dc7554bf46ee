// Package escrow parses base ledger command flags and launches the ledger.
package escrow

import (
	"context"
	"errors"
	"flag"
	"math"

	entrypoint "github.com/louisbranch/taskescrow/internal/platform/cmd"
	escrowapp "github.com/louisbranch/taskescrow/internal/services/escrow/app"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/integrity"
)

// Config holds base ledger command configuration.
type Config struct {
	Port           int    `env:"TASKESCROW_PORT" envDefault:"8092"`
	DBPath         string `env:"TASKESCROW_DB_PATH" envDefault:"data/escrow.db"`
	FeeNumerator   uint64 `env:"TASKESCROW_FEE_NUMERATOR" envDefault:"69"`
	FeeDenominator uint64 `env:"TASKESCROW_FEE_DENOMINATOR" envDefault:"1000"`
	MinResponses   uint   `env:"TASKESCROW_MIN_RESPONSES" envDefault:"0"`
	RentPerByte    uint64 `env:"TASKESCROW_RENT_LAMPORTS_PER_BYTE" envDefault:"6960"`
}

// Validate checks the fee policy and response threshold.
func (c Config) Validate() error {
	if err := c.Fee().Validate(); err != nil {
		return err
	}
	if c.MinResponses > math.MaxUint16 {
		return errors.New("min responses exceeds 65535")
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
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The base ledger gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The base ledger SQLite database path")
	fs.Uint64Var(&cfg.FeeNumerator, "fee-numerator", cfg.FeeNumerator, "Deposit fee numerator")
	fs.Uint64Var(&cfg.FeeDenominator, "fee-denominator", cfg.FeeDenominator, "Deposit fee denominator")
	fs.UintVar(&cfg.MinResponses, "min-responses", cfg.MinResponses, "Responses required before a task can be completed")
	fs.Uint64Var(&cfg.RentPerByte, "rent", cfg.RentPerByte, "Rent in lamports per account byte")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the base ledger.
func Run(ctx context.Context, cfg Config) error {
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEscrow, func(ctx context.Context) error {
		return escrowapp.RunBase(ctx, escrowapp.BaseConfig{
			Port:         cfg.Port,
			DBPath:       cfg.DBPath,
			Fee:          cfg.Fee(),
			MinResponses: uint16(cfg.MinResponses),
			Rent:         account.Rent{LamportsPerByte: cfg.RentPerByte},
			Keyring:      keyring,
		})
	})
}
