package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/louisbranch/taskescrow/internal/platform/discovery"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/program"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/integrity"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/sqlite"
)

const defaultBaseDB = "data/escrow.db"

// BaseConfig controls the base ledger process.
type BaseConfig struct {
	Port         int
	DBPath       string
	Fee          fee.Policy
	MinResponses uint16
	Rent         account.Rent
	Keyring      *integrity.Keyring
	// Listener overrides Port when set.
	Listener net.Listener
}

// RunBase opens the durable store, verifies its journal and serves the base
// ledger until ctx ends.
func RunBase(ctx context.Context, cfg BaseConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Keyring == nil {
		return fmt.Errorf("journal keyring is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultBaseDB
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.DefaultGRPCPort(discovery.ServiceEscrow)
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create escrow storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath, cfg.Keyring)
	if err != nil {
		return fmt.Errorf("open escrow sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close escrow sqlite store: %v", closeErr)
		}
	}()
	if err := store.VerifyJournal(ctx); err != nil {
		return fmt.Errorf("verify journal: %w", err)
	}

	prog, err := program.New(program.Config{Fee: cfg.Fee, MinResponsesToComplete: cfg.MinResponses})
	if err != nil {
		return fmt.Errorf("escrow program: %w", err)
	}
	ledger, err := runtime.New(ctx, runtime.Config{
		Name:     discovery.ServiceEscrow,
		Store:    store,
		Programs: []runtime.Program{prog},
		Rent:     cfg.Rent,
		Logf:     log.Printf,
	})
	if err != nil {
		return fmt.Errorf("base ledger: %w", err)
	}
	log.Printf("base ledger resumed at slot %d (fee %s, rent %d/byte)", ledger.Slot(), cfg.Fee, cfg.Rent.LamportsPerByte)

	listener := cfg.Listener
	if listener == nil {
		if listener, err = listen(cfg.Port); err != nil {
			return err
		}
	}
	defer listener.Close()
	return serve(ctx, listener, ledger, "base")
}
