package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/taskescrow/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/taskescrow/internal/platform/grpc"
	"github.com/louisbranch/taskescrow/internal/platform/timeouts"
	ledgerapi "github.com/louisbranch/taskescrow/internal/services/escrow/api/grpc/ledger"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/fee"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/program"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/runtime"
	"github.com/louisbranch/taskescrow/internal/services/escrow/session"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/memory"
)

// SessionConfig controls the delegated session process.
type SessionConfig struct {
	Port     int
	BaseAddr string
	// AuthoritySeed is a base58 ed25519 seed. Empty generates a key for
	// this run only.
	AuthoritySeed   string
	Fee             fee.Policy
	MinResponses    uint16
	CommitPoll      time.Duration
	GRPCDialTimeout time.Duration
	// Listener overrides Port when set.
	Listener net.Listener
	// Base overrides dialing BaseAddr when set.
	Base session.BaseLedger
}

// ParseAuthoritySeed decodes a base58 ed25519 seed into a signing key.
func ParseAuthoritySeed(seed string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("decode authority seed: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("authority seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// RunSession dials the base ledger, then serves a zero-rent session ledger
// that clones delegated tasks and commits them back.
func RunSession(ctx context.Context, cfg SessionConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.DefaultGRPCPort(discovery.ServiceEscrowSession)
	}
	if cfg.CommitPoll <= 0 {
		cfg.CommitPoll = timeouts.CommitPoll
	}
	if cfg.GRPCDialTimeout <= 0 {
		cfg.GRPCDialTimeout = timeouts.GRPCDial
	}

	var authority ed25519.PrivateKey
	if strings.TrimSpace(cfg.AuthoritySeed) == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate session authority: %w", err)
		}
		authority = key
		log.Printf("no session authority configured; generated an ephemeral key")
	} else {
		key, err := ParseAuthoritySeed(cfg.AuthoritySeed)
		if err != nil {
			return err
		}
		authority = key
	}

	base := cfg.Base
	if base == nil {
		if strings.TrimSpace(cfg.BaseAddr) == "" {
			return errors.New("base ledger address is required")
		}
		conn, err := platformgrpc.Connect(ctx, platformgrpc.ConnectConfig{
			Addr:    cfg.BaseAddr,
			Service: ledgerapi.ServiceName,
			Timeout: cfg.GRPCDialTimeout,
			Logf:    log.Printf,
		})
		if err != nil {
			return fmt.Errorf("dial base ledger: %w", err)
		}
		defer func() {
			if closeErr := conn.Close(); closeErr != nil {
				log.Printf("close base ledger connection: %v", closeErr)
			}
		}()
		base = ledgerapi.NewClient(conn)
	}

	prog, err := program.New(program.Config{Fee: cfg.Fee, MinResponsesToComplete: cfg.MinResponses, Session: true})
	if err != nil {
		return fmt.Errorf("escrow program: %w", err)
	}
	store := memory.New()
	ledger, err := runtime.New(ctx, runtime.Config{
		Name:     discovery.ServiceEscrowSession,
		Store:    store,
		Programs: []runtime.Program{prog},
		Rent:     account.Rent{},
		Logf:     log.Printf,
	})
	if err != nil {
		return fmt.Errorf("session ledger: %w", err)
	}
	coord, err := session.New(session.Config{
		Base:         base,
		Session:      ledger,
		SessionStore: store,
		Authority:    authority,
		Logf:         log.Printf,
	})
	if err != nil {
		return fmt.Errorf("session coordinator: %w", err)
	}
	log.Printf("session authority %s", coord.Authority())

	listener := cfg.Listener
	if listener == nil {
		if listener, err = listen(cfg.Port); err != nil {
			return err
		}
	}
	defer listener.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return coord.Run(groupCtx, cfg.CommitPoll)
	})
	group.Go(func() error {
		return serve(groupCtx, listener, coord, "session")
	})
	return group.Wait()
}
