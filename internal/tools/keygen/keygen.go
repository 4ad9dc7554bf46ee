// Package keygen generates the secrets the escrow processes read from the
// environment.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// Config holds configuration for key generation.
type Config struct {
	Bytes     int
	Authority bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, Authority: true}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes for the journal HMAC key")
	fs.BoolVar(&cfg.Authority, "authority", cfg.Authority, "also generate a session authority seed")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the keys and writes them to out as env assignments.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	if _, err := fmt.Fprintf(out, "TASKESCROW_JOURNAL_HMAC_KEY=%s\n", hex.EncodeToString(buf)); err != nil {
		return err
	}
	if !cfg.Authority {
		return nil
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return fmt.Errorf("generate authority seed: %w", err)
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	authority, err := address.FromBytes(pub)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "# session authority %s\nTASKESCROW_SESSION_AUTHORITY_SEED=%s\n", authority, base58.Encode(seed))
	return err
}
