// Package memory provides an in-process account store. Delegated sessions
// run on it, and tests use it in place of SQLite.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/integrity"
)

// Store keeps accounts and the journal in maps guarded by one mutex.
type Store struct {
	scope   string
	keyring *integrity.Keyring
	now     func() time.Time

	mu       sync.RWMutex
	accounts map[address.Address]account.Account
	journal  []storage.JournalEntry
	// txs maps committed transaction digests to their journal seq.
	txs map[string]uint64
}

// Option configures a Store.
type Option func(*Store)

// WithKeyring signs journal entries under scope.
func WithKeyring(scope string, keyring *integrity.Keyring) Option {
	return func(s *Store) {
		s.scope = scope
		s.keyring = keyring
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		scope:    "memory",
		now:      time.Now,
		accounts: make(map[address.Address]account.Account),
		txs:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAccount returns a copy of the stored account.
func (s *Store) GetAccount(ctx context.Context, addr address.Address) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct.Clone(), nil
}

// Commit applies the writes and appends a sealed journal entry.
func (s *Store) Commit(ctx context.Context, batch storage.Batch) (storage.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return storage.JournalEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(batch.TxDigest) > 0 {
		if _, ok := s.txs[string(batch.TxDigest)]; ok {
			return storage.JournalEntry{}, storage.ErrDuplicateTransaction
		}
	}

	entry := batch.Entry
	entry.Seq = uint64(len(s.journal)) + 1
	entry.StateHash = integrity.StateHash(batch.Writes)
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = s.now().UTC()
	}
	entry.CommittedAt = entry.CommittedAt.UTC().Truncate(time.Millisecond)
	prevHash := ""
	if n := len(s.journal); n > 0 {
		prevHash = s.journal[n-1].ChainHash
	}
	sealed, err := integrity.Seal(entry, prevHash, s.scope, s.keyring)
	if err != nil {
		return storage.JournalEntry{}, err
	}

	for _, write := range batch.Writes {
		if write.Account.IsEmpty() {
			delete(s.accounts, write.Address)
			continue
		}
		s.accounts[write.Address] = write.Account.Clone()
	}
	s.journal = append(s.journal, sealed)
	if len(batch.TxDigest) > 0 {
		s.txs[string(batch.TxDigest)] = sealed.Seq
	}
	return sealed, nil
}

// HasTransaction reports whether a transaction with digest was committed.
func (s *Store) HasTransaction(ctx context.Context, digest []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.txs[string(digest)]
	return ok, nil
}

// LatestSlot returns the slot of the last journal entry.
func (s *Store) LatestSlot(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	for _, entry := range s.journal {
		latest = max(latest, entry.Slot)
	}
	return latest, nil
}

// ScanAccounts calls fn for each account owned by owner, in address order.
// fn runs on a snapshot, so it may call back into the store.
func (s *Store) ScanAccounts(ctx context.Context, owner address.Address, fn func(address.Address, account.Account) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	type entry struct {
		addr address.Address
		acct account.Account
	}
	var matched []entry
	for addr, acct := range s.accounts {
		if acct.Owner == owner {
			matched = append(matched, entry{addr: addr, acct: acct.Clone()})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b entry) int { return address.Compare(a.addr, b.addr) })
	for _, m := range matched {
		if err := fn(m.addr, m.acct); err != nil {
			return err
		}
	}
	return nil
}

// ListEntries returns up to limit entries after afterSeq.
func (s *Store) ListEntries(ctx context.Context, afterSeq uint64, limit int) ([]storage.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if afterSeq >= uint64(len(s.journal)) {
		return nil, nil
	}
	rest := s.journal[afterSeq:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	return slices.Clone(rest), nil
}

// VerifyJournal re-walks the chain.
func (s *Store) VerifyJournal(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	verifier := &integrity.Verifier{Scope: s.scope, Keyring: s.keyring}
	for _, entry := range s.journal {
		if err := verifier.Next(entry); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
