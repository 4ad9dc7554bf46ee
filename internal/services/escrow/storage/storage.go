package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTransaction indicates a batch carries a transaction digest
	// that is already committed.
	ErrDuplicateTransaction = errors.New("transaction already committed")
)

// Journal entry kinds.
const (
	KindTransaction = "transaction"
	KindAirdrop     = "airdrop"
	KindClone       = "clone"
	KindEvict       = "evict"
)

// AccountWrite is the final state of one account after a commit. An empty
// account deletes the address.
type AccountWrite struct {
	Address address.Address
	Account account.Account
}

// JournalEntry records one committed batch.
type JournalEntry struct {
	Seq         uint64
	Slot        uint64
	RequestID   string
	Kind        string
	Payload     []byte
	StateHash   string
	CommittedAt time.Time

	Hash      string
	PrevHash  string
	ChainHash string
	Signature string
	KeyID     string
}

// Batch is applied atomically: every write lands with its journal entry or
// nothing does. Seq and the hash fields of Entry are assigned by the store.
type Batch struct {
	Entry  JournalEntry
	Writes []AccountWrite
	// TxDigest identifies the signed message of a transaction batch. A
	// digest commits at most once. Empty for airdrops and clones.
	TxDigest []byte
}

// AccountStore reads and commits account state.
type AccountStore interface {
	// GetAccount returns ErrNotFound for addresses that hold nothing.
	GetAccount(ctx context.Context, addr address.Address) (account.Account, error)
	// Commit returns ErrDuplicateTransaction when batch.TxDigest is already
	// committed, leaving the store untouched.
	Commit(ctx context.Context, batch Batch) (JournalEntry, error)
	HasTransaction(ctx context.Context, digest []byte) (bool, error)
	// LatestSlot returns the highest slot recorded in the journal.
	LatestSlot(ctx context.Context) (uint64, error)
}

// AccountScanner iterates accounts by owner in address order.
type AccountScanner interface {
	ScanAccounts(ctx context.Context, owner address.Address, fn func(address.Address, account.Account) error) error
}

// JournalStore reads committed journal entries.
type JournalStore interface {
	ListEntries(ctx context.Context, afterSeq uint64, limit int) ([]JournalEntry, error)
	VerifyJournal(ctx context.Context) error
}

// Store is the full persistence surface of a ledger.
type Store interface {
	AccountStore
	AccountScanner
	JournalStore
	Close() error
}
