// Package sqlite provides the durable account and journal store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlitemigrate "github.com/louisbranch/taskescrow/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/integrity"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/sqlite/migrations"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// JournalScope is the key-derivation scope of the ledger journal.
const JournalScope = "ledger"

const verifyPageSize = 200

// Store provides SQLite-backed account and journal persistence.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
	now     func() time.Time

	// commitMu serializes sequence allocation.
	commitMu sync.Mutex
}

// Open opens a ledger SQLite store and applies migrations.
func Open(path string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if keyring == nil {
		return nil, fmt.Errorf("journal integrity keyring is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, keyring: keyring, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// GetAccount loads one account.
func (s *Store) GetAccount(ctx context.Context, addr address.Address) (account.Account, error) {
	if err := s.ready(ctx); err != nil {
		return account.Account{}, err
	}
	var (
		owner    []byte
		lamports int64
		data     []byte
	)
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT owner, lamports, data FROM accounts WHERE address = ?", addr.Bytes(),
	).Scan(&owner, &lamports, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("get account %s: %w", addr, err)
	}
	return toAccount(owner, lamports, data)
}

// Commit writes accounts and appends the sealed journal entry in one SQL
// transaction.
func (s *Store) Commit(ctx context.Context, batch storage.Batch) (storage.JournalEntry, error) {
	if err := s.ready(ctx); err != nil {
		return storage.JournalEntry{}, err
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.JournalEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		lastSeq   sql.NullInt64
		prevChain sql.NullString
	)
	err = tx.QueryRowContext(ctx, "SELECT seq, chain_hash FROM journal ORDER BY seq DESC LIMIT 1").Scan(&lastSeq, &prevChain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storage.JournalEntry{}, fmt.Errorf("load journal head: %w", err)
	}

	entry := batch.Entry
	entry.Seq = uint64(lastSeq.Int64) + 1
	entry.StateHash = integrity.StateHash(batch.Writes)
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = s.now()
	}
	entry.CommittedAt = entry.CommittedAt.UTC().Truncate(time.Millisecond)
	if entry.Payload == nil {
		entry.Payload = []byte{}
	}
	sealed, err := integrity.Seal(entry, prevChain.String, JournalScope, s.keyring)
	if err != nil {
		return storage.JournalEntry{}, err
	}

	for _, write := range batch.Writes {
		if write.Account.IsEmpty() {
			if _, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE address = ?", write.Address.Bytes()); err != nil {
				return storage.JournalEntry{}, fmt.Errorf("delete account %s: %w", write.Address, err)
			}
			continue
		}
		data := write.Account.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts (address, owner, lamports, data, updated_seq)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
	owner = excluded.owner,
	lamports = excluded.lamports,
	data = excluded.data,
	updated_seq = excluded.updated_seq
`,
			write.Address.Bytes(),
			write.Account.Owner.Bytes(),
			int64(write.Account.Lamports),
			data,
			int64(sealed.Seq),
		); err != nil {
			return storage.JournalEntry{}, fmt.Errorf("upsert account %s: %w", write.Address, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO journal (
	seq,
	slot,
	request_id,
	kind,
	payload,
	state_hash,
	committed_at,
	hash,
	prev_hash,
	chain_hash,
	signature,
	key_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		int64(sealed.Seq),
		int64(sealed.Slot),
		sealed.RequestID,
		sealed.Kind,
		sealed.Payload,
		sealed.StateHash,
		sealed.CommittedAt.UnixMilli(),
		sealed.Hash,
		sealed.PrevHash,
		sealed.ChainHash,
		sealed.Signature,
		sealed.KeyID,
	); err != nil {
		if isConstraintError(err) {
			return storage.JournalEntry{}, fmt.Errorf("append journal seq=%d conflicts: %w", sealed.Seq, err)
		}
		return storage.JournalEntry{}, fmt.Errorf("append journal: %w", err)
	}
	if len(batch.TxDigest) > 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO transactions (digest, seq) VALUES (?, ?)", batch.TxDigest, int64(sealed.Seq),
		); err != nil {
			if isConstraintError(err) {
				return storage.JournalEntry{}, storage.ErrDuplicateTransaction
			}
			return storage.JournalEntry{}, fmt.Errorf("record transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.JournalEntry{}, fmt.Errorf("commit: %w", err)
	}
	return sealed, nil
}

// HasTransaction reports whether a transaction with digest was committed.
func (s *Store) HasTransaction(ctx context.Context, digest []byte) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var seq int64
	err := s.sqlDB.QueryRowContext(ctx, "SELECT seq FROM transactions WHERE digest = ?", digest).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup transaction: %w", err)
	}
	return true, nil
}

// LatestSlot returns the highest committed slot.
func (s *Store) LatestSlot(ctx context.Context) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var slot sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT MAX(slot) FROM journal").Scan(&slot); err != nil {
		return 0, fmt.Errorf("latest slot: %w", err)
	}
	return uint64(slot.Int64), nil
}

// ScanAccounts calls fn for each account owned by owner, in address order.
// Rows are read fully before fn runs.
func (s *Store) ScanAccounts(ctx context.Context, owner address.Address, fn func(address.Address, account.Account) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT address, owner, lamports, data FROM accounts WHERE owner = ? ORDER BY address", owner.Bytes())
	if err != nil {
		return fmt.Errorf("scan accounts: %w", err)
	}
	type row struct {
		addr address.Address
		acct account.Account
	}
	var found []row
	for rows.Next() {
		var (
			rawAddr, rawOwner, data []byte
			lamports                int64
		)
		if err := rows.Scan(&rawAddr, &rawOwner, &lamports, &data); err != nil {
			rows.Close()
			return fmt.Errorf("scan account row: %w", err)
		}
		addr, err := address.FromBytes(rawAddr)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan account row: %w", err)
		}
		acct, err := toAccount(rawOwner, lamports, data)
		if err != nil {
			rows.Close()
			return err
		}
		found = append(found, row{addr: addr, acct: acct})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate accounts: %w", err)
	}
	rows.Close()

	for _, r := range found {
		if err := fn(r.addr, r.acct); err != nil {
			return err
		}
	}
	return nil
}

// ListEntries returns up to limit journal entries after afterSeq.
func (s *Store) ListEntries(ctx context.Context, afterSeq uint64, limit int) ([]storage.JournalEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	seq,
	slot,
	request_id,
	kind,
	payload,
	state_hash,
	committed_at,
	hash,
	prev_hash,
	chain_hash,
	signature,
	key_id
FROM journal
WHERE seq > ?
ORDER BY seq
LIMIT ?
`, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.JournalEntry, 0, limit)
	for rows.Next() {
		var (
			entry       storage.JournalEntry
			seq, slot   int64
			committedAt int64
		)
		if err := rows.Scan(
			&seq,
			&slot,
			&entry.RequestID,
			&entry.Kind,
			&entry.Payload,
			&entry.StateHash,
			&committedAt,
			&entry.Hash,
			&entry.PrevHash,
			&entry.ChainHash,
			&entry.Signature,
			&entry.KeyID,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.Slot = uint64(slot)
		entry.CommittedAt = time.UnixMilli(committedAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// VerifyJournal walks the whole journal and checks hashes, links and
// signatures.
func (s *Store) VerifyJournal(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	verifier := &integrity.Verifier{Scope: JournalScope, Keyring: s.keyring}
	var lastSeq uint64
	for {
		entries, err := s.ListEntries(ctx, lastSeq, verifyPageSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			if err := verifier.Next(entry); err != nil {
				return err
			}
			lastSeq = entry.Seq
		}
	}
}

func toAccount(owner []byte, lamports int64, data []byte) (account.Account, error) {
	ownerAddr, err := address.FromBytes(owner)
	if err != nil {
		return account.Account{}, fmt.Errorf("decode account owner: %w", err)
	}
	return account.Account{Owner: ownerAddr, Lamports: uint64(lamports), Data: data}, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ storage.Store = (*Store)(nil)
