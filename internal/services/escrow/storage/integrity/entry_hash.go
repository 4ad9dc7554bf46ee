package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/codec"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
)

// EntryHash computes the content hash of a journal entry. Hash fields and
// the signature are excluded.
func EntryHash(entry storage.JournalEntry) (string, error) {
	if strings.TrimSpace(entry.Kind) == "" {
		return "", fmt.Errorf("entry kind is required")
	}
	if entry.CommittedAt.IsZero() {
		return "", fmt.Errorf("entry committed_at is required")
	}
	w := codec.NewWriter(128 + len(entry.Payload))
	w.U64(entry.Seq)
	w.U64(entry.Slot)
	w.String(entry.RequestID)
	w.String(entry.Kind)
	w.ByteString(entry.Payload)
	w.String(entry.StateHash)
	w.I64(entry.CommittedAt.UTC().UnixMilli())
	sum := sha256.Sum256(w.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links an entry hash to its predecessor's chain hash.
func ChainHash(entryHash, prevHash string) (string, error) {
	if strings.TrimSpace(entryHash) == "" {
		return "", fmt.Errorf("entry hash is required")
	}
	w := codec.NewWriter(160)
	w.String(prevHash)
	w.String(entryHash)
	sum := sha256.Sum256(w.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// StateHash digests a set of account writes independent of their order.
func StateHash(writes []storage.AccountWrite) string {
	sorted := slices.Clone(writes)
	slices.SortFunc(sorted, func(a, b storage.AccountWrite) int {
		return address.Compare(a.Address, b.Address)
	})
	w := codec.NewWriter(64 * len(sorted))
	for _, write := range sorted {
		w.Address(write.Address)
		w.Address(write.Account.Owner)
		w.U64(write.Account.Lamports)
		w.ByteString(write.Account.Data)
	}
	sum := sha256.Sum256(w.Bytes())
	return hex.EncodeToString(sum[:])
}

// Seal fills the hash fields of entry given its predecessor's chain hash.
// A nil keyring leaves the entry unsigned.
func Seal(entry storage.JournalEntry, prevHash, scope string, keyring *Keyring) (storage.JournalEntry, error) {
	hash, err := EntryHash(entry)
	if err != nil {
		return storage.JournalEntry{}, fmt.Errorf("compute entry hash: %w", err)
	}
	chainHash, err := ChainHash(hash, prevHash)
	if err != nil {
		return storage.JournalEntry{}, fmt.Errorf("compute chain hash: %w", err)
	}
	entry.Hash = hash
	entry.PrevHash = prevHash
	entry.ChainHash = chainHash
	entry.Signature = ""
	entry.KeyID = ""
	if keyring != nil {
		signature, keyID, err := keyring.SignChainHash(scope, chainHash)
		if err != nil {
			return storage.JournalEntry{}, fmt.Errorf("sign chain hash: %w", err)
		}
		entry.Signature = signature
		entry.KeyID = keyID
	}
	return entry, nil
}

// Verifier walks a journal in sequence order and checks every link.
type Verifier struct {
	Scope   string
	Keyring *Keyring

	lastSeq  uint64
	prevHash string
}

// Next checks entry against the entries seen so far.
func (v *Verifier) Next(entry storage.JournalEntry) error {
	if entry.Seq != v.lastSeq+1 {
		return fmt.Errorf("journal sequence gap expected=%d got=%d", v.lastSeq+1, entry.Seq)
	}
	if entry.PrevHash != v.prevHash {
		return fmt.Errorf("prev hash mismatch seq=%d", entry.Seq)
	}
	hash, err := EntryHash(entry)
	if err != nil {
		return fmt.Errorf("compute entry hash seq=%d: %w", entry.Seq, err)
	}
	if hash != entry.Hash {
		return fmt.Errorf("entry hash mismatch seq=%d", entry.Seq)
	}
	chainHash, err := ChainHash(hash, v.prevHash)
	if err != nil {
		return fmt.Errorf("compute chain hash seq=%d: %w", entry.Seq, err)
	}
	if chainHash != entry.ChainHash {
		return fmt.Errorf("chain hash mismatch seq=%d", entry.Seq)
	}
	if v.Keyring != nil {
		if err := v.Keyring.VerifyChainHash(v.Scope, chainHash, entry.Signature, entry.KeyID); err != nil {
			return fmt.Errorf("signature mismatch seq=%d: %w", entry.Seq, err)
		}
	}
	v.prevHash = entry.ChainHash
	v.lastSeq = entry.Seq
	return nil
}
