// Package account defines ledger accounts, the escrow record layouts stored
// in them, and the seeds that derive their addresses.
package account

import (
	"bytes"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// Account is the host view of one address: which program owns it, the
// lamports it custodies, and its raw data.
type Account struct {
	Owner    address.Address
	Lamports uint64
	Data     []byte
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	out := a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return out
}

// IsEmpty reports whether the account holds nothing. Empty accounts are not
// persisted.
func (a Account) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && a.Owner.IsZero()
}

// Equal compares owner, lamports and data.
func (a Account) Equal(b Account) bool {
	return a.Owner == b.Owner && a.Lamports == b.Lamports && bytes.Equal(a.Data, b.Data)
}

// Rent prices account storage. A zero LamportsPerByte disables rent.
type Rent struct {
	LamportsPerByte uint64
}

// DefaultRent matches a two-year exemption at the usual per-byte rate.
var DefaultRent = Rent{LamportsPerByte: 6960}

// StorageOverhead is the per-account byte overhead charged on top of data.
const StorageOverhead = 128

// Minimum returns the lamports an account with dataLen bytes must hold.
func (r Rent) Minimum(dataLen int) uint64 {
	if r.LamportsPerByte == 0 {
		return 0
	}
	return uint64(StorageOverhead+dataLen) * r.LamportsPerByte
}
