// Package address defines ledger addresses and deterministic program-derived
// addresses.
package address

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Size is the byte length of an address.
const Size = 32

const (
	// MaxSeeds caps the number of seeds accepted by a derivation.
	MaxSeeds = 16
	// MaxSeedLen caps the byte length of a single seed.
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrInvalidLength reports an address that is not Size bytes.
	ErrInvalidLength = errors.New("address must be 32 bytes")
	// ErrMaxSeedLengthExceeded reports too many seeds or an oversized seed.
	ErrMaxSeedLengthExceeded = errors.New("derivation seeds exceed limits")
	// ErrOnCurve reports a derived candidate that is a valid ed25519 point.
	ErrOnCurve = errors.New("derived address lies on the ed25519 curve")
	// ErrNoViableBump reports that no bump in 255..0 produced an off-curve address.
	ErrNoViableBump = errors.New("no viable bump seed")
)

// Address identifies an account on the ledger: either an ed25519 public key
// or a program-derived address that no private key can sign for.
type Address [Size]byte

// Zero is the all-zero address, which is also the system program identity.
var Zero Address

// FromBytes copies b into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, ErrInvalidLength
	}
	copy(a[:], b)
	return a, nil
}

// Parse decodes the base58 text form of an address.
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address %q: %w", s, err)
	}
	return FromBytes(raw)
}

// MustParse is Parse for package-level identities. It panics on bad input.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 text form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address.
func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// Compare orders addresses bytewise.
func Compare(a, b Address) int {
	return bytes.Compare(a[:], b[:])
}

// IsOnCurve reports whether b decodes to a valid ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds with programID and fails when the result
// lies on the curve. Callers usually append a bump seed themselves.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return Address{}, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 down to 0 and returns the
// first off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrMaxSeedLengthExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}
