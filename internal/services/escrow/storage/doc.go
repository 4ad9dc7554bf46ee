// Package storage defines persistence interfaces for the escrow ledger.
//
// A store holds the latest state of every account and an append-only
// journal of committed transactions. Each journal entry is linked to its
// predecessor by a chain hash and, when a keyring is configured, signed.
// Implementations live in subpackages (memory, sqlite).
//
// Common error types:
//   - ErrNotFound: requested record is missing
package storage
