// Package id generates request identifiers that travel in the
// x-taskescrow-request-id header and the journal.
package id

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefixes name the component that originated a request.
const (
	PrefixRequest = "req"
	PrefixClone   = "clone"
	PrefixCommit  = "commit"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a request id with the generic request prefix.
func NewID() (string, error) {
	return New(PrefixRequest)
}

// New returns prefix, an underscore and a random UUIDv4 encoded as 26
// lowercase base32 characters.
func New(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.Contains(prefix, "_") {
		return "", errors.New("id prefix must be non-empty and contain no underscore")
	}
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + "_" + strings.ToLower(encoding.EncodeToString(u[:])), nil
}

// Prefix reports the originating component of an id produced by New. Ids
// from callers that do not follow the format return "".
func Prefix(value string) string {
	prefix, rest, ok := strings.Cut(value, "_")
	if !ok || len(rest) != 26 {
		return ""
	}
	if _, err := encoding.DecodeString(strings.ToUpper(rest)); err != nil {
		return ""
	}
	return prefix
}
