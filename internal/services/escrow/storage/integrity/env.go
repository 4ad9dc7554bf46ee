package integrity

import (
	"fmt"
	"os"
	"strings"
)

const (
	envHMACKeys  = "TASKESCROW_JOURNAL_HMAC_KEYS"
	envHMACKey   = "TASKESCROW_JOURNAL_HMAC_KEY"
	envHMACKeyID = "TASKESCROW_JOURNAL_HMAC_KEY_ID"
	defaultKeyID = "v1"
)

// KeyringFromEnv loads the journal HMAC keyring from environment variables.
// TASKESCROW_JOURNAL_HMAC_KEYS ("id=secret,id2=secret2") takes precedence
// over the single TASKESCROW_JOURNAL_HMAC_KEY.
func KeyringFromEnv() (*Keyring, error) {
	keyID := strings.TrimSpace(os.Getenv(envHMACKeyID))
	if keyID == "" {
		keyID = defaultKeyID
	}

	keySpec := strings.TrimSpace(os.Getenv(envHMACKeys))
	if keySpec == "" {
		raw := strings.TrimSpace(os.Getenv(envHMACKey))
		if raw == "" {
			return nil, fmt.Errorf("%s is required", envHMACKey)
		}
		return NewKeyring(map[string][]byte{keyID: []byte(raw)}, keyID)
	}

	keys := make(map[string][]byte)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, value, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		value = strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("invalid %s entry", envHMACKeys)
		}
		keys[id] = []byte(value)
	}
	return NewKeyring(keys, keyID)
}
