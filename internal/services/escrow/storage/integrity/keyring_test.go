package integrity

import "testing"

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring(nil, "v1"); err == nil {
		t.Fatal("expected error for missing keys")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, ""); err == nil {
		t.Fatal("expected error for missing active key id")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v2"); err == nil {
		t.Fatal("expected error for unknown active key id")
	}
}

func TestKeyringSignAndVerify(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sig, keyID, err := ring.SignChainHash("ledger", "chainhash")
	if err != nil {
		t.Fatalf("sign chain hash: %v", err)
	}
	if keyID != "v1" {
		t.Fatalf("expected key id v1, got %s", keyID)
	}
	if err := ring.VerifyChainHash("ledger", "chainhash", sig, keyID); err != nil {
		t.Fatalf("verify chain hash: %v", err)
	}
	if err := ring.VerifyChainHash("session", "chainhash", sig, keyID); err == nil {
		t.Fatal("expected scope to change the signing key")
	}
}

func TestKeyringVerifyFailures(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sig, _, err := ring.SignChainHash("ledger", "chainhash")
	if err != nil {
		t.Fatalf("sign chain hash: %v", err)
	}

	tests := []struct {
		name  string
		scope string
		sig   string
		keyID string
	}{
		{"missing key id", "ledger", sig, ""},
		{"unknown key id", "ledger", sig, "unknown"},
		{"signature mismatch", "ledger", "bad", "v1"},
		{"missing scope", "", sig, "v1"},
	}
	for _, tc := range tests {
		if err := ring.VerifyChainHash(tc.scope, "chainhash", tc.sig, tc.keyID); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestNilKeyring(t *testing.T) {
	var ring *Keyring
	if ring.ActiveKeyID() != "" {
		t.Fatal("expected empty active key id for nil keyring")
	}
	if _, _, err := ring.SignChainHash("ledger", "hash"); err == nil {
		t.Fatal("expected error for nil keyring")
	}
}

func TestKeyRotationKeepsOldSignaturesValid(t *testing.T) {
	old, err := NewKeyring(map[string][]byte{"v1": []byte("one")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sig, keyID, err := old.SignChainHash("ledger", "hash")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rotated, err := NewKeyring(map[string][]byte{"v1": []byte("one"), "v2": []byte("two")}, "v2")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if err := rotated.VerifyChainHash("ledger", "hash", sig, keyID); err != nil {
		t.Fatalf("verify old signature: %v", err)
	}
}
