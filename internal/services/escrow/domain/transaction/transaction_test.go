package transaction

import (
	"crypto/ed25519"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
)

func newKey(t *testing.T, seed byte) (ed25519.PrivateKey, address.Address) {
	t.Helper()
	raw := make([]byte, ed25519.SeedSize)
	raw[0] = seed
	key := ed25519.NewKeyFromSeed(raw)
	addr, err := address.FromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	return key, addr
}

func TestSignedTransactionRoundTrip(t *testing.T) {
	key, from := newKey(t, 1)
	_, to := newKey(t, 2)
	tx := New(7, instruction.NewSystemTransfer(from, to, 10))
	tx.Sign(key)

	decoded, err := Unmarshal(tx.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decoded.Message.Nonce != 7 || len(decoded.Message.Instructions) != 1 {
		t.Fatalf("message = %+v", decoded.Message)
	}
	meta := decoded.Message.Instructions[0].Accounts[0]
	if meta.Address != from || !meta.IsSigner || !meta.IsWritable {
		t.Fatalf("meta = %+v", meta)
	}
	if decoded.ID() != tx.ID() {
		t.Fatal("id changed across round trip")
	}
}

func TestSignReplacesExistingSignature(t *testing.T) {
	key, from := newKey(t, 1)
	_, to := newKey(t, 2)
	tx := New(1, instruction.NewSystemTransfer(from, to, 10))
	tx.Sign(key)
	tx.Message.Nonce = 2
	tx.Sign(key)
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(tx.Signatures))
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyFailures(t *testing.T) {
	key, from := newKey(t, 1)
	other, to := newKey(t, 2)

	tampered := New(1, instruction.NewSystemTransfer(from, to, 10))
	tampered.Sign(key)
	tampered.Message.Instructions[0].Data[4] = 99

	unsigned := New(1, instruction.NewSystemTransfer(from, to, 10))
	unsigned.Sign(other)

	tests := []struct {
		name string
		tx   *Transaction
		want apperrors.Code
	}{
		{"tampered", tampered, apperrors.CodeSignatureVerificationFailed},
		{"missing signer", unsigned, apperrors.CodeAccountNotSigner},
		{"empty", New(1), apperrors.CodeTransactionMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tx.Verify()
			if !errors.Is(err, apperrors.New(tc.want, "")) {
				t.Fatalf("err = %v, want %s", err, tc.want.Name())
			}
		})
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	key, from := newKey(t, 1)
	_, to := newKey(t, 2)
	tx := New(1, instruction.NewSystemTransfer(from, to, 10))
	tx.Sign(key)
	data := tx.Marshal()

	for name, input := range map[string][]byte{
		"empty":     nil,
		"truncated": data[:len(data)-1],
		"trailing":  append(append([]byte(nil), data...), 1),
	} {
		if _, err := Unmarshal(input); !errors.Is(err, apperrors.New(apperrors.CodeTransactionMalformed, "")) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestMessageIDIgnoresSignatures(t *testing.T) {
	alice, from := newKey(t, 1)
	bob, to := newKey(t, 2)

	a := New(3, instruction.NewSystemTransfer(from, to, 10))
	a.Sign(alice, bob)
	b := New(3, instruction.NewSystemTransfer(from, to, 10))
	b.Sign(bob, alice)
	if a.ID() == b.ID() {
		t.Fatal("signature order should change the transaction id")
	}
	if a.MessageID() != b.MessageID() {
		t.Fatal("signature order changed the message id")
	}
	if c := New(4, instruction.NewSystemTransfer(from, to, 10)); c.MessageID() == a.MessageID() {
		t.Fatal("nonce did not change the message id")
	}
}
