package address

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

func TestParseStringRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a, err := FromBytes(pub)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	parsed, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != a {
		t.Fatalf("round trip = %s, want %s", parsed, a)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("0OIl"); err == nil {
		t.Fatal("expected invalid base58 error")
	}
	if _, err := Parse("abc"); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestZeroAddress(t *testing.T) {
	if !Zero.IsZero() {
		t.Fatal("expected zero address")
	}
	if Zero.String() != "11111111111111111111111111111111" {
		t.Fatalf("zero address text = %s", Zero.String())
	}
}

func TestPublicKeysAreOnCurve(t *testing.T) {
	for i := 0; i < 8; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		if !IsOnCurve(pub) {
			t.Fatalf("expected public key %x on curve", pub)
		}
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Fatal("short input is never on curve")
	}
}

func TestFindProgramAddressIsDeterministicAndOffCurve(t *testing.T) {
	program := Address{7}
	seeds := [][]byte{[]byte("task"), bytes.Repeat([]byte{9}, 32), {1, 0, 0, 0, 0, 0, 0, 0}}

	first, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("find program address: %v", err)
	}
	second, bump2, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("find program address again: %v", err)
	}
	if first != second || bump != bump2 {
		t.Fatal("expected deterministic derivation")
	}
	if IsOnCurve(first[:]) {
		t.Fatal("derived address must be off curve")
	}

	recreated, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	if err != nil {
		t.Fatalf("create program address: %v", err)
	}
	if recreated != first {
		t.Fatal("expected bump to reproduce the address")
	}
}

func TestFindProgramAddressSeparatesInputs(t *testing.T) {
	program := Address{7}
	a, _, err := FindProgramAddress([][]byte{[]byte("vault"), {1}}, program)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, _, err := FindProgramAddress([][]byte{[]byte("vault"), {2}}, program)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	c, _, err := FindProgramAddress([][]byte{[]byte("vault"), {1}}, Address{8})
	if err != nil {
		t.Fatalf("derive c: %v", err)
	}
	if a == b || a == c {
		t.Fatal("expected distinct derived addresses")
	}
}

func TestDerivationLimits(t *testing.T) {
	if _, _, err := FindProgramAddress([][]byte{bytes.Repeat([]byte{1}, MaxSeedLen+1)}, Zero); !errors.Is(err, ErrMaxSeedLengthExceeded) {
		t.Fatalf("expected seed length error, got %v", err)
	}
	tooMany := make([][]byte, MaxSeeds)
	if _, _, err := FindProgramAddress(tooMany, Zero); !errors.Is(err, ErrMaxSeedLengthExceeded) {
		t.Fatalf("expected seed count error, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	if Compare(Address{1}, Address{2}) >= 0 {
		t.Fatal("expected ordering by bytes")
	}
	if Compare(Address{3}, Address{3}) != 0 {
		t.Fatal("expected equality")
	}
}
