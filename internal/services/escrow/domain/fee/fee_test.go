package fee

import (
	"errors"
	"math"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		amount  uint64
		wantNet uint64
		wantFee uint64
	}{
		{"default", Default, 100_000, 93_100, 6_900},
		{"truncates", Default, 999, 931, 68},
		{"tiny", Default, 14, 14, 0},
		{"free", Free, 200_000, 200_000, 0},
		{"max amount", Default, math.MaxUint64, math.MaxUint64 - 1272825341085959061, 1272825341085959061},
		{"all", Policy{Numerator: 1, Denominator: 1}, 50, 0, 50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			net, charged, err := tc.policy.Split(tc.amount)
			if err != nil {
				t.Fatalf("split: %v", err)
			}
			if net != tc.wantNet || charged != tc.wantFee {
				t.Fatalf("split(%d) = (%d, %d), want (%d, %d)", tc.amount, net, charged, tc.wantNet, tc.wantFee)
			}
			if net+charged != tc.amount {
				t.Fatal("net + fee must equal amount")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if _, _, err := (Policy{Numerator: 1}).Split(10); !errors.Is(err, ErrZeroDenominator) {
		t.Fatalf("expected ErrZeroDenominator, got %v", err)
	}
	if err := (Policy{Numerator: 2, Denominator: 1}).Validate(); !errors.Is(err, ErrNumeratorTooLarge) {
		t.Fatalf("expected ErrNumeratorTooLarge, got %v", err)
	}
	if got := Default.String(); got != "69/1000" {
		t.Fatalf("String = %q", got)
	}
}
