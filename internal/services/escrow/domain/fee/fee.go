// Package fee splits deposits into an escrow credit and a protocol fee.
package fee

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrZeroDenominator reports a policy that would divide by zero.
var ErrZeroDenominator = errors.New("fee denominator must be positive")

// ErrNumeratorTooLarge reports a fee above 100%.
var ErrNumeratorTooLarge = errors.New("fee numerator exceeds denominator")

// Policy is a fee of Numerator/Denominator of every deposit, rounded down.
type Policy struct {
	Numerator   uint64
	Denominator uint64
}

// Default is the 6.9% deployment policy.
var Default = Policy{Numerator: 69, Denominator: 1000}

// Free charges nothing.
var Free = Policy{Numerator: 0, Denominator: 1}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Denominator == 0 {
		return ErrZeroDenominator
	}
	if p.Numerator > p.Denominator {
		return fmt.Errorf("%w: %d/%d", ErrNumeratorTooLarge, p.Numerator, p.Denominator)
	}
	return nil
}

// Split returns the net credit and fee for amount. The product is computed in
// 128 bits, so no amount can overflow.
func (p Policy) Split(amount uint64) (net, charged uint64, err error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	hi, lo := bits.Mul64(amount, p.Numerator)
	charged, _ = bits.Div64(hi, lo, p.Denominator)
	return amount - charged, charged, nil
}

// String renders the policy as a fraction.
func (p Policy) String() string {
	return fmt.Sprintf("%d/%d", p.Numerator, p.Denominator)
}
