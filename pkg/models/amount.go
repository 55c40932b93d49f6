package models

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidAmount is returned for numeric strings that are not valid uint256 values.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrIntegrity marks upstream payloads that violate the expected contract.
	ErrIntegrity = errors.New("data integrity violation")
)

// ParseAmount parses a base-10 uint256 string.
func ParseAmount(s string) (*big.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v.ToBig(), nil
}

// MustAmount parses s and panics on failure. Intended for constants and tests.
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Amount is a uint256 carried on the wire as a decimal string (or bare integer).
type Amount struct {
	v *big.Int
}

// NewAmount wraps x. A nil x yields an unset Amount.
func NewAmount(x *big.Int) Amount {
	if x == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(x)}
}

// IsSet reports whether the amount was present in the payload.
func (a Amount) IsSet() bool { return a.v != nil }

// Int returns a copy of the value, zero when unset.
func (a Amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// UnmarshalJSON accepts "123" and 123.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		a.v = nil
		return nil
	}
	v, err := ParseAmount(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	a.v = v
	return nil
}

// MarshalJSON renders the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// FixedPoint is a signed 1e18-scaled quantity such as an objective value or a score.
// Upstream sends these either as integer strings or as JSON numbers, possibly in
// exponent notation; non-integral numbers are truncated toward zero.
type FixedPoint struct {
	v *big.Int
}

// NewFixedPoint wraps x.
func NewFixedPoint(x *big.Int) FixedPoint {
	if x == nil {
		return FixedPoint{}
	}
	return FixedPoint{v: new(big.Int).Set(x)}
}

// IsSet reports whether the value was present in the payload.
func (f FixedPoint) IsSet() bool { return f.v != nil }

// Int returns a copy of the value, zero when unset.
func (f FixedPoint) Int() *big.Int {
	if f.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.v)
}

// Rat returns the value divided by 1e18.
func (f FixedPoint) Rat() *big.Rat {
	return new(big.Rat).SetFrac(f.Int(), Wei)
}

func (f FixedPoint) String() string {
	if f.v == nil {
		return "0"
	}
	return f.v.String()
}

// UnmarshalJSON accepts quoted or bare integers and bare decimal numbers.
func (f *FixedPoint) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		f.v = nil
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if v, ok := new(big.Int).SetString(s, 10); ok {
		if v.BitLen() > maxFixedPointBits {
			return fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
		}
		f.v = v
		return nil
	}
	fl, _, err := big.ParseFloat(s, 10, 256, big.ToZero)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if fl.IsInf() || fl.MantExp(nil) > maxFixedPointBits {
		return fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	f.v, _ = fl.Int(nil)
	return nil
}

// maxFixedPointBits bounds the magnitude of a FixedPoint to that of a 256 bit word.
const maxFixedPointBits = 256

// MarshalJSON renders the value as a quoted decimal string.
func (f FixedPoint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// Wei is 10^18, the scale of ETH-denominated fixed-point values.
var Wei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceScale is 10^36: external prices divided by it give ETH per token atom.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
