// Package money represents currency amounts as integer minor units.
//
// All discount and wallet arithmetic runs on Amount. Decimal values only
// appear at boundaries: wire payloads, database columns and presentation.
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits (paise, cents).
const Scale = 2

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ErrOutOfRange is returned for values that do not fit an Amount.
var ErrOutOfRange = errors.New("amount out of range")

// Amount is a currency amount in minor units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// FromDecimal converts a major-unit decimal to minor units, rounding half
// away from zero. Values outside the Amount range saturate; use InRange or
// Parse where input is untrusted.
func FromDecimal(d decimal.Decimal) Amount {
	m := toMinor(d)
	switch {
	case m.GreaterThan(maxMinor):
		return math.MaxInt64
	case m.LessThan(minMinor):
		return math.MinInt64
	}
	return Amount(m.IntPart())
}

// InRange reports whether d converts to an Amount without saturating.
func InRange(d decimal.Decimal) bool {
	m := toMinor(d)
	return !m.GreaterThan(maxMinor) && !m.LessThan(minMinor)
}

func toMinor(d decimal.Decimal) decimal.Decimal {
	return d.Shift(Scale).Round(0)
}

// FromMajor converts whole major units (e.g. 1000 rupees) to an Amount.
func FromMajor(v int64) Amount {
	return Amount(v * 100)
}

// Parse parses a major-unit decimal string such as "199.99".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if !InRange(d) {
		return 0, errors.Wrapf(ErrOutOfRange, "parse %q", s)
	}
	return FromDecimal(d), nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount in major units with fixed precision.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// IsNegative reports whether a < 0.
func (a Amount) IsNegative() bool {
	return a < 0
}

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool {
	return a > 0
}

// Percent returns floor(a * p / 100). Flooring keeps a percentage discount
// at or below its exact value.
func (a Amount) Percent(p decimal.Decimal) Amount {
	return Amount(decimal.NewFromInt(int64(a)).Mul(p).Div(hundred).Floor().IntPart())
}

// Clamp limits a to the closed range [lo, hi].
func (a Amount) Clamp(lo, hi Amount) Amount {
	if a < lo {
		return lo
	}
	if a > hi {
		return hi
	}
	return a
}

// NonNegative floors a at zero.
func (a Amount) NonNegative() Amount {
	if a < 0 {
		return 0
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}
