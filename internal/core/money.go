// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents so that balance arithmetic is exact and
// can be expressed as a single atomic increment in SQL. Decimals only appear
// at the edges: request parsing, JSON encoding and model replies.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. Balances may be negative, transaction and
// budget amounts may not.
type Money struct {
	Cents int64
}

var maxCents = decimal.NewFromInt(1<<63 - 1)

// Exponents outside this window are rejected before rounding.
const (
	minExponent = -18
	maxExponent = 18
)

// Cents builds a Money value.
func Cents(c int64) Money { return Money{Cents: c} }

// MoneyFromDecimal rounds d half-up to two places and converts it to cents.
// Negative values and values that do not fit in int64 cents are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	return fromDecimal(d)
}

// SignedMoneyFromDecimal is MoneyFromDecimal without the sign check.
func SignedMoneyFromDecimal(d decimal.Decimal) (Money, error) {
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (Money, error) {
	if e := d.Exponent(); e < minExponent || e > maxExponent {
		return Money{}, ErrInvalidAmount
	}
	shifted := d.Round(2).Shift(2)
	if shifted.Abs().GreaterThan(maxCents) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: shifted.IntPart()}, nil
}

// ParseDecimalToCents converts a decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Signs, exponents and empty strings are rejected; zero is allowed.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil
//	ParseDecimalToCents("12.344") -> 1234, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "+-eE") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	m, err := MoneyFromDecimal(d)
	if err != nil {
		return 0, err
	}
	return m.Cents, nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Add returns m+o.
func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Validate rejects negative amounts.
func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MarshalJSON encodes the amount as a JSON number in currency units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().StringFixed(2)), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string. The sign is kept;
// callers reject negative amounts through Validate.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return ErrInvalidAmount
	}
	v, err := fromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
