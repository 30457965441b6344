package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in minor units (1/100 of the currency unit).
type Cents int64

var hundred = decimal.NewFromInt(100)

// ErrTooPrecise is returned when an amount carries more than two fractional digits.
var ErrTooPrecise = errors.New("amount must have at most two decimal places")

// ParseCents parses a decimal string such as "15.00" or "3.5".
func ParseCents(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return CentsFromDecimal(d)
}

// CentsFromDecimal converts a unit-denominated decimal into Cents.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	return Cents(scaled.IntPart()), nil
}

// MustCents is a helper for constants and tests.
func MustCents(s string) Cents {
	c, err := ParseCents(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Decimal returns the amount in currency units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with exactly two fractional digits.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Dollars formats the amount for user facing messages, e.g. "$15.00".
func (c Cents) Dollars() string {
	if c < 0 {
		return "-$" + (-c).String()
	}
	return "$" + c.String()
}

// Mul multiplies by a decimal factor and rounds half away from zero.
func (c Cents) Mul(factor decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Mul(factor).Round(0).IntPart())
}

// Div divides by a decimal factor and rounds half away from zero.
func (c Cents) Div(factor decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Div(factor).Round(0).IntPart())
}

func MinCents(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

func MaxCents(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts both numbers and quoted strings.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	v, err := CentsFromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
