// Package money provides exact decimal arithmetic for account currency
// amounts. No value in this package is ever backed by a binary float.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a signed decimal amount in account currency. Positive is
// profit, negative is loss, zero is neither.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money from a decimal-formatted string such as "-40.00".
// It is the only constructor that should be used for values coming off
// the wire or out of the persistence store.
func New(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustNew is New but panics on error; only safe for literal constants
// in tests and default configuration.
func MustNew(s string) Money {
	m, err := New(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt builds an exact integer-valued Money (e.g. cents-free whole
// currency units).
func FromInt(i int64) Money {
	return Money{d: decimal.NewFromInt(i)}
}

// FromDecimal wraps an already-parsed decimal.Decimal.
func FromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// Decimal exposes the underlying decimal.Decimal for packages (tick
// tables, adapters) that must do further decimal-only arithmetic.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Add returns m+o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m-o.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Cmp returns -1, 0, or 1 comparing m to o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// GreaterThanOrEqual reports whether m >= o.
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.Cmp(o.d) >= 0 }

// LessThanOrEqual reports whether m <= o.
func (m Money) LessThanOrEqual(o Money) bool { return m.d.Cmp(o.d) <= 0 }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Sign returns -1, 0, or 1.
func (m Money) Sign() int { return m.d.Sign() }

// Max returns the greater (less negative, for losses) of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MulInt scales m by an integer quantity (e.g. per-contract tick
// value times contract count).
func (m Money) MulInt(q int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(q)))}
}

// FromTicks computes ticks * tickValue * quantity with a sign applied
// by the caller (ticks is already signed by direction).
func FromTicks(ticks int64, tickValue Money, quantity int) Money {
	return Money{d: decimal.NewFromInt(ticks).Mul(tickValue.d).Mul(decimal.NewFromInt(int64(quantity)))}
}

// String renders the exact decimal value with trailing fractional
// zeros trimmed, e.g. "-40.00" renders as "-40" and "-156.50" as
// "-156.5".
func (m Money) String() string { return m.d.String() }

// MarshalJSON encodes Money as a JSON string, never a JSON number, so
// no consumer can round-trip it through a binary float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.String())
}

// UnmarshalJSON decodes a JSON string into Money.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("money: expected JSON string, got %q: %w", string(b), err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	m.d = d
	return nil
}

// Value implements driver.Valuer so Money stores as a TEXT column.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

// Scan implements sql.Scanner, reading back the TEXT column.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan invalid decimal %q: %w", v, err)
		}
		m.d = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan invalid decimal %q: %w", string(v), err)
		}
		m.d = d
		return nil
	case nil:
		m.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported scan source type %T", src)
	}
}
