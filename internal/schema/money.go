package schema

import "github.com/shopspring/decimal"

// Money represents a monetary amount in EUR. Internally it is backed by
// decimal.Decimal for exact arithmetic; Cents exposes the integer-minor-unit
// view spec §3 uses for CartItem.unitPrice and CartDiff.priceDifference.
type Money struct {
	d decimal.Decimal
}

// ZeroMoney is the additive identity.
var ZeroMoney = Money{d: decimal.Zero}

// MoneyFromCents constructs a Money value from an integer cent amount.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// MoneyFromFloatEUR constructs a Money value from a floating EUR amount,
// used only for cross-module display per spec §3.
func MoneyFromFloatEUR(eur float64) Money {
	return Money{d: decimal.NewFromFloat(eur).Round(2)}
}

// Cents returns the integer minor-unit representation.
func (m Money) Cents() int64 {
	return m.d.Mul(decimal.New(1, 2)).Round(0).IntPart()
}

// EUR returns the floating EUR representation, for display only.
func (m Money) EUR() float64 {
	f, _ := m.d.Float64()
	return f
}

// Add returns the sum of two Money values.
func (m Money) Add(other Money) Money {
	return Money{d: m.d.Add(other.d)}
}

// Sub returns the difference m - other.
func (m Money) Sub(other Money) Money {
	return Money{d: m.d.Sub(other.d)}
}

// Mul returns m multiplied by an integer quantity.
func (m Money) Mul(qty int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(qty)))}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// String renders the amount with two decimal places.
func (m Money) String() string {
	return m.d.StringFixed(2)
}

// MarshalJSON encodes Money as its integer cent value, matching the
// "minor units" convention spec §3 mandates for persisted data.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.NewFromInt(m.Cents()).String()), nil
}

// UnmarshalJSON decodes a Money value from an integer cent amount.
func (m *Money) UnmarshalJSON(data []byte) error {
	var cents int64
	if err := jsonUnmarshalInt(data, &cents); err != nil {
		return err
	}
	m.d = decimal.New(cents, -2)
	return nil
}
