// Package money implements the currency-tagged fixed-point amount used
// throughout the bank account aggregate and read model.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is an (amount, currency) pair. Amount arithmetic never uses
// binary floating point. Currency is canonicalized against ISO 4217 at
// construction so that "usd" and "USD" compare equal.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// ErrCurrencyMismatch is returned by Add/Subtract when the two operands
// carry different currencies.
type ErrCurrencyMismatch struct {
	Left  string
	Right string
}

func (e *ErrCurrencyMismatch) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// New constructs a Money value from a decimal string amount and a
// currency token. The currency is parsed and canonicalized as ISO 4217;
// an unrecognized token is rejected.
func New(amount string, curr string) (Money, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return NewFromDecimal(amt, curr)
}

// NewFromDecimal constructs a Money value from an already-parsed decimal.
func NewFromDecimal(amount decimal.Decimal, curr string) (Money, error) {
	unit, err := currency.ParseISO(curr)
	if err != nil {
		return Money{}, fmt.Errorf("invalid currency %q: %w", curr, err)
	}
	return Money{amount: amount, currency: unit.String()}, nil
}

// Zero returns a zero-valued Money in the given currency.
func Zero(curr string) (Money, error) {
	return New("0", curr)
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the canonical ISO 4217 currency code.
func (m Money) Currency() string {
	return m.currency
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsNegative reports whether the amount is strictly negative.
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// IsPositive reports whether the amount is strictly positive.
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// Abs returns the absolute value, preserving currency.
func (m Money) Abs() Money {
	return Money{amount: m.amount.Abs(), currency: m.currency}
}

// Add returns m + other. Fails with ErrCurrencyMismatch if currencies differ.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &ErrCurrencyMismatch{Left: m.currency, Right: other.currency}
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns m - other. Fails with ErrCurrencyMismatch if currencies differ.
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &ErrCurrencyMismatch{Left: m.currency, Right: other.currency}
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// SameCurrency reports whether m and other carry the same currency.
func (m Money) SameCurrency(other Money) bool {
	return m.currency == other.currency
}

// Equal reports structural equality: same amount and same currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String renders "amount CUR", e.g. "12.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(2), m.currency)
}

// MarshalJSON renders Money as {"amount":"12.50","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	type wire struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	return json.Marshal(wire{Amount: m.amount.StringFixed(2), Currency: m.currency})
}

// UnmarshalJSON parses {"amount":"...","currency":"..."} case-insensitively
// on keys, per the event codec's decoding contract.
func (m *Money) UnmarshalJSON(data []byte) error {
	type wire struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := New(w.Amount, w.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
