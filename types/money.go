// Package types provides common value types used across barre.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the studio billing currency when none is configured.
const DefaultCurrency = "usd"

// Money is a fixed-point monetary value in the smallest currency unit.
// Arithmetic is integer-only; decimal text is produced and parsed through
// shopspring/decimal so no float ever touches an amount.
//
//   - USD(12000) = $120.00
type Money struct {
	Amount   int64  `json:"amount"`   // cents
	Currency string `json:"currency"` // ISO 4217 lowercase
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Cents creates a Money value in the given currency.
func Cents(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normalizeCurrency(currency)}
}

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Currency: normalizeCurrency(currency)} }

// ParseMoney parses a decimal string such as "120.50" into Money.
// Values with more precision than the currency allows are rejected rather
// than rounded.
func ParseMoney(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	currency = normalizeCurrency(currency)
	places := int32(currencyDecimals(currency))
	if !d.Equal(d.Truncate(places)) {
		return Money{}, fmt.Errorf("money: %s has more than %d decimal places", d.String(), places)
	}
	minor := d.Shift(places)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("money: %s is not representable", d.String())
	}
	return Money{Amount: minor.IntPart(), Currency: currency}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return m.Negate()
	}
	return m
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// GreaterThan returns true if this Money is greater than other. Panics if currencies don't match.
func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount > other.Amount
}

// Min returns the smaller of two Money values. Panics if currencies don't match.
func (m Money) Min(other Money) Money {
	if m.LessThan(other) {
		return m
	}
	return other
}

// Max returns the larger of two Money values. Panics if currencies don't match.
func (m Money) Max(other Money) Money {
	if m.GreaterThan(other) {
		return m
	}
	return other
}

// FormatMajor returns the major unit string without currency symbol,
// e.g. "49.00" for USD(4900) and "-0.05" for USD(-5).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	if m.Amount < 0 {
		return "-" + currencySymbol(m.Currency) + m.Abs().FormatMajor()
	}
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Money{Amount: raw.Amount, Currency: normalizeCurrency(raw.Currency)}
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func normalizeCurrency(currency string) string {
	if currency == "" {
		return DefaultCurrency
	}
	return strings.ToLower(currency)
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "cad":
		return "C$"
	case "aud":
		return "A$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp":
		return 0
	default:
		return 2
	}
}

// Sum adds values in the given currency. An empty list sums to zero.
func Sum(currency string, values ...Money) Money {
	result := Zero(currency)
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
