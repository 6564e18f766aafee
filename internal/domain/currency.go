package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is used for a pair when the exchange supplies no metadata.
const DefaultPrecision = 8

// CurrencyAmount is an immutable quantity of one currency.
// Arithmetic never silently mixes currencies; comparing amounts of different
// currencies is a caller-side domain error.
type CurrencyAmount struct {
	Value    decimal.Decimal
	Currency string
}

// NewCurrencyAmount builds an amount of the given currency.
func NewCurrencyAmount(value decimal.Decimal, currency string) CurrencyAmount {
	return CurrencyAmount{Value: value, Currency: currency}
}

func (a CurrencyAmount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), a.Currency)
}

// IsZero reports whether the amount's value is exactly zero.
func (a CurrencyAmount) IsZero() bool {
	return a.Value.IsZero()
}

// CurrencyPair is a market identifier (base traded against quote) together with
// the decimal precision used when rounding order amounts for that market.
type CurrencyPair struct {
	Base           string
	Quote          string
	BasePrecision  int32
	QuotePrecision int32
}

// NewCurrencyPair builds a pair with the default precision on both sides.
func NewCurrencyPair(base, quote string) CurrencyPair {
	return CurrencyPair{
		Base:           base,
		Quote:          quote,
		BasePrecision:  DefaultPrecision,
		QuotePrecision: DefaultPrecision,
	}
}

// ParseCurrencyPair parses a "BASE/QUOTE" string.
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q, expected BASE/QUOTE", s)
	}
	return NewCurrencyPair(strings.ToUpper(parts[0]), strings.ToUpper(parts[1])), nil
}

// String renders the pair as "BASE/QUOTE".
func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol renders the pair the way most exchange APIs expect it (no separator).
func (p CurrencyPair) Symbol() string {
	return p.Base + p.Quote
}

// Equal compares base and quote, ignoring precision metadata.
func (p CurrencyPair) Equal(other CurrencyPair) bool {
	return p.Base == other.Base && p.Quote == other.Quote
}
