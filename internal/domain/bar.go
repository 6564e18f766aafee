package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BarKey identifies one aggregation stream: a currency pair at a fixed duration.
// It is a comparable struct so it can key caches directly, with no string
// concatenation involved.
type BarKey struct {
	Base     string
	Quote    string
	Duration time.Duration
}

// NewBarKey builds the cache key for a pair/duration combination.
func NewBarKey(pair CurrencyPair, duration time.Duration) BarKey {
	return BarKey{Base: pair.Base, Quote: pair.Quote, Duration: duration}
}

// Bar is one OHLCV candle covering [Start, End) for a fixed duration.
type Bar struct {
	Pair     CurrencyPair
	Duration time.Duration
	Start    time.Time
	End      time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}
