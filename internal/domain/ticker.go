package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is one market snapshot for a pair, as delivered by the exchange feed.
// Arrival times are irregular; the bar aggregator buckets them into candles.
type Ticker struct {
	Pair      CurrencyPair
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Last      decimal.Decimal
	Volume    decimal.Decimal
}
