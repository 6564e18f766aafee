package domain

import "time"

// Trade is a single fill of an order. Immutable once created.
type Trade struct {
	TradeID   string
	OrderID   string
	Pair      CurrencyPair
	Amount    CurrencyAmount // base currency
	Price     CurrencyAmount // quote currency
	Fee       *CurrencyAmount
	Timestamp time.Time
}
