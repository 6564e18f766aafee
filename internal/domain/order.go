package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the side of an order on the book.
type OrderType string

const (
	Bid OrderType = "BID" // buy
	Ask OrderType = "ASK" // sell
)

// OrderStatus follows the exchange lifecycle:
// PENDING_NEW -> NEW -> (PARTIALLY_FILLED)* -> FILLED | CANCELED | REJECTED | EXPIRED.
type OrderStatus string

const (
	OrderPendingNew      OrderStatus = "PENDING_NEW"
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Order is an exchange order together with the trades that filled it.
type Order struct {
	OrderID          string
	StrategyID       string
	Type             OrderType
	Pair             CurrencyPair
	Amount           CurrencyAmount // ordered base quantity
	CumulativeAmount CurrencyAmount // base quantity traded so far
	AveragePrice     CurrencyAmount // volume-weighted fill price
	MarketPrice      CurrencyAmount // last market price when the order was placed
	LimitPrice       *CurrencyAmount
	Status           OrderStatus
	Trades           []*Trade
	Timestamp        time.Time
}

// IsFulfilled holds when the cumulative traded amount equals the ordered amount.
func (o *Order) IsFulfilled() bool {
	if o == nil {
		return false
	}
	return o.Amount.Value.IsPositive() && o.CumulativeAmount.Value.Cmp(o.Amount.Value) == 0
}

// IsInError holds for the terminal-failure statuses.
func (o *Order) IsInError() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// TradedValue sums amount*price over the order's trades: the quote-currency
// notional actually exchanged. Falls back to amount*averagePrice when the order
// carries no trade details.
func (o *Order) TradedValue() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if len(o.Trades) == 0 {
		return o.Amount.Value.Mul(o.AveragePrice.Value)
	}
	total := decimal.Zero
	for _, t := range o.Trades {
		total = total.Add(t.Amount.Value.Mul(t.Price.Value))
	}
	return total
}

// TradedAmount sums the base-currency amount over the order's trades, falling
// back to the ordered amount when no trades are attached.
func (o *Order) TradedAmount() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	if len(o.Trades) == 0 {
		return o.Amount.Value
	}
	total := decimal.Zero
	for _, t := range o.Trades {
		total = total.Add(t.Amount.Value)
	}
	return total
}
