package domain

import "github.com/shopspring/decimal"

// OpenPosition is a perpetual margin position held by the account on the
// exchange, distinct from a single Position aggregate. Fills against the same
// pair are merged or offset by the netting engine.
type OpenPosition struct {
	Pair             CurrencyPair
	Type             PositionType
	Amount           decimal.Decimal // base quantity
	Price            decimal.Decimal // volume-weighted average entry price
	LiquidationPrice decimal.Decimal
	Margin           decimal.Decimal // escrowed quote currency
}
