package domain

import "github.com/shopspring/decimal"

// Gain is a profit/loss expressed both as a percentage and as an absolute
// amount in the settlement currency of the position. Fees are preserved in
// their own currencies, never converted.
type Gain struct {
	Percentage decimal.Decimal
	Amount     CurrencyAmount
	Fees       []CurrencyAmount
}

// collectFees sums trade fees from the given orders, grouped per fee currency.
func collectFees(orders ...*Order) []CurrencyAmount {
	totals := make(map[string]decimal.Decimal)
	var currencies []string
	for _, o := range orders {
		if o == nil {
			continue
		}
		for _, t := range o.Trades {
			if t.Fee == nil {
				continue
			}
			if _, seen := totals[t.Fee.Currency]; !seen {
				currencies = append(currencies, t.Fee.Currency)
			}
			totals[t.Fee.Currency] = totals[t.Fee.Currency].Add(t.Fee.Value)
		}
	}
	fees := make([]CurrencyAmount, 0, len(currencies))
	for _, c := range currencies {
		fees = append(fees, NewCurrencyAmount(totals[c], c))
	}
	return fees
}
