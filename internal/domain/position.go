package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PercentScale is the number of fractional digits kept on gain percentages.
// Percentages are rounded toward negative infinity so a reported gain is never
// more optimistic than the exact value.
const PercentScale = 2

var hundred = decimal.NewFromInt(100)

// ErrPositionNotOpen is returned when a close is attempted against a position
// that is not currently OPENED.
var ErrPositionNotOpen = errors.New("position is not in OPENED status")

// PositionRules carries the optional stop-gain/stop-loss thresholds evaluated
// on every ticker update. Each threshold is independently optional.
type PositionRules struct {
	StopGainSet              bool
	StopGainPercentage       decimal.Decimal
	StopGainBouncePercentage decimal.Decimal // trailing margin, defaults to zero
	StopLossSet              bool
	StopLossPercentage       decimal.Decimal
}

// Position is one strategy trade lifecycle: an opening order, an optional
// closing order, and the gain bookkeeping in between.
//
// Status is always derived from the order state (see Status), never cached, so
// it cannot drift from the underlying orders.
type Position struct {
	UID        string // storage key
	PositionID int64  // strategy-scoped sequence number
	StrategyID string

	// Immutable once created.
	Type   PositionType
	Domain StrategyDomain
	Pair   CurrencyPair
	Rules  PositionRules

	Amount       CurrencyAmount // locked base quantity, fixed from the opening order
	OpeningOrder *Order
	ClosingOrder *Order
	ExitReason   string
	AutoClose    bool
	ForceClosing bool

	// Quote-currency price snapshots, updated only while OPENED.
	LowestGainPrice  *CurrencyAmount
	HighestGainPrice *CurrencyAmount
	LatestGainPrice  *CurrencyAmount
}

// NewPosition builds a position from a successfully placed opening order.
func NewPosition(uid string, positionID int64, strategyID string, posType PositionType, strategyDomain StrategyDomain, pair CurrencyPair, rules PositionRules, openingOrder *Order) (*Position, error) {
	if openingOrder == nil {
		return nil, fmt.Errorf("opening order is required")
	}
	return &Position{
		UID:          uid,
		PositionID:   positionID,
		StrategyID:   strategyID,
		Type:         posType,
		Domain:       strategyDomain,
		Pair:         pair,
		Rules:        rules,
		Amount:       openingOrder.Amount,
		OpeningOrder: openingOrder,
		AutoClose:    true,
	}, nil
}

// Status derives the lifecycle state from the opening/closing orders.
func (p *Position) Status() PositionStatus {
	if p.ClosingOrder == nil {
		if p.OpeningOrder.IsInError() {
			return StatusOpeningFailure
		}
		if p.OpeningOrder.IsFulfilled() {
			return StatusOpened
		}
		return StatusOpening
	}
	if p.ClosingOrder.IsInError() {
		return StatusClosingFailure
	}
	if p.ClosingOrder.IsFulfilled() {
		return StatusClosed
	}
	return StatusClosing
}

// openingValue is the quote-currency notional of the opening order: summed
// over trades when the order is fulfilled with fills attached, the order's
// amount*averagePrice otherwise.
func (p *Position) openingValue() decimal.Decimal {
	if p.OpeningOrder.IsFulfilled() && len(p.OpeningOrder.Trades) > 0 {
		return p.OpeningOrder.TradedValue()
	}
	return p.OpeningOrder.Amount.Value.Mul(p.OpeningOrder.AveragePrice.Value)
}

// CalculateGainFromPrice computes the unrealized gain the position would have
// at the given quote-currency price. Returns false when the price is absent or
// zero, or when the opening notional is zero.
func (p *Position) CalculateGainFromPrice(price decimal.Decimal) (Gain, bool) {
	if price.Sign() <= 0 {
		return Gain{}, false
	}

	switch {
	case p.Type == Long:
		// Same formula for spot and perpetual longs.
		valueBought := p.openingValue()
		if valueBought.IsZero() {
			return Gain{}, false
		}
		valueAtPrice := p.Amount.Value.Mul(price)
		diff := valueAtPrice.Sub(valueBought)
		return Gain{
			Percentage: diff.Div(valueBought).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff.RoundFloor(p.Pair.QuotePrecision), p.Pair.Quote),
		}, true

	case p.Domain == DomainSpot:
		// Spot short: we sold base for quote up front; gain is how much more
		// base those proceeds buy back at the given price. Settles in base.
		amountSold := p.openingValue()
		if amountSold.IsZero() || p.Amount.Value.IsZero() {
			return Gain{}, false
		}
		amountCanBuyBack := amountSold.Div(price).RoundFloor(p.Pair.BasePrecision)
		diff := amountCanBuyBack.Sub(p.Amount.Value)
		return Gain{
			Percentage: diff.Div(p.Amount.Value).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff, p.Pair.Base),
		}, true

	default:
		// Perpetual short: settles in quote.
		amountGained := p.openingValue()
		if amountGained.IsZero() {
			return Gain{}, false
		}
		valueAtPrice := p.Amount.Value.Mul(price)
		diff := amountGained.Sub(valueAtPrice)
		return Gain{
			Percentage: diff.Div(amountGained).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff.RoundFloor(p.Pair.QuotePrecision), p.Pair.Quote),
		}, true
	}
}

// TickerUpdate refreshes the latest/lowest/highest gain price snapshots from a
// ticker. It is a no-op unless the position is OPENED and the ticker matches
// the position's pair. The lowest/highest snapshots only move toward more
// extreme gain percentages, never back.
func (p *Position) TickerUpdate(ticker *Ticker) bool {
	if ticker == nil || p.Status() != StatusOpened || !ticker.Pair.Equal(p.Pair) {
		return false
	}
	gain, ok := p.CalculateGainFromPrice(ticker.Last)
	if !ok {
		return false
	}

	latest := NewCurrencyAmount(ticker.Last, p.Pair.Quote)
	p.LatestGainPrice = &latest

	if p.LowestGainPrice == nil {
		snapshot := latest
		p.LowestGainPrice = &snapshot
	} else if lowest, lok := p.CalculateGainFromPrice(p.LowestGainPrice.Value); lok && gain.Percentage.LessThan(lowest.Percentage) {
		snapshot := latest
		p.LowestGainPrice = &snapshot
	}

	if p.HighestGainPrice == nil {
		snapshot := latest
		p.HighestGainPrice = &snapshot
	} else if highest, hok := p.CalculateGainFromPrice(p.HighestGainPrice.Value); hok && gain.Percentage.GreaterThan(highest.Percentage) {
		snapshot := latest
		p.HighestGainPrice = &snapshot
	}
	return true
}

// LatestCalculatedGain recomputes the gain at the latest observed price.
func (p *Position) LatestCalculatedGain() (Gain, bool) {
	if p.LatestGainPrice == nil {
		return Gain{}, false
	}
	return p.CalculateGainFromPrice(p.LatestGainPrice.Value)
}

// ShouldBeClosed evaluates the close rules against the latest observed gain.
//
// The stop-gain rule is trailing: once the gain threshold is reached, the
// position only closes after the gain has receded from its peak by at least
// the configured bounce percentage. With the default bounce of zero the rule
// fires as soon as the threshold is touched.
func (p *Position) ShouldBeClosed() (bool, string) {
	if p.ForceClosing {
		return true, ExitReasonForced
	}
	latest, ok := p.LatestCalculatedGain()
	if !ok {
		return false, ""
	}

	if p.Rules.StopGainSet {
		// Trailing exit: the peak gain must have reached the threshold, and the
		// current gain must have receded from that peak by at least the bounce.
		highestPct := latest.Percentage
		if p.HighestGainPrice != nil {
			if highest, hok := p.CalculateGainFromPrice(p.HighestGainPrice.Value); hok {
				highestPct = highest.Percentage
			}
		}
		if highestPct.GreaterThanOrEqual(p.Rules.StopGainPercentage) &&
			highestPct.Sub(latest.Percentage).GreaterThanOrEqual(p.Rules.StopGainBouncePercentage) {
			return true, ExitReasonTakeProfit
		}
	}

	if p.Rules.StopLossSet && latest.Percentage.LessThanOrEqual(p.Rules.StopLossPercentage.Neg()) {
		return true, ExitReasonStopLoss
	}
	return false, ""
}

// ClosePositionWithOrder attaches the closing order. Valid only while the
// position is OPENED; the closing order is set exactly once.
func (p *Position) ClosePositionWithOrder(order *Order, reason string) error {
	if order == nil {
		return fmt.Errorf("closing order is required")
	}
	if status := p.Status(); status != StatusOpened {
		return fmt.Errorf("cannot close position %s in status %s: %w", p.UID, status, ErrPositionNotOpen)
	}
	p.ClosingOrder = order
	p.ExitReason = reason
	return nil
}

// AmountToLock reports how much balance the portfolio layer must keep
// earmarked for this position: base currency for longs, quote for shorts.
// Zero once the position is closed.
func (p *Position) AmountToLock() CurrencyAmount {
	currency := p.Pair.Base
	if p.Type == Short {
		currency = p.Pair.Quote
	}
	if p.Status() == StatusClosed {
		return NewCurrencyAmount(decimal.Zero, currency)
	}

	if p.Type == Long {
		bought := p.OpeningOrder.TradedAmount()
		sold := decimal.Zero
		if p.ClosingOrder != nil {
			sold = p.ClosingOrder.TradedAmount()
		}
		return NewCurrencyAmount(bought.Sub(sold), currency)
	}

	gained := p.OpeningOrder.TradedValue()
	spent := decimal.Zero
	if p.ClosingOrder != nil {
		spent = p.ClosingOrder.TradedValue()
	}
	return NewCurrencyAmount(gained.Sub(spent), currency)
}

// Gain returns the realized gain, computed from the opening and closing order
// fills. Only meaningful once the position is CLOSED; returns false otherwise.
func (p *Position) Gain() (Gain, bool) {
	if p.Status() != StatusClosed {
		return Gain{}, false
	}
	fees := collectFees(p.OpeningOrder, p.ClosingOrder)

	switch {
	case p.Type == Long:
		bought := p.OpeningOrder.TradedValue()
		if bought.IsZero() {
			return Gain{}, false
		}
		sold := p.ClosingOrder.TradedValue()
		diff := sold.Sub(bought)
		return Gain{
			Percentage: diff.Div(bought).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff.RoundFloor(p.Pair.QuotePrecision), p.Pair.Quote),
			Fees:       fees,
		}, true

	case p.Domain == DomainSpot:
		// Spot short settles physically in the asset bought back.
		openBase := p.OpeningOrder.TradedAmount()
		if openBase.IsZero() {
			return Gain{}, false
		}
		closeBase := p.ClosingOrder.TradedAmount()
		diff := closeBase.Sub(openBase)
		return Gain{
			Percentage: diff.Div(openBase).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff.RoundFloor(p.Pair.BasePrecision), p.Pair.Base),
			Fees:       fees,
		}, true

	default:
		openNotional := p.OpeningOrder.TradedValue()
		if openNotional.IsZero() {
			return Gain{}, false
		}
		closeNotional := p.ClosingOrder.TradedValue()
		diff := openNotional.Sub(closeNotional)
		return Gain{
			Percentage: diff.Div(openNotional).Mul(hundred).RoundFloor(PercentScale),
			Amount:     NewCurrencyAmount(diff.RoundFloor(p.Pair.QuotePrecision), p.Pair.Quote),
			Fees:       fees,
		}, true
	}
}
