// Package netting merges perpetual margin fills. Liquidate is a pure function;
// callers serialize invocations per (account, currency pair) with PairLocker.
package netting

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"quantbot/internal/domain"
)

// ErrInconsistentNetting is returned when a merge/offset would require
// liquidating more margin than is held, or when the inputs violate the
// engine's preconditions. The engine rejects rather than clamps.
var ErrInconsistentNetting = errors.New("inconsistent netting operation")

// AmountScale is the fixed decimal scale for amounts, prices and margins.
// Rounding is always down so repeated netting never credits balance that was
// not earned.
const AmountScale = 8

// Result is the outcome of netting an incoming fill against an existing
// position. Position is nil when the existing position was fully offset.
// RealizedQuoteDelta is the quote-balance change: released margin plus offset
// gain, minus newly escrowed margin.
type Result struct {
	Position           *domain.OpenPosition
	RealizedQuoteDelta decimal.Decimal
}

// IsSuccessful holds when a net position remains, or when the book went fully
// flat with no residual delta. A nil position with a nonzero delta is never
// produced by Liquidate.
func (r Result) IsSuccessful() bool {
	return r.Position != nil || r.RealizedQuoteDelta.IsZero()
}

// Liquidate nets an incoming fill against the existing open position on the
// same pair.
//
// Same side: amounts and margins add, the entry price becomes the
// volume-weighted average, and the incoming margin is escrowed (negative
// delta). Opposite side: the smaller amount offsets the larger; the offset
// gain follows the side sign (long profits when price rises, short when it
// falls) and the proportional margin of the offset quantity is released.
func Liquidate(existing, incoming *domain.OpenPosition) (Result, error) {
	if existing == nil || incoming == nil {
		return Result{}, fmt.Errorf("%w: both positions are required", ErrInconsistentNetting)
	}
	if !existing.Pair.Equal(incoming.Pair) {
		return Result{}, fmt.Errorf("%w: pair mismatch %s vs %s", ErrInconsistentNetting, existing.Pair, incoming.Pair)
	}
	if existing.Amount.Sign() <= 0 || incoming.Amount.Sign() <= 0 {
		return Result{}, fmt.Errorf("%w: amounts must be positive", ErrInconsistentNetting)
	}
	if existing.Margin.Sign() < 0 || incoming.Margin.Sign() < 0 {
		return Result{}, fmt.Errorf("%w: margins cannot be negative", ErrInconsistentNetting)
	}

	if existing.Type == incoming.Type {
		return merge(existing, incoming), nil
	}

	balance := existing.Amount.Sub(incoming.Amount)
	switch balance.Sign() {
	case 0:
		return fullOffset(existing, incoming), nil
	case 1:
		return partialOffset(existing, incoming, balance)
	default:
		return reverseOffset(existing, incoming, balance.Neg())
	}
}

func merge(existing, incoming *domain.OpenPosition) Result {
	newAmount := existing.Amount.Add(incoming.Amount)
	weighted := existing.Amount.Mul(existing.Price).Add(incoming.Amount.Mul(incoming.Price))
	newPrice := weighted.Div(newAmount).RoundDown(AmountScale)
	return Result{
		Position: &domain.OpenPosition{
			Pair:             existing.Pair,
			Type:             existing.Type,
			Amount:           newAmount,
			Price:            newPrice,
			LiquidationPrice: existing.LiquidationPrice,
			Margin:           existing.Margin.Add(incoming.Margin),
		},
		RealizedQuoteDelta: incoming.Margin.Neg(),
	}
}

// offsetGain applies the side sign: -1 for LONG (profits when price rises),
// +1 for SHORT (profits when price falls).
func offsetGain(closedType domain.PositionType, closedPrice, offsetPrice, quantity decimal.Decimal) decimal.Decimal {
	diff := closedPrice.Sub(offsetPrice)
	if closedType == domain.Long {
		diff = diff.Neg()
	}
	return diff.Mul(quantity).RoundDown(AmountScale)
}

func fullOffset(existing, incoming *domain.OpenPosition) Result {
	gain := offsetGain(existing.Type, existing.Price, incoming.Price, incoming.Amount)
	return Result{
		Position:           nil,
		RealizedQuoteDelta: existing.Margin.Add(gain),
	}
}

func partialOffset(existing, incoming *domain.OpenPosition, balance decimal.Decimal) (Result, error) {
	released := existing.Margin.Div(existing.Amount).Mul(incoming.Amount).RoundDown(AmountScale)
	offsetMargin := existing.Margin.Sub(released)
	if offsetMargin.Sign() < 0 {
		return Result{}, fmt.Errorf("%w: offset would release %s of %s margin held",
			ErrInconsistentNetting, released, existing.Margin)
	}
	gain := offsetGain(existing.Type, existing.Price, incoming.Price, incoming.Amount)
	return Result{
		Position: &domain.OpenPosition{
			Pair:             existing.Pair,
			Type:             existing.Type,
			Amount:           balance,
			Price:            existing.Price,
			LiquidationPrice: existing.LiquidationPrice,
			Margin:           offsetMargin,
		},
		RealizedQuoteDelta: released.Add(gain),
	}, nil
}

// reverseOffset handles an incoming fill larger than the existing position:
// the existing side is fully closed and the excess opens a position in the
// incoming direction, escrowing the proportional share of the incoming margin.
func reverseOffset(existing, incoming *domain.OpenPosition, excess decimal.Decimal) (Result, error) {
	consumed := incoming.Margin.Div(incoming.Amount).Mul(existing.Amount).RoundDown(AmountScale)
	newMargin := incoming.Margin.Sub(consumed)
	if newMargin.Sign() < 0 {
		return Result{}, fmt.Errorf("%w: reverse offset would consume %s of %s incoming margin",
			ErrInconsistentNetting, consumed, incoming.Margin)
	}
	gain := offsetGain(existing.Type, existing.Price, incoming.Price, existing.Amount)
	return Result{
		Position: &domain.OpenPosition{
			Pair:             incoming.Pair,
			Type:             incoming.Type,
			Amount:           excess,
			Price:            incoming.Price,
			LiquidationPrice: incoming.LiquidationPrice,
			Margin:           newMargin,
		},
		RealizedQuoteDelta: existing.Margin.Add(gain).Sub(newMargin),
	}, nil
}

// PairLocker serializes netting per currency pair. Two concurrent fills on the
// same pair must not interleave.
type PairLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPairLocker creates an empty locker.
func NewPairLocker() *PairLocker {
	return &PairLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the pair, creating it on first use. The returned
// function releases it.
func (l *PairLocker) Lock(pair domain.CurrencyPair) func() {
	l.mu.Lock()
	m, ok := l.locks[pair.String()]
	if !ok {
		m = &sync.Mutex{}
		l.locks[pair.String()] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
