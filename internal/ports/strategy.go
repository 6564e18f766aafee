package ports

import (
	"context"

	"quantbot/internal/domain"
)

// Strategy is one trading strategy registered with the engine. The engine's
// ticker poller is the only caller of OnTickers for a given strategy, which
// makes each strategy the single writer of its own bar aggregators.
type Strategy interface {
	// StrategyID identifies the strategy for position/order bookkeeping.
	StrategyID() string
	// TradingDomain reports whether the strategy trades spot or perpetual markets.
	TradingDomain() domain.StrategyDomain
	// RequestedPairs lists the currency pairs the strategy wants tickers for.
	RequestedPairs() []domain.CurrencyPair
	// OnTickers delivers a batch of fresh tickers, one per requested pair at most.
	OnTickers(ctx context.Context, tickers []*domain.Ticker)
}
