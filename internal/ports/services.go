package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quantbot/internal/domain"
)

// TradeService places and manages orders on the exchange on behalf of a
// strategy. Implementations may block on network I/O; callers must not hold
// their own locks across these calls.
type TradeService interface {
	// CreateBuyMarketOrder places a market buy for the given base amount.
	CreateBuyMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error)
	// CreateSellMarketOrder places a market sell for the given base amount.
	CreateSellMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error)
	// SetLeverage sets the leverage used for subsequent perpetual orders on the pair.
	SetLeverage(ctx context.Context, pair domain.CurrencyPair, leverage int) error
	// CancelOrder cancels an open order. Returns false when the exchange rejected
	// the cancellation.
	CancelOrder(ctx context.Context, orderID string) bool
	// Orders returns the orders currently known for this account.
	Orders(ctx context.Context) ([]*domain.Order, error)
	// Trades returns the trades currently known for this account.
	Trades(ctx context.Context) ([]*domain.Trade, error)
}

// MarketService provides market data snapshots and history.
type MarketService interface {
	// Ticker returns the latest ticker for the pair, or nil when none is available.
	Ticker(ctx context.Context, pair domain.CurrencyPair) (*domain.Ticker, error)
	// HistoryTickers returns historical tickers at the given duration covering
	// [from, to], used for gap-compensation replay and aggregator seeding.
	HistoryTickers(ctx context.Context, pair domain.CurrencyPair, duration time.Duration, from, to time.Time) ([]*domain.Ticker, error)
}

// CurrencyPairMetaData is the exchange-supplied precision/limit metadata for a pair.
type CurrencyPairMetaData struct {
	BaseScale            int32
	PriceScale           int32
	CounterMinimumAmount decimal.Decimal
}

// ExchangeService exposes exchange account metadata.
type ExchangeService interface {
	// CurrencyPairMetaData returns precision metadata for a pair, or nil when the
	// exchange does not list it.
	CurrencyPairMetaData(ctx context.Context, pair domain.CurrencyPair) (*CurrencyPairMetaData, error)
	// TradingFee returns the account's taker fee rate.
	TradingFee(ctx context.Context) (decimal.Decimal, error)
	// IsSimulatedExchange reports whether the execution engine is the dry-mode one.
	IsSimulatedExchange() bool
}
