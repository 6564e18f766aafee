// Package simulated provides a dry-run execution engine. Orders fill
// instantly at the latest market price against an in-memory balance book, so
// strategies can run end to end without touching a real exchange account.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/netting"
	"quantbot/internal/ports"

	"github.com/shopspring/decimal"
)

// Engine implements the trade and exchange service ports with simulated
// executions. Perpetual fills are netted against the in-memory position book
// through the netting engine, exactly one open position per pair.
type Engine struct {
	logger        ports.Logger
	market        ports.MarketService
	tradingDomain domain.StrategyDomain
	feeRate       decimal.Decimal

	mu            sync.Mutex
	balances      map[string]decimal.Decimal
	orders        []*domain.Order
	trades        []*domain.Trade
	leverage      map[string]int
	openPositions map[string]*domain.OpenPosition
	orderSeq      int64
	tradeSeq      int64

	pairLocks *netting.PairLocker
}

// Config holds configuration for the simulated engine.
type Config struct {
	Logger ports.Logger
	// Market supplies the fill prices.
	Market ports.MarketService
	// TradingDomain selects spot or perpetual execution semantics.
	TradingDomain domain.StrategyDomain
	// InitialBalances funds the account, keyed by currency.
	InitialBalances map[string]decimal.Decimal
	// FeeRate is the taker fee charged on every fill, in quote currency.
	FeeRate decimal.Decimal
}

// New creates a simulated execution engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for simulated engine")
	}
	if cfg.Market == nil {
		return nil, fmt.Errorf("market service is required for simulated engine")
	}
	tradingDomain := cfg.TradingDomain
	if tradingDomain == "" {
		tradingDomain = domain.DomainSpot
	}

	balances := make(map[string]decimal.Decimal, len(cfg.InitialBalances))
	for currency, amount := range cfg.InitialBalances {
		balances[currency] = amount
	}

	return &Engine{
		logger:        cfg.Logger,
		market:        cfg.Market,
		tradingDomain: tradingDomain,
		feeRate:       cfg.FeeRate,
		balances:      balances,
		leverage:      make(map[string]int),
		openPositions: make(map[string]*domain.OpenPosition),
		pairLocks:     netting.NewPairLocker(),
	}, nil
}

// Balance returns the current balance of one currency.
func (e *Engine) Balance(currency string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[currency]
}

// OpenPosition returns the netted perpetual position for a pair, or nil.
func (e *Engine) OpenPosition(pair domain.CurrencyPair) *domain.OpenPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos, ok := e.openPositions[pair.String()]; ok {
		snapshot := *pos
		return &snapshot
	}
	return nil
}

// --- TradeService Implementation ---

// CreateBuyMarketOrder fills a market buy at the latest ticker price.
func (e *Engine) CreateBuyMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return e.fill(ctx, strategyID, pair, amount, domain.Bid)
}

// CreateSellMarketOrder fills a market sell at the latest ticker price.
func (e *Engine) CreateSellMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return e.fill(ctx, strategyID, pair, amount, domain.Ask)
}

func (e *Engine) fill(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount, orderType domain.OrderType) (*domain.Order, error) {
	if amount.Value.Sign() <= 0 {
		return nil, fmt.Errorf("order amount must be positive: %w", ports.ErrInvalidRequest)
	}

	ticker, err := e.market.Ticker(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fill price for %s: %w", pair, err)
	}
	if ticker == nil || ticker.Last.Sign() <= 0 {
		return nil, fmt.Errorf("no market price available for %s: %w", pair, ports.ErrExchangeUnavailable)
	}
	price := ticker.Last

	unlock := e.pairLocks.Lock(pair)
	defer unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tradingDomain == domain.DomainPerpetual {
		if err := e.settlePerpetual(ctx, pair, amount.Value, price, orderType); err != nil {
			return nil, err
		}
	} else {
		if err := e.settleSpot(pair, amount.Value, price, orderType); err != nil {
			return nil, err
		}
	}

	order := e.recordFill(ctx, strategyID, pair, amount, price, orderType)
	return order, nil
}

// settleSpot moves base and quote balances for an immediate spot fill.
func (e *Engine) settleSpot(pair domain.CurrencyPair, amount, price decimal.Decimal, orderType domain.OrderType) error {
	notional := amount.Mul(price)
	if orderType == domain.Bid {
		if e.balances[pair.Quote].LessThan(notional) {
			return fmt.Errorf("quote balance %s below required %s: %w",
				e.balances[pair.Quote], notional, ports.ErrInsufficientFunds)
		}
		e.balances[pair.Quote] = e.balances[pair.Quote].Sub(notional)
		e.balances[pair.Base] = e.balances[pair.Base].Add(amount)
		return nil
	}
	if e.balances[pair.Base].LessThan(amount) {
		return fmt.Errorf("base balance %s below required %s: %w",
			e.balances[pair.Base], amount, ports.ErrInsufficientFunds)
	}
	e.balances[pair.Base] = e.balances[pair.Base].Sub(amount)
	e.balances[pair.Quote] = e.balances[pair.Quote].Add(notional)
	return nil
}

// settlePerpetual nets the fill against the pair's open position. The quote
// balance absorbs the realized delta: released margin and offset gains flow
// back, newly escrowed margin flows out.
func (e *Engine) settlePerpetual(ctx context.Context, pair domain.CurrencyPair, amount, price decimal.Decimal, orderType domain.OrderType) error {
	posType := domain.Long
	if orderType == domain.Ask {
		posType = domain.Short
	}

	leverage := e.leverage[pair.Symbol()]
	if leverage <= 0 {
		leverage = 1
	}
	margin := amount.Mul(price).Div(decimal.NewFromInt(int64(leverage))).RoundDown(netting.AmountScale)

	incoming := &domain.OpenPosition{
		Pair:   pair,
		Type:   posType,
		Amount: amount,
		Price:  price,
		Margin: margin,
	}

	existing := e.openPositions[pair.String()]
	if existing == nil {
		if e.balances[pair.Quote].LessThan(margin) {
			return fmt.Errorf("quote balance %s below required margin %s: %w",
				e.balances[pair.Quote], margin, ports.ErrInsufficientFunds)
		}
		e.balances[pair.Quote] = e.balances[pair.Quote].Sub(margin)
		e.openPositions[pair.String()] = incoming
		return nil
	}

	result, err := netting.Liquidate(existing, incoming)
	if err != nil {
		return fmt.Errorf("failed to net fill against open position on %s: %w", pair, err)
	}
	newBalance := e.balances[pair.Quote].Add(result.RealizedQuoteDelta)
	if newBalance.Sign() < 0 {
		return fmt.Errorf("quote balance would go negative (%s): %w", newBalance, ports.ErrInsufficientFunds)
	}
	e.balances[pair.Quote] = newBalance

	if result.Position == nil {
		delete(e.openPositions, pair.String())
	} else {
		e.openPositions[pair.String()] = result.Position
	}
	e.logger.Debug(ctx, "Simulated perpetual fill netted", map[string]interface{}{
		"pair": pair.String(), "realizedQuoteDelta": result.RealizedQuoteDelta.String(),
	})
	return nil
}

// recordFill builds the fully-filled order and its single trade. Caller holds e.mu.
func (e *Engine) recordFill(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount, price decimal.Decimal, orderType domain.OrderType) *domain.Order {
	e.orderSeq++
	e.tradeSeq++
	orderID := fmt.Sprintf("SIM-O%d", e.orderSeq)
	now := time.Now()

	trade := &domain.Trade{
		TradeID:   fmt.Sprintf("SIM-T%d", e.tradeSeq),
		OrderID:   orderID,
		Pair:      pair,
		Amount:    amount,
		Price:     domain.NewCurrencyAmount(price, pair.Quote),
		Timestamp: now,
	}
	if e.feeRate.Sign() > 0 {
		fee := domain.NewCurrencyAmount(amount.Value.Mul(price).Mul(e.feeRate), pair.Quote)
		trade.Fee = &fee
		e.balances[pair.Quote] = e.balances[pair.Quote].Sub(fee.Value)
	}

	order := &domain.Order{
		OrderID:          orderID,
		StrategyID:       strategyID,
		Type:             orderType,
		Pair:             pair,
		Amount:           amount,
		CumulativeAmount: amount,
		AveragePrice:     domain.NewCurrencyAmount(price, pair.Quote),
		MarketPrice:      domain.NewCurrencyAmount(price, pair.Quote),
		Status:           domain.OrderFilled,
		Trades:           []*domain.Trade{trade},
		Timestamp:        now,
	}
	e.orders = append(e.orders, order)
	e.trades = append(e.trades, trade)

	e.logger.Info(ctx, "Simulated order filled", map[string]interface{}{
		"orderID": orderID, "pair": pair.String(), "side": orderType,
		"amount": amount.Value.String(), "price": price.String(),
	})
	return order
}

// SetLeverage records the leverage used to size margin on subsequent fills.
func (e *Engine) SetLeverage(ctx context.Context, pair domain.CurrencyPair, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive: %w", ports.ErrInvalidRequest)
	}
	e.mu.Lock()
	e.leverage[pair.Symbol()] = leverage
	e.mu.Unlock()
	return nil
}

// CancelOrder always returns false: simulated orders fill instantly, so there
// is never anything left to cancel.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) bool {
	e.logger.Debug(ctx, "Cancel ignored, simulated orders fill instantly", map[string]interface{}{"orderID": orderID})
	return false
}

// Orders returns all orders filled by this engine.
func (e *Engine) Orders(ctx context.Context) ([]*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	orders := make([]*domain.Order, len(e.orders))
	copy(orders, e.orders)
	return orders, nil
}

// Trades returns all fills produced by this engine.
func (e *Engine) Trades(ctx context.Context) ([]*domain.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	trades := make([]*domain.Trade, len(e.trades))
	copy(trades, e.trades)
	return trades, nil
}

// --- ExchangeService Implementation ---

// CurrencyPairMetaData returns permissive defaults: the simulation does not
// enforce exchange listing rules.
func (e *Engine) CurrencyPairMetaData(ctx context.Context, pair domain.CurrencyPair) (*ports.CurrencyPairMetaData, error) {
	return &ports.CurrencyPairMetaData{
		BaseScale:  domain.DefaultPrecision,
		PriceScale: domain.DefaultPrecision,
	}, nil
}

// TradingFee returns the configured taker fee rate.
func (e *Engine) TradingFee(ctx context.Context) (decimal.Decimal, error) {
	return e.feeRate, nil
}

// IsSimulatedExchange reports true.
func (e *Engine) IsSimulatedExchange() bool { return true }
