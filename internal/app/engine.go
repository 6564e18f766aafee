package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// Engine drives the data streams: one polling goroutine per data kind
// (tickers, orders, trades), fanning updates out to the registered strategies
// and the position service. Strategies are only ever called from the ticker
// goroutine, which keeps each strategy the single writer of its aggregators.
type Engine struct {
	logger          ports.Logger
	marketService   ports.MarketService
	tradeService    ports.TradeService
	positionService *PositionService
	strategies      []ports.Strategy

	tickerInterval time.Duration
	orderInterval  time.Duration
}

// EngineConfig bundles the engine dependencies and polling cadence.
type EngineConfig struct {
	Logger          ports.Logger
	MarketService   ports.MarketService
	TradeService    ports.TradeService
	PositionService *PositionService
	Strategies      []ports.Strategy
	TickerInterval  time.Duration
	OrderInterval   time.Duration
}

// NewEngine creates the trading engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Logger == nil || cfg.MarketService == nil || cfg.TradeService == nil || cfg.PositionService == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required")
	}
	tickerInterval := cfg.TickerInterval
	if tickerInterval <= 0 {
		tickerInterval = time.Second
	}
	orderInterval := cfg.OrderInterval
	if orderInterval <= 0 {
		orderInterval = 5 * time.Second
	}
	return &Engine{
		logger:          cfg.Logger,
		marketService:   cfg.MarketService,
		tradeService:    cfg.TradeService,
		positionService: cfg.PositionService,
		strategies:      cfg.Strategies,
		tickerInterval:  tickerInterval,
		orderInterval:   orderInterval,
	}, nil
}

// Start runs the polling loops until the context is cancelled or a signal is
// received.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info(ctx, "Starting trading engine", map[string]interface{}{"strategies": len(e.strategies)})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			e.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.tickerLoop(ctx) })
	g.Go(func() error { return e.orderLoop(ctx) })
	g.Go(func() error { return e.tradeLoop(ctx) })

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("trading engine stopped: %w", err)
	}
	e.logger.Info(context.Background(), "Trading engine stopped")
	return nil
}

// requestedPairs is the deduplicated union of all strategies' pairs.
func (e *Engine) requestedPairs() []domain.CurrencyPair {
	seen := make(map[string]bool)
	var pairs []domain.CurrencyPair
	for _, strat := range e.strategies {
		for _, pair := range strat.RequestedPairs() {
			if !seen[pair.String()] {
				seen[pair.String()] = true
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs
}

func (e *Engine) tickerLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.tickerInterval)
	defer ticker.Stop()

	pairs := e.requestedPairs()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batch := make([]*domain.Ticker, 0, len(pairs))
			for _, pair := range pairs {
				t, err := e.marketService.Ticker(ctx, pair)
				if err != nil {
					e.logger.Warn(ctx, "ticker fetch failed", map[string]interface{}{"pair": pair.String(), "error": err.Error()})
					continue
				}
				if t == nil {
					continue
				}
				batch = append(batch, t)
			}
			if len(batch) == 0 {
				continue
			}
			for _, t := range batch {
				e.positionService.OnTickerUpdate(ctx, t)
			}
			for _, strat := range e.strategies {
				strat.OnTickers(ctx, filterForStrategy(batch, strat))
			}
		}
	}
}

func filterForStrategy(batch []*domain.Ticker, strat ports.Strategy) []*domain.Ticker {
	wanted := strat.RequestedPairs()
	out := make([]*domain.Ticker, 0, len(batch))
	for _, t := range batch {
		for _, pair := range wanted {
			if t.Pair.Equal(pair) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (e *Engine) orderLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.orderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			orders, err := e.tradeService.Orders(ctx)
			if err != nil {
				e.logger.Warn(ctx, "order poll failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			for _, order := range orders {
				e.positionService.OnOrderUpdate(ctx, order)
			}
		}
	}
}

func (e *Engine) tradeLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.orderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			trades, err := e.tradeService.Trades(ctx)
			if err != nil {
				e.logger.Warn(ctx, "trade poll failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			for _, trade := range trades {
				e.positionService.OnTradeUpdate(ctx, trade)
			}
		}
	}
}
