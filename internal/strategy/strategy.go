// Package strategy implements the closed set of strategy variants: Basic
// (caller-supplied rule), IndicatorDriven (rule built from technical
// indicators) and SignalDriven (rule fed by stored signals). The variant is
// selected at configuration time; there is no runtime type inspection.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantbot/internal/app"
	"quantbot/internal/bars"
	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

const defaultMaxSeriesLength = 500

// Rule is the opaque predicate a strategy evaluates against its bar series.
// True means "enter a position now".
type Rule func(series []*domain.Bar) bool

// Config describes one strategy instance.
type Config struct {
	StrategyID      string
	TradingDomain   domain.StrategyDomain
	Pair            domain.CurrencyPair
	Durations       []time.Duration // bar durations to aggregate
	Direction       domain.PositionType
	Amount          decimal.Decimal // base quantity per position
	Rules           domain.PositionRules
	MaxSeriesLength int
}

// Deps bundles the collaborators every variant needs.
type Deps struct {
	Logger    ports.Logger
	Market    ports.MarketService
	Positions *app.PositionService
}

// core carries the state shared by all variants: the bar aggregators (one per
// duration), the bar series, and gap compensation. The engine's ticker
// goroutine is the only caller, so none of this is locked.
type core struct {
	cfg    Config
	logger ports.Logger
	market ports.MarketService

	positions *app.PositionService

	aggregators map[domain.BarKey]*bars.Aggregator
	series      map[domain.BarKey][]*domain.Bar
}

func newCore(cfg Config, deps Deps) (*core, error) {
	if deps.Logger == nil || deps.Market == nil || deps.Positions == nil {
		return nil, fmt.Errorf("missing required dependencies for strategy %q", cfg.StrategyID)
	}
	if cfg.StrategyID == "" {
		return nil, fmt.Errorf("strategy id is required")
	}
	if len(cfg.Durations) == 0 {
		return nil, fmt.Errorf("strategy %q needs at least one bar duration", cfg.StrategyID)
	}
	if cfg.Direction != domain.Long && cfg.Direction != domain.Short {
		return nil, fmt.Errorf("strategy %q has invalid direction %q", cfg.StrategyID, cfg.Direction)
	}
	if cfg.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("strategy %q amount must be positive", cfg.StrategyID)
	}
	if cfg.MaxSeriesLength <= 0 {
		cfg.MaxSeriesLength = defaultMaxSeriesLength
	}

	c := &core{
		cfg:         cfg,
		logger:      deps.Logger,
		market:      deps.Market,
		positions:   deps.Positions,
		aggregators: make(map[domain.BarKey]*bars.Aggregator),
		series:      make(map[domain.BarKey][]*domain.Bar),
	}
	for _, d := range cfg.Durations {
		agg, err := bars.New(cfg.Pair, d)
		if err != nil {
			return nil, err
		}
		c.aggregators[agg.Key()] = agg
	}
	return c, nil
}

func (c *core) StrategyID() string                   { return c.cfg.StrategyID }
func (c *core) TradingDomain() domain.StrategyDomain { return c.cfg.TradingDomain }
func (c *core) RequestedPairs() []domain.CurrencyPair {
	return []domain.CurrencyPair{c.cfg.Pair}
}

// Series returns the accumulated bars for one duration.
func (c *core) Series(duration time.Duration) []*domain.Bar {
	return c.series[domain.NewBarKey(c.cfg.Pair, duration)]
}

// Seed replays historical tickers into the aggregators so indicator rules
// have a full window at startup.
func (c *core) Seed(ctx context.Context, from time.Time) {
	for _, agg := range c.aggregators {
		history, err := c.market.HistoryTickers(ctx, c.cfg.Pair, agg.Duration(), from, time.Now())
		if err != nil {
			c.logger.Warn(ctx, "failed to seed bar aggregator", map[string]interface{}{
				"strategy": c.cfg.StrategyID, "duration": agg.Duration().String(), "error": err.Error()})
			continue
		}
		for _, t := range history {
			c.feed(ctx, agg, t)
		}
	}
}

// processTicker folds one live ticker into every aggregator, compensating
// skipped candles first, and returns the emitted bar events.
func (c *core) processTicker(ctx context.Context, ticker *domain.Ticker) []*bars.Event {
	var events []*bars.Event
	for _, agg := range c.aggregators {
		c.compensateGap(ctx, agg, ticker.Timestamp)
		if ev := c.feed(ctx, agg, ticker); ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// compensateGap replays historical tickers when the incoming timestamp is far
// enough past the current bucket that a whole candle would otherwise be
// silently skipped.
func (c *core) compensateGap(ctx context.Context, agg *bars.Aggregator, upTo time.Time) {
	end := agg.CurrentBucketEnd()
	if end.IsZero() || !upTo.After(end.Add(agg.Duration())) {
		return
	}
	history, err := c.market.HistoryTickers(ctx, c.cfg.Pair, agg.Duration(), end, upTo)
	if err != nil {
		c.logger.Warn(ctx, "gap compensation fetch failed", map[string]interface{}{
			"strategy": c.cfg.StrategyID, "duration": agg.Duration().String(), "error": err.Error()})
		return
	}
	for _, t := range history {
		if t.Timestamp.After(upTo) {
			break
		}
		c.feed(ctx, agg, t)
	}
}

func (c *core) feed(ctx context.Context, agg *bars.Aggregator, ticker *domain.Ticker) *bars.Event {
	ev, err := agg.Update(ticker.Timestamp, ticker)
	if err != nil {
		c.logger.Warn(ctx, "bar update rejected", map[string]interface{}{
			"strategy": c.cfg.StrategyID, "duration": agg.Duration().String(), "error": err.Error()})
		return nil
	}
	if ev == nil {
		return nil
	}
	key := ev.Key
	s := append(c.series[key], &ev.Bar)
	if len(s) > c.cfg.MaxSeriesLength {
		s = s[len(s)-c.cfg.MaxSeriesLength:]
	}
	c.series[key] = s
	return ev
}

// hasActivePosition reports whether the strategy already holds a non-terminal
// position on its pair.
func (c *core) hasActivePosition(ctx context.Context) bool {
	positions, err := c.positions.Positions(ctx, c.cfg.StrategyID)
	if err != nil {
		c.logger.Error(ctx, err, "failed to load strategy positions", map[string]interface{}{"strategy": c.cfg.StrategyID})
		return true // fail safe: do not stack positions when state is unknown
	}
	for _, p := range positions {
		if !p.Status().IsTerminal() {
			return true
		}
	}
	return false
}

// openPosition opens one position in the configured direction.
func (c *core) openPosition(ctx context.Context, self ports.Strategy, direction domain.PositionType) {
	amount := domain.NewCurrencyAmount(c.cfg.Amount, c.cfg.Pair.Base)
	var err error
	if direction == domain.Long {
		_, err = c.positions.CreateLongPosition(ctx, self, c.cfg.Pair, amount, c.cfg.Rules)
	} else {
		_, err = c.positions.CreateShortPosition(ctx, self, c.cfg.Pair, amount, c.cfg.Rules)
	}
	if err != nil {
		c.logger.Error(ctx, err, "failed to open position", map[string]interface{}{
			"strategy": c.cfg.StrategyID, "pair": c.cfg.Pair.String(), "direction": direction})
	}
}
