package strategy

import (
	"context"
	"fmt"

	"quantbot/internal/domain"
	"quantbot/internal/strategy/indicators"
)

// IndicatorConfig parametrizes the indicator-driven rule: a fast/slow moving
// average crossover filtered by RSI.
type IndicatorConfig struct {
	FastMAPeriod  int
	SlowMAPeriod  int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
}

// IndicatorDriven is a Basic strategy whose rule is built from the indicators
// package: enter long when the fast MA crosses above the slow MA and RSI is
// not overbought; mirrored for shorts.
type IndicatorDriven struct {
	*Basic
}

// NewIndicatorDriven builds the crossover rule and wraps it in a strategy.
func NewIndicatorDriven(cfg Config, deps Deps, ind IndicatorConfig) (*IndicatorDriven, error) {
	rule, err := NewMACrossoverRule(ind, cfg.Direction)
	if err != nil {
		return nil, err
	}
	basic, err := NewBasic(cfg, deps, rule)
	if err != nil {
		return nil, err
	}
	return &IndicatorDriven{Basic: basic}, nil
}

// NewMACrossoverRule builds the opaque entry predicate from the fast/slow
// moving averages and the RSI filter.
func NewMACrossoverRule(cfg IndicatorConfig, direction domain.PositionType) (Rule, error) {
	if cfg.FastMAPeriod <= 0 || cfg.SlowMAPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive")
	}
	if cfg.FastMAPeriod >= cfg.SlowMAPeriod {
		return nil, fmt.Errorf("fast MA period (%d) must be less than slow MA period (%d)", cfg.FastMAPeriod, cfg.SlowMAPeriod)
	}

	fast := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.FastMAPeriod},
		Type:            indicators.ExponentialMovingAverage,
	})
	slow := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.SlowMAPeriod},
		Type:            indicators.SimpleMovingAverage,
	})
	rsi := indicators.NewRSI(indicators.RSIConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
		Overbought:      cfg.RSIOverbought,
		Oversold:        cfg.RSIOversold,
	})

	required := cfg.SlowMAPeriod
	if cfg.RSIPeriod+1 > required {
		required = cfg.RSIPeriod + 1
	}

	return func(series []*domain.Bar) bool {
		// Need one extra bar to see the cross happen, not just the state.
		if len(series) < required+1 {
			return false
		}
		ctx := context.Background()

		fastNow, err := fast.Calculate(ctx, series)
		if err != nil {
			return false
		}
		slowNow, err := slow.Calculate(ctx, series)
		if err != nil {
			return false
		}
		previous := series[:len(series)-1]
		fastPrev, err := fast.Calculate(ctx, previous)
		if err != nil {
			return false
		}
		slowPrev, err := slow.Calculate(ctx, previous)
		if err != nil {
			return false
		}
		rsiNow, err := rsi.Calculate(ctx, series)
		if err != nil {
			return false
		}

		if direction == domain.Long {
			crossedUp := fastPrev <= slowPrev && fastNow > slowNow
			return crossedUp && !rsi.IsOverbought(rsiNow)
		}
		crossedDown := fastPrev >= slowPrev && fastNow < slowNow
		return crossedDown && !rsi.IsOversold(rsiNow)
	}, nil
}
