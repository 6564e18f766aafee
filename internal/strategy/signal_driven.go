package strategy

import (
	"context"
	"fmt"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// SignalDriven opens positions from externally supplied signals instead of an
// indicator rule. Signals older than the configured lifetime are expired, not
// traded.
type SignalDriven struct {
	*core
	signals  ports.SignalRepository
	lifetime time.Duration
	now      func() time.Time
}

// NewSignalDriven creates a signal-driven strategy. lifetime is how long a
// signal stays tradable after creation.
func NewSignalDriven(cfg Config, deps Deps, signals ports.SignalRepository, lifetime time.Duration) (*SignalDriven, error) {
	c, err := newCore(cfg, deps)
	if err != nil {
		return nil, err
	}
	if signals == nil {
		return nil, fmt.Errorf("signal repository is required for strategy %q", cfg.StrategyID)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("signal lifetime must be positive for strategy %q", cfg.StrategyID)
	}
	return &SignalDriven{core: c, signals: signals, lifetime: lifetime, now: time.Now}, nil
}

// OnTickers implements ports.Strategy. Bars are still aggregated so the
// strategy keeps a market history, but entries come from the signal store.
func (s *SignalDriven) OnTickers(ctx context.Context, tickers []*domain.Ticker) {
	for _, t := range tickers {
		if !t.Pair.Equal(s.cfg.Pair) {
			continue
		}
		s.processTicker(ctx, t)
		s.consumeSignal(ctx)
	}
}

func (s *SignalDriven) consumeSignal(ctx context.Context) {
	signal, err := s.signals.FindFirstActiveByPair(ctx, s.cfg.Pair)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load active signal", map[string]interface{}{"strategy": s.cfg.StrategyID})
		return
	}
	if signal == nil {
		return
	}

	if signal.IsStale(s.now(), s.lifetime) {
		if err := s.signals.UpdateStatus(ctx, signal.ID, domain.SignalExpired); err != nil {
			s.logger.Error(ctx, err, "failed to expire signal", map[string]interface{}{"signalID": signal.ID})
		} else {
			s.logger.Info(ctx, "signal expired", map[string]interface{}{"signalID": signal.ID, "pair": s.cfg.Pair.String()})
		}
		return
	}

	if s.hasActivePosition(ctx) {
		return
	}
	s.openPosition(ctx, s, signal.Type)
	if err := s.signals.UpdateStatus(ctx, signal.ID, domain.SignalConsumed); err != nil {
		s.logger.Error(ctx, err, "failed to mark signal consumed", map[string]interface{}{"signalID": signal.ID})
	}
}
