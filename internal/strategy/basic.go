package strategy

import (
	"context"
	"time"

	"quantbot/internal/domain"
)

// Basic evaluates a caller-supplied entry rule on every completed bar of the
// primary (first configured) duration.
type Basic struct {
	*core
	entry Rule
}

// NewBasic creates a basic strategy around the given rule.
func NewBasic(cfg Config, deps Deps, entry Rule) (*Basic, error) {
	c, err := newCore(cfg, deps)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = func([]*domain.Bar) bool { return false }
	}
	return &Basic{core: c, entry: entry}, nil
}

// OnTickers implements ports.Strategy.
func (b *Basic) OnTickers(ctx context.Context, tickers []*domain.Ticker) {
	for _, t := range tickers {
		if !t.Pair.Equal(b.cfg.Pair) {
			continue
		}
		events := b.processTicker(ctx, t)
		if len(events) == 0 {
			continue
		}
		b.maybeEnter(ctx)
	}
}

func (b *Basic) maybeEnter(ctx context.Context) {
	if b.hasActivePosition(ctx) {
		return
	}
	if !b.entry(b.Series(b.primaryDuration())) {
		return
	}
	b.openPosition(ctx, b, b.cfg.Direction)
}

func (b *Basic) primaryDuration() time.Duration {
	return b.cfg.Durations[0]
}
