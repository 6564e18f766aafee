package ports

import (
	"context"

	"quantbot/internal/domain"
)

// PositionRepository stores position aggregates, including their opening and
// closing orders. The repository is the single source of truth: the engine
// loads fresh state on every operation and accepts last-writer-wins semantics.
type PositionRepository interface {
	// Save inserts or updates a position by its UID.
	Save(ctx context.Context, pos *domain.Position) error
	// FindByUID retrieves a position. Returns nil, nil when not found.
	FindByUID(ctx context.Context, uid string) (*domain.Position, error)
	// FindByStatus retrieves all positions currently in the given derived status.
	FindByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error)
	// FindByStrategy retrieves all positions belonging to one strategy.
	FindByStrategy(ctx context.Context, strategyID string) ([]*domain.Position, error)
	// FindAll retrieves every position.
	FindAll(ctx context.Context) ([]*domain.Position, error)
	// NextPositionID returns the next strategy-scoped sequence number.
	NextPositionID(ctx context.Context, strategyID string) (int64, error)
}

// OrderRepository stores orders independently of positions, keyed by order ID.
type OrderRepository interface {
	Save(ctx context.Context, order *domain.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*domain.Order, error)
	FindAll(ctx context.Context) ([]*domain.Order, error)
}

// TradeRepository stores individual fills.
type TradeRepository interface {
	Save(ctx context.Context, trade *domain.Trade) error
	FindByOrderID(ctx context.Context, orderID string) ([]*domain.Trade, error)
}

// SignalRepository stores externally supplied trading signals for the
// signal-driven strategy variant.
type SignalRepository interface {
	Save(ctx context.Context, signal *domain.Signal) (int64, error)
	// FindFirstActiveByPair returns the oldest ACTIVE signal for the pair, or
	// nil, nil when none exists.
	FindFirstActiveByPair(ctx context.Context, pair domain.CurrencyPair) (*domain.Signal, error)
	// UpdateStatus moves a signal to the given status.
	UpdateStatus(ctx context.Context, id int64, status domain.SignalStatus) error
}
