package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
)

// Config holds the pre-trade validation limits.
type Config struct {
	MinimumAmount    decimal.Decimal // below this, orders are rejected outright
	MaxLeverage      int
	MaxOpenPositions int
}

// DefaultMinimumAmount rejects dust orders the exchange would refuse anyway.
var DefaultMinimumAmount = decimal.RequireFromString("0.000000001")

// Manager validates new position requests before any order is placed.
type Manager struct {
	cfg Config
}

// NewManager creates a risk manager, filling in defaults for unset limits.
func NewManager(cfg Config) *Manager {
	if cfg.MinimumAmount.IsZero() {
		cfg.MinimumAmount = DefaultMinimumAmount
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 20
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 10
	}
	return &Manager{cfg: cfg}
}

// ValidateNewPosition checks a position request against the configured limits.
// openPositions is the number of positions currently not in a terminal status.
func (m *Manager) ValidateNewPosition(amount domain.CurrencyAmount, openPositions int) error {
	if amount.Value.LessThan(m.cfg.MinimumAmount) {
		return fmt.Errorf("amount %s is below the minimum tradable amount %s: %w",
			amount, m.cfg.MinimumAmount, ports.ErrAmountTooSmall)
	}
	if openPositions >= m.cfg.MaxOpenPositions {
		return fmt.Errorf("open position count %d reached the maximum %d: %w",
			openPositions, m.cfg.MaxOpenPositions, ports.ErrInvalidRequest)
	}
	return nil
}

// ValidateLeverage checks a leverage request before forwarding it to the exchange.
func (m *Manager) ValidateLeverage(leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %d: %w", leverage, ports.ErrInvalidRequest)
	}
	if leverage > m.cfg.MaxLeverage {
		return fmt.Errorf("leverage %d exceeds the maximum %d: %w", leverage, m.cfg.MaxLeverage, ports.ErrInvalidRequest)
	}
	return nil
}
