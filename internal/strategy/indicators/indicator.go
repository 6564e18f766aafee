package indicators

import (
	"context"

	"quantbot/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from bar data
type Indicator interface {
	// Calculate computes the indicator value for the given bar series
	Calculate(ctx context.Context, series []*domain.Bar) (float64, error)

	// RequiredDataPoints returns the minimum number of bars needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// closePrice extracts the close of one bar as a float for indicator math.
// Indicators are heuristics, not money movement, so float precision is fine.
func closePrice(bar *domain.Bar) float64 {
	return bar.Close.InexactFloat64()
}
