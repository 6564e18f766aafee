package domain

import "time"

// SignalStatus tracks the lifecycle of an externally supplied trading signal.
type SignalStatus string

const (
	SignalActive   SignalStatus = "ACTIVE"
	SignalExpired  SignalStatus = "EXPIRED"
	SignalConsumed SignalStatus = "CONSUMED"
)

// Signal is a directional trading hint consumed by the signal-driven strategy.
// Signals expire after a configurable number of seconds.
type Signal struct {
	ID         int64
	StrategyID string
	Pair       CurrencyPair
	Type       PositionType
	Status     SignalStatus
	CreatedAt  time.Time
}

// IsStale reports whether the signal is older than the given lifetime at now.
func (s *Signal) IsStale(now time.Time, lifetime time.Duration) bool {
	return now.Sub(s.CreatedAt) > lifetime
}
