package domain

// PositionType indicates the direction of a position.
type PositionType string

const (
	Long  PositionType = "LONG"
	Short PositionType = "SHORT"
)

// StrategyDomain selects the market type a strategy trades on. It changes which
// currency short-position gains are denominated in and which netting rules apply.
type StrategyDomain string

const (
	DomainSpot      StrategyDomain = "SPOT"
	DomainPerpetual StrategyDomain = "PERPETUAL"
)

// PositionStatus is derived from the opening/closing order state, never stored.
type PositionStatus string

const (
	StatusOpening        PositionStatus = "OPENING"
	StatusOpened         PositionStatus = "OPENED"
	StatusOpeningFailure PositionStatus = "OPENING_FAILURE"
	StatusClosing        PositionStatus = "CLOSING"
	StatusClosed         PositionStatus = "CLOSED"
	StatusClosingFailure PositionStatus = "CLOSING_FAILURE"
)

// Exit reasons reported by rule evaluation.
const (
	ExitReasonTakeProfit = "Take profit"
	ExitReasonStopLoss   = "Stop loss"
	ExitReasonForced     = "Forced"
	ExitReasonSignal     = "Signal"
)

// IsTerminal reports whether a status is final for the engine. Terminal positions
// are observable but never mutated again.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusOpeningFailure || s == StatusClosingFailure
}
