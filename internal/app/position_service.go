package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
	"quantbot/internal/risk"
)

const positionStreamBuffer = 64

// PositionService orchestrates position creation and closing through the
// trade service, applies status transitions, and computes aggregate gains.
//
// The position repository is the single source of truth: every operation
// loads fresh state, mutates and persists. Status-changing operations are
// serialized per position UID with a keyed mutex; no lock is ever held across
// a trade-service call.
type PositionService struct {
	logger       ports.Logger
	tradeService ports.TradeService
	positionRepo ports.PositionRepository
	riskManager  *risk.Manager

	mu       sync.Mutex
	uidLocks map[string]*sync.Mutex

	stream chan *domain.Position
}

// NewPositionService creates the service.
func NewPositionService(logger ports.Logger, tradeService ports.TradeService, positionRepo ports.PositionRepository, riskManager *risk.Manager) (*PositionService, error) {
	if logger == nil || tradeService == nil || positionRepo == nil || riskManager == nil {
		return nil, fmt.Errorf("missing required dependencies for PositionService")
	}
	return &PositionService{
		logger:       logger,
		tradeService: tradeService,
		positionRepo: positionRepo,
		riskManager:  riskManager,
		uidLocks:     make(map[string]*sync.Mutex),
		stream:       make(chan *domain.Position, positionStreamBuffer),
	}, nil
}

// PositionsStream delivers every created or mutated position. Slow consumers
// miss updates rather than blocking the engine.
func (s *PositionService) PositionsStream() <-chan *domain.Position { return s.stream }

func (s *PositionService) lockUID(uid string) func() {
	s.mu.Lock()
	m, ok := s.uidLocks[uid]
	if !ok {
		m = &sync.Mutex{}
		s.uidLocks[uid] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *PositionService) emit(pos *domain.Position) {
	select {
	case s.stream <- pos:
	default:
	}
}

// CreateLongPosition opens a LONG position by placing a market buy order.
func (s *PositionService) CreateLongPosition(ctx context.Context, strategy ports.Strategy, pair domain.CurrencyPair, amount domain.CurrencyAmount, rules domain.PositionRules) (*domain.Position, error) {
	return s.createPosition(ctx, strategy, domain.Long, pair, amount, rules)
}

// CreateShortPosition opens a SHORT position by placing a market sell order.
func (s *PositionService) CreateShortPosition(ctx context.Context, strategy ports.Strategy, pair domain.CurrencyPair, amount domain.CurrencyAmount, rules domain.PositionRules) (*domain.Position, error) {
	return s.createPosition(ctx, strategy, domain.Short, pair, amount, rules)
}

func (s *PositionService) createPosition(ctx context.Context, strategy ports.Strategy, posType domain.PositionType, pair domain.CurrencyPair, amount domain.CurrencyAmount, rules domain.PositionRules) (*domain.Position, error) {
	op := "createPosition"

	existing, err := s.positionRepo.FindByStrategy(ctx, strategy.StrategyID())
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for strategy %s: %w", strategy.StrategyID(), err)
	}
	openCount := 0
	for _, p := range existing {
		if !p.Status().IsTerminal() {
			openCount++
		}
	}
	if err := s.riskManager.ValidateNewPosition(amount, openCount); err != nil {
		s.logger.Warn(ctx, op+": position request rejected", map[string]interface{}{"strategy": strategy.StrategyID(), "pair": pair.String(), "reason": err.Error()})
		return nil, err
	}

	var order *domain.Order
	if posType == domain.Long {
		order, err = s.tradeService.CreateBuyMarketOrder(ctx, strategy.StrategyID(), pair, amount)
	} else {
		order, err = s.tradeService.CreateSellMarketOrder(ctx, strategy.StrategyID(), pair, amount)
	}
	if err != nil {
		// A failed placement never creates a position.
		s.logger.Error(ctx, err, op+": opening order placement failed", map[string]interface{}{"strategy": strategy.StrategyID(), "pair": pair.String(), "type": posType})
		return nil, fmt.Errorf("opening order failed for %s %s: %w", posType, pair, err)
	}

	positionID, err := s.positionRepo.NextPositionID(ctx, strategy.StrategyID())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate position id: %w", err)
	}

	pos, err := domain.NewPosition(uuid.NewString(), positionID, strategy.StrategyID(), posType, strategy.TradingDomain(), pair, rules, order)
	if err != nil {
		return nil, err
	}
	if err := s.positionRepo.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to persist new position: %w", err)
	}

	s.logger.Info(ctx, op+": position created", map[string]interface{}{
		"uid":        pos.UID,
		"positionID": pos.PositionID,
		"strategy":   pos.StrategyID,
		"type":       pos.Type,
		"pair":       pair.String(),
		"amount":     amount.String(),
	})
	s.emit(pos)
	return pos, nil
}

// ClosePosition loads the position and places the inverse market order sized
// at the position's locked amount. "Position not found" is an explicit error,
// never a panic.
func (s *PositionService) ClosePosition(ctx context.Context, strategyID, uid string, ticker *domain.Ticker, exitReason string) error {
	op := "closePosition"

	pos, err := s.positionRepo.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", uid, err)
	}
	if pos == nil || (strategyID != "" && pos.StrategyID != strategyID) {
		return fmt.Errorf("position %s: %w", uid, ports.ErrPositionNotFound)
	}
	if status := pos.Status(); status != domain.StatusOpened {
		return fmt.Errorf("position %s is %s: %w", uid, status, domain.ErrPositionNotOpen)
	}

	// Order placement may block on the network; the UID lock is taken only
	// afterwards, for the status transition itself.
	var order *domain.Order
	if pos.Type == domain.Long {
		order, err = s.tradeService.CreateSellMarketOrder(ctx, pos.StrategyID, pos.Pair, pos.Amount)
	} else {
		order, err = s.tradeService.CreateBuyMarketOrder(ctx, pos.StrategyID, pos.Pair, pos.Amount)
	}
	if err != nil {
		s.logger.Error(ctx, err, op+": closing order placement failed", map[string]interface{}{"uid": uid})
		return fmt.Errorf("closing order failed for position %s: %w", uid, err)
	}

	unlock := s.lockUID(uid)
	defer unlock()

	// Reload under the lock; a concurrent close may have won.
	pos, err = s.positionRepo.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to reload position %s: %w", uid, err)
	}
	if pos == nil {
		return fmt.Errorf("position %s: %w", uid, ports.ErrPositionNotFound)
	}
	if ticker != nil {
		pos.TickerUpdate(ticker)
	}
	if err := pos.ClosePositionWithOrder(order, exitReason); err != nil {
		return err
	}
	if err := s.positionRepo.Save(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist closed position %s: %w", uid, err)
	}

	s.logger.Info(ctx, op+": position closing", map[string]interface{}{"uid": uid, "reason": exitReason, "orderID": order.OrderID})
	s.emit(pos)
	return nil
}

// UpdatePositionRules replaces the stop-gain/stop-loss thresholds. No-op when
// the position is already CLOSED. Each threshold can be cleared by omission.
func (s *PositionService) UpdatePositionRules(ctx context.Context, uid string, rules domain.PositionRules) error {
	unlock := s.lockUID(uid)
	defer unlock()

	pos, err := s.positionRepo.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", uid, err)
	}
	if pos == nil {
		return fmt.Errorf("position %s: %w", uid, ports.ErrPositionNotFound)
	}
	if pos.Status() == domain.StatusClosed {
		return nil
	}
	pos.Rules = rules
	if err := s.positionRepo.Save(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist rules for position %s: %w", uid, err)
	}
	s.emit(pos)
	return nil
}

// SetAutoClose toggles automatic rule evaluation for the position.
func (s *PositionService) SetAutoClose(ctx context.Context, uid string, autoClose bool) error {
	unlock := s.lockUID(uid)
	defer unlock()

	pos, err := s.positionRepo.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", uid, err)
	}
	if pos == nil {
		return fmt.Errorf("position %s: %w", uid, ports.ErrPositionNotFound)
	}
	pos.AutoClose = autoClose
	return s.positionRepo.Save(ctx, pos)
}

// ForceClosePosition marks the position for closing on the next evaluation,
// regardless of its rules.
func (s *PositionService) ForceClosePosition(ctx context.Context, uid string) error {
	unlock := s.lockUID(uid)
	defer unlock()

	pos, err := s.positionRepo.FindByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", uid, err)
	}
	if pos == nil {
		return fmt.Errorf("position %s: %w", uid, ports.ErrPositionNotFound)
	}
	pos.ForceClosing = true
	return s.positionRepo.Save(ctx, pos)
}

// Positions returns the positions owned by one strategy.
func (s *PositionService) Positions(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	return s.positionRepo.FindByStrategy(ctx, strategyID)
}

// GetGains aggregates realized gain across all CLOSED positions, optionally
// scoped to one strategy, grouped by settlement currency. The percentage is
// recomputed from pooled totals per currency, not averaged across positions.
func (s *PositionService) GetGains(ctx context.Context, strategyID string) (map[string]domain.Gain, error) {
	var positions []*domain.Position
	var err error
	if strategyID == "" {
		positions, err = s.positionRepo.FindAll(ctx)
	} else {
		positions, err = s.positionRepo.FindByStrategy(ctx, strategyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for gain aggregation: %w", err)
	}
	return PoolGains(positions), nil
}

// PoolGains aggregates realized gain over the CLOSED positions in the slice,
// grouped by settlement currency, recomputing the percentage from the pooled
// totals.
func PoolGains(positions []*domain.Position) map[string]domain.Gain {
	type pool struct {
		gain  decimal.Decimal
		basis decimal.Decimal
		fees  map[string]decimal.Decimal
	}
	pools := make(map[string]*pool)

	for _, pos := range positions {
		gain, ok := pos.Gain()
		if !ok {
			continue
		}
		currency := gain.Amount.Currency
		pl, exists := pools[currency]
		if !exists {
			pl = &pool{fees: make(map[string]decimal.Decimal)}
			pools[currency] = pl
		}
		pl.gain = pl.gain.Add(gain.Amount.Value)
		pl.basis = pl.basis.Add(positionBasis(pos))
		for _, fee := range gain.Fees {
			pl.fees[fee.Currency] = pl.fees[fee.Currency].Add(fee.Value)
		}
	}

	gains := make(map[string]domain.Gain, len(pools))
	for currency, pl := range pools {
		pct := decimal.Zero
		if pl.basis.Sign() > 0 {
			pct = pl.gain.Div(pl.basis).Mul(decimal.NewFromInt(100)).RoundFloor(domain.PercentScale)
		}
		fees := make([]domain.CurrencyAmount, 0, len(pl.fees))
		for feeCurrency, value := range pl.fees {
			fees = append(fees, domain.NewCurrencyAmount(value, feeCurrency))
		}
		gains[currency] = domain.Gain{
			Percentage: pct,
			Amount:     domain.NewCurrencyAmount(pl.gain, currency),
			Fees:       fees,
		}
	}
	return gains
}

// positionBasis is the pooled denominator contribution of one closed position:
// the opening notional for quote-settled positions, the opening base amount
// for spot shorts.
func positionBasis(pos *domain.Position) decimal.Decimal {
	if pos.Type == domain.Short && pos.Domain == domain.DomainSpot {
		return pos.OpeningOrder.TradedAmount()
	}
	return pos.OpeningOrder.TradedValue()
}

// OnTickerUpdate refreshes gain snapshots of every OPENED position on the
// ticker's pair, then closes the ones whose rules fire. Runs on the engine's
// ticker goroutine.
func (s *PositionService) OnTickerUpdate(ctx context.Context, ticker *domain.Ticker) {
	if ticker == nil {
		return
	}
	positions, err := s.positionRepo.FindByStatus(ctx, domain.StatusOpened)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load opened positions for ticker update")
		return
	}

	type closeRequest struct {
		uid    string
		reason string
	}
	var toClose []closeRequest

	for _, pos := range positions {
		if !pos.Pair.Equal(ticker.Pair) {
			continue
		}
		unlock := s.lockUID(pos.UID)
		updated := pos.TickerUpdate(ticker)
		if updated {
			if err := s.positionRepo.Save(ctx, pos); err != nil {
				s.logger.Error(ctx, err, "failed to persist gain snapshots", map[string]interface{}{"uid": pos.UID})
			}
			s.emit(pos)
		}
		shouldClose := false
		reason := ""
		if pos.AutoClose || pos.ForceClosing {
			shouldClose, reason = pos.ShouldBeClosed()
		}
		unlock()
		if shouldClose {
			toClose = append(toClose, closeRequest{uid: pos.UID, reason: reason})
		}
	}

	for _, req := range toClose {
		if err := s.ClosePosition(ctx, "", req.uid, ticker, req.reason); err != nil {
			s.logger.Error(ctx, err, "automatic close failed", map[string]interface{}{"uid": req.uid, "reason": req.reason})
		}
	}
}

// OnOrderUpdate refreshes the stored copy of an order referenced by any
// position (fill progress, status changes). Runs on the engine's order
// goroutine.
func (s *PositionService) OnOrderUpdate(ctx context.Context, order *domain.Order) {
	if order == nil {
		return
	}
	positions, err := s.positionRepo.FindAll(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load positions for order update")
		return
	}
	for _, pos := range positions {
		if pos.Status().IsTerminal() {
			continue
		}
		target := matchOrder(pos, order.OrderID)
		if target == nil {
			continue
		}
		unlock := s.lockUID(pos.UID)
		mergeOrderUpdate(target, order)
		err := s.positionRepo.Save(ctx, pos)
		unlock()
		if err != nil {
			s.logger.Error(ctx, err, "failed to persist order update", map[string]interface{}{"uid": pos.UID, "orderID": order.OrderID})
			continue
		}
		s.emit(pos)
	}
}

// OnTradeUpdate attaches a fill to the order it belongs to. Runs on the
// engine's trade goroutine.
func (s *PositionService) OnTradeUpdate(ctx context.Context, trade *domain.Trade) {
	if trade == nil {
		return
	}
	positions, err := s.positionRepo.FindAll(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "failed to load positions for trade update")
		return
	}
	for _, pos := range positions {
		if pos.Status().IsTerminal() {
			continue
		}
		target := matchOrder(pos, trade.OrderID)
		if target == nil {
			continue
		}
		unlock := s.lockUID(pos.UID)
		attachTrade(target, trade)
		err := s.positionRepo.Save(ctx, pos)
		unlock()
		if err != nil {
			s.logger.Error(ctx, err, "failed to persist trade update", map[string]interface{}{"uid": pos.UID, "tradeID": trade.TradeID})
			continue
		}
		s.emit(pos)
	}
}

func matchOrder(pos *domain.Position, orderID string) *domain.Order {
	if pos.OpeningOrder != nil && pos.OpeningOrder.OrderID == orderID {
		return pos.OpeningOrder
	}
	if pos.ClosingOrder != nil && pos.ClosingOrder.OrderID == orderID {
		return pos.ClosingOrder
	}
	return nil
}

func mergeOrderUpdate(target, update *domain.Order) {
	target.Status = update.Status
	target.CumulativeAmount = update.CumulativeAmount
	if !update.AveragePrice.Value.IsZero() {
		target.AveragePrice = update.AveragePrice
	}
	for _, t := range update.Trades {
		attachTrade(target, t)
	}
}

// attachTrade appends a fill if unseen and recomputes the cumulative amount
// from the trade set.
func attachTrade(order *domain.Order, trade *domain.Trade) {
	for _, existing := range order.Trades {
		if existing.TradeID == trade.TradeID {
			return
		}
	}
	order.Trades = append(order.Trades, trade)
	total := decimal.Zero
	for _, t := range order.Trades {
		total = total.Add(t.Amount.Value)
	}
	order.CumulativeAmount = domain.NewCurrencyAmount(total, order.Amount.Currency)
	if order.CumulativeAmount.Value.Cmp(order.Amount.Value) == 0 && !order.IsInError() {
		order.Status = domain.OrderFilled
	}
}
