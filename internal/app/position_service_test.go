package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot/internal/domain"
	"quantbot/internal/ports"
	"quantbot/internal/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPair() domain.CurrencyPair {
	p := domain.NewCurrencyPair("ETH", "USDT")
	p.BasePrecision = 8
	p.QuotePrecision = 2
	return p
}

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockTradeService struct {
	mu        sync.Mutex
	buyCalls  []domain.CurrencyAmount
	sellCalls []domain.CurrencyAmount
	fillPrice decimal.Decimal
	orderErr  error
	nextID    int
}

func newMockTradeService(fillPrice string) *mockTradeService {
	return &mockTradeService{fillPrice: d(fillPrice)}
}

func (m *mockTradeService) place(orderType domain.OrderType, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if orderType == domain.Bid {
		m.buyCalls = append(m.buyCalls, amount)
	} else {
		m.sellCalls = append(m.sellCalls, amount)
	}
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.nextID++
	o := &domain.Order{
		OrderID:          "mock-" + string(orderType) + "-" + time.Now().Format("150405.000000000"),
		StrategyID:       strategyID,
		Type:             orderType,
		Pair:             pair,
		Amount:           amount,
		CumulativeAmount: amount,
		AveragePrice:     domain.NewCurrencyAmount(m.fillPrice, pair.Quote),
		MarketPrice:      domain.NewCurrencyAmount(m.fillPrice, pair.Quote),
		Status:           domain.OrderFilled,
		Timestamp:        time.Now(),
	}
	o.Trades = []*domain.Trade{{
		TradeID:   o.OrderID + "-t1",
		OrderID:   o.OrderID,
		Pair:      pair,
		Amount:    amount,
		Price:     o.AveragePrice,
		Timestamp: o.Timestamp,
	}}
	return o, nil
}

func (m *mockTradeService) CreateBuyMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return m.place(domain.Bid, strategyID, pair, amount)
}

func (m *mockTradeService) CreateSellMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return m.place(domain.Ask, strategyID, pair, amount)
}

func (m *mockTradeService) SetLeverage(ctx context.Context, pair domain.CurrencyPair, leverage int) error {
	return nil
}
func (m *mockTradeService) CancelOrder(ctx context.Context, orderID string) bool { return false }
func (m *mockTradeService) Orders(ctx context.Context) ([]*domain.Order, error)  { return nil, nil }
func (m *mockTradeService) Trades(ctx context.Context) ([]*domain.Trade, error)  { return nil, nil }

type mockPositionRepo struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	order     []string
	saveErr   error
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{positions: make(map[string]*domain.Position)}
}

func (m *mockPositionRepo) Save(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, exists := m.positions[pos.UID]; !exists {
		m.order = append(m.order, pos.UID)
	}
	m.positions[pos.UID] = pos
	return nil
}

func (m *mockPositionRepo) FindByUID(ctx context.Context, uid string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[uid], nil
}

func (m *mockPositionRepo) FindByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	all, _ := m.FindAll(ctx)
	var out []*domain.Position
	for _, p := range all {
		if p.Status() == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPositionRepo) FindByStrategy(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	all, _ := m.FindAll(ctx)
	var out []*domain.Position
	for _, p := range all {
		if p.StrategyID == strategyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPositionRepo) FindAll(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.order))
	for _, uid := range m.order {
		out = append(out, m.positions[uid])
	}
	return out, nil
}

func (m *mockPositionRepo) NextPositionID(ctx context.Context, strategyID string) (int64, error) {
	all, _ := m.FindByStrategy(ctx, strategyID)
	var max int64
	for _, p := range all {
		if p.PositionID > max {
			max = p.PositionID
		}
	}
	return max + 1, nil
}

type mockStrategy struct {
	id     string
	market domain.StrategyDomain
}

func (m *mockStrategy) StrategyID() string                   { return m.id }
func (m *mockStrategy) TradingDomain() domain.StrategyDomain { return m.market }
func (m *mockStrategy) RequestedPairs() []domain.CurrencyPair {
	return []domain.CurrencyPair{testPair()}
}
func (m *mockStrategy) OnTickers(ctx context.Context, tickers []*domain.Ticker) {}

func setupService(t *testing.T, trades *mockTradeService, repo *mockPositionRepo, riskCfg risk.Config) *PositionService {
	t.Helper()
	svc, err := NewPositionService(&mockLogger{}, trades, repo, risk.NewManager(riskCfg))
	require.NoError(t, err)
	return svc
}

func oneEth() domain.CurrencyAmount {
	return domain.NewCurrencyAmount(d("1"), "ETH")
}

// --- Tests ---

func TestNewPositionService_RequiresDependencies(t *testing.T) {
	_, err := NewPositionService(nil, newMockTradeService("100"), newMockPositionRepo(), risk.NewManager(risk.Config{}))
	assert.Error(t, err)
	_, err = NewPositionService(&mockLogger{}, nil, newMockPositionRepo(), risk.NewManager(risk.Config{}))
	assert.Error(t, err)
	_, err = NewPositionService(&mockLogger{}, newMockTradeService("100"), nil, risk.NewManager(risk.Config{}))
	assert.Error(t, err)
	_, err = NewPositionService(&mockLogger{}, newMockTradeService("100"), newMockPositionRepo(), nil)
	assert.Error(t, err)
}

func TestPositionService_CreateLongPosition(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})
	strat := &mockStrategy{id: "strat-1", market: domain.DomainSpot}

	pos, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, int64(1), pos.PositionID)
	assert.Equal(t, "strat-1", pos.StrategyID)
	assert.Equal(t, domain.Long, pos.Type)
	assert.Equal(t, domain.StatusOpened, pos.Status())
	assert.Len(t, trades.buyCalls, 1)
	assert.Empty(t, trades.sellCalls)

	stored, err := repo.FindByUID(context.Background(), pos.UID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pos.UID, stored.UID)

	// Second position for the same strategy gets the next sequence number.
	pos2, err := svc.CreateShortPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos2.PositionID)
	assert.Equal(t, domain.Short, pos2.Type)
}

func TestPositionService_CreatePosition_OrderFailureCreatesNothing(t *testing.T) {
	trades := newMockTradeService("100")
	trades.orderErr = errors.New("exchange unavailable")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	_, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.Error(t, err)

	all, _ := repo.FindAll(context.Background())
	assert.Empty(t, all)
}

func TestPositionService_CreatePosition_RejectsDustAmount(t *testing.T) {
	trades := newMockTradeService("100")
	svc := setupService(t, trades, newMockPositionRepo(), risk.Config{MinimumAmount: d("0.01")})

	_, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(),
		domain.NewCurrencyAmount(d("0.001"), "ETH"), domain.PositionRules{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAmountTooSmall)
	// Rejected before any order reached the exchange.
	assert.Empty(t, trades.buyCalls)
}

func TestPositionService_CreatePosition_RejectsWhenAtMaxOpen(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{MaxOpenPositions: 2})
	strat := &mockStrategy{id: "strat-1"}

	for i := 0; i < 2; i++ {
		_, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
		require.NoError(t, err)
	}

	_, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Len(t, trades.buyCalls, 2)
}

func TestPositionService_CreatePosition_ClosedPositionsDoNotCountTowardLimit(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{MaxOpenPositions: 1})
	strat := &mockStrategy{id: "strat-1"}

	pos, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonForced))

	_, err = svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	assert.NoError(t, err)
}

func TestPositionService_ClosePosition(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)

	trades.fillPrice = d("110")
	err = svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonTakeProfit)
	require.NoError(t, err)

	closed, err := repo.FindByUID(context.Background(), pos.UID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status())
	assert.Equal(t, domain.ExitReasonTakeProfit, closed.ExitReason)
	// Long closes with a sell sized at the locked amount.
	require.Len(t, trades.sellCalls, 1)
	assert.True(t, trades.sellCalls[0].Value.Equal(d("1")))

	gain, ok := closed.Gain()
	require.True(t, ok)
	assert.True(t, gain.Amount.Value.Equal(d("10")), "got %s", gain.Amount.Value)
	assert.True(t, gain.Percentage.Equal(d("10")), "got %s", gain.Percentage)
}

func TestPositionService_ClosePosition_ShortClosesWithBuy(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateShortPosition(context.Background(), &mockStrategy{id: "strat-1", market: domain.DomainPerpetual}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.Len(t, trades.sellCalls, 1)

	trades.fillPrice = d("90")
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonTakeProfit))
	assert.Len(t, trades.buyCalls, 1)
}

func TestPositionService_ClosePosition_NotFound(t *testing.T) {
	svc := setupService(t, newMockTradeService("100"), newMockPositionRepo(), risk.Config{})

	err := svc.ClosePosition(context.Background(), "strat-1", "no-such-uid", nil, domain.ExitReasonForced)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestPositionService_ClosePosition_StrategyMismatch(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)

	err = svc.ClosePosition(context.Background(), "strat-2", pos.UID, nil, domain.ExitReasonForced)
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestPositionService_ClosePosition_AlreadyClosed(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonForced))

	err = svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonForced)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
	// Only the first close placed an order.
	assert.Len(t, trades.sellCalls, 1)
}

func TestPositionService_UpdatePositionRules(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)

	rules := domain.PositionRules{StopLossSet: true, StopLossPercentage: d("5")}
	require.NoError(t, svc.UpdatePositionRules(context.Background(), pos.UID, rules))

	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.True(t, stored.Rules.StopLossSet)
	assert.True(t, stored.Rules.StopLossPercentage.Equal(d("5")))
}

func TestPositionService_UpdatePositionRules_NoOpWhenClosed(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos.UID, nil, domain.ExitReasonForced))

	err = svc.UpdatePositionRules(context.Background(), pos.UID, domain.PositionRules{StopLossSet: true, StopLossPercentage: d("5")})
	require.NoError(t, err)

	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.False(t, stored.Rules.StopLossSet)
}

func TestPositionService_UpdatePositionRules_NotFound(t *testing.T) {
	svc := setupService(t, newMockTradeService("100"), newMockPositionRepo(), risk.Config{})
	err := svc.UpdatePositionRules(context.Background(), "no-such-uid", domain.PositionRules{})
	assert.ErrorIs(t, err, ports.ErrPositionNotFound)
}

func TestPositionService_SetAutoClose(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	assert.True(t, pos.AutoClose)

	require.NoError(t, svc.SetAutoClose(context.Background(), pos.UID, false))
	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.False(t, stored.AutoClose)
}

func TestPositionService_ForceClosePosition(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	require.NoError(t, svc.ForceClosePosition(context.Background(), pos.UID))

	// The flag alone does not close; the next ticker evaluation does.
	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.True(t, stored.ForceClosing)
	assert.Equal(t, domain.StatusOpened, stored.Status())

	svc.OnTickerUpdate(context.Background(), &domain.Ticker{Pair: testPair(), Timestamp: time.Now(), Last: d("100")})

	stored, _ = repo.FindByUID(context.Background(), pos.UID)
	assert.Equal(t, domain.StatusClosed, stored.Status())
	assert.Equal(t, domain.ExitReasonForced, stored.ExitReason)
}

func TestPositionService_OnTickerUpdate_StopLossAutoClose(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	rules := domain.PositionRules{StopLossSet: true, StopLossPercentage: d("5")}
	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), rules)
	require.NoError(t, err)

	// Above the stop-loss line: snapshots refresh, nothing closes.
	svc.OnTickerUpdate(context.Background(), &domain.Ticker{Pair: testPair(), Timestamp: time.Now(), Last: d("98")})
	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.Equal(t, domain.StatusOpened, stored.Status())
	require.NotNil(t, stored.LatestGainPrice)
	assert.True(t, stored.LatestGainPrice.Value.Equal(d("98")))

	trades.fillPrice = d("95")
	svc.OnTickerUpdate(context.Background(), &domain.Ticker{Pair: testPair(), Timestamp: time.Now(), Last: d("95")})

	stored, _ = repo.FindByUID(context.Background(), pos.UID)
	assert.Equal(t, domain.StatusClosed, stored.Status())
	assert.Equal(t, domain.ExitReasonStopLoss, stored.ExitReason)
}

func TestPositionService_OnTickerUpdate_AutoCloseDisabled(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	rules := domain.PositionRules{StopLossSet: true, StopLossPercentage: d("5")}
	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), rules)
	require.NoError(t, err)
	require.NoError(t, svc.SetAutoClose(context.Background(), pos.UID, false))

	svc.OnTickerUpdate(context.Background(), &domain.Ticker{Pair: testPair(), Timestamp: time.Now(), Last: d("90")})

	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.Equal(t, domain.StatusOpened, stored.Status())
}

func TestPositionService_OnTickerUpdate_IgnoresOtherPairs(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	rules := domain.PositionRules{StopLossSet: true, StopLossPercentage: d("5")}
	pos, err := svc.CreateLongPosition(context.Background(), &mockStrategy{id: "strat-1"}, testPair(), oneEth(), rules)
	require.NoError(t, err)

	other := domain.NewCurrencyPair("BTC", "USDT")
	svc.OnTickerUpdate(context.Background(), &domain.Ticker{Pair: other, Timestamp: time.Now(), Last: d("1")})

	stored, _ := repo.FindByUID(context.Background(), pos.UID)
	assert.Equal(t, domain.StatusOpened, stored.Status())
	assert.Nil(t, stored.LatestGainPrice)
}

func TestPositionService_OnOrderUpdate_FillsPendingOpening(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pair := testPair()
	opening := &domain.Order{
		OrderID:      "slow-open",
		StrategyID:   "strat-1",
		Type:         domain.Bid,
		Pair:         pair,
		Amount:       oneEth(),
		AveragePrice: domain.NewCurrencyAmount(decimal.Zero, pair.Quote),
		Status:       domain.OrderNew,
	}
	pos, err := domain.NewPosition("uid-slow", 1, "strat-1", domain.Long, domain.DomainSpot, pair, domain.PositionRules{}, opening)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), pos))
	require.Equal(t, domain.StatusOpening, pos.Status())

	update := &domain.Order{
		OrderID:          "slow-open",
		Status:           domain.OrderFilled,
		Amount:           oneEth(),
		CumulativeAmount: oneEth(),
		AveragePrice:     domain.NewCurrencyAmount(d("100"), pair.Quote),
	}
	svc.OnOrderUpdate(context.Background(), update)

	stored, _ := repo.FindByUID(context.Background(), "uid-slow")
	assert.Equal(t, domain.StatusOpened, stored.Status())
	assert.True(t, stored.OpeningOrder.AveragePrice.Value.Equal(d("100")))
}

func TestPositionService_OnTradeUpdate_AccumulatesFills(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})

	pair := testPair()
	opening := &domain.Order{
		OrderID:      "partial-open",
		StrategyID:   "strat-1",
		Type:         domain.Bid,
		Pair:         pair,
		Amount:       domain.NewCurrencyAmount(d("2"), pair.Base),
		AveragePrice: domain.NewCurrencyAmount(d("100"), pair.Quote),
		Status:       domain.OrderNew,
	}
	pos, err := domain.NewPosition("uid-partial", 1, "strat-1", domain.Long, domain.DomainSpot, pair, domain.PositionRules{}, opening)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), pos))

	fill := func(id, amount string) *domain.Trade {
		return &domain.Trade{
			TradeID:   id,
			OrderID:   "partial-open",
			Pair:      pair,
			Amount:    domain.NewCurrencyAmount(d(amount), pair.Base),
			Price:     domain.NewCurrencyAmount(d("100"), pair.Quote),
			Timestamp: time.Now(),
		}
	}

	svc.OnTradeUpdate(context.Background(), fill("t1", "1.5"))
	stored, _ := repo.FindByUID(context.Background(), "uid-partial")
	assert.Equal(t, domain.StatusOpening, stored.Status())
	assert.True(t, stored.OpeningOrder.CumulativeAmount.Value.Equal(d("1.5")))

	// Re-delivering the same fill changes nothing.
	svc.OnTradeUpdate(context.Background(), fill("t1", "1.5"))
	stored, _ = repo.FindByUID(context.Background(), "uid-partial")
	assert.True(t, stored.OpeningOrder.CumulativeAmount.Value.Equal(d("1.5")))

	svc.OnTradeUpdate(context.Background(), fill("t2", "0.5"))
	stored, _ = repo.FindByUID(context.Background(), "uid-partial")
	assert.Equal(t, domain.StatusOpened, stored.Status())
	assert.True(t, stored.OpeningOrder.CumulativeAmount.Value.Equal(d("2")))
}

func TestPositionService_GetGains_PoolsPerCurrency(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})
	strat := &mockStrategy{id: "strat-1"}

	// 1 @ 100 -> 110: gain 10 USDT on a 100 USDT basis (10%).
	pos1, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)
	trades.fillPrice = d("110")
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos1.UID, nil, domain.ExitReasonTakeProfit))

	// 3 @ 100 -> 102: gain 6 USDT on a 300 USDT basis (2%).
	trades.fillPrice = d("100")
	pos2, err := svc.CreateLongPosition(context.Background(), strat, testPair(),
		domain.NewCurrencyAmount(d("3"), "ETH"), domain.PositionRules{})
	require.NoError(t, err)
	trades.fillPrice = d("102")
	require.NoError(t, svc.ClosePosition(context.Background(), "strat-1", pos2.UID, nil, domain.ExitReasonTakeProfit))

	gains, err := svc.GetGains(context.Background(), "strat-1")
	require.NoError(t, err)
	require.Contains(t, gains, "USDT")

	got := gains["USDT"]
	assert.True(t, got.Amount.Value.Equal(d("16")), "got %s", got.Amount.Value)
	// Pooled: 16 / 400 = 4.00%. Averaging the per-position percentages would
	// report 6%.
	assert.True(t, got.Percentage.Equal(d("4")), "got %s", got.Percentage)
}

func TestPositionService_GetGains_SkipsOpenPositions(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{})
	strat := &mockStrategy{id: "strat-1"}

	_, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
	require.NoError(t, err)

	gains, err := svc.GetGains(context.Background(), "strat-1")
	require.NoError(t, err)
	assert.Empty(t, gains)
}

func TestPoolGains_SeparatesSettlementCurrencies(t *testing.T) {
	pair := testPair()

	longOpen := mustOrder(pair, domain.Bid, "1", "100")
	longClose := mustOrder(pair, domain.Ask, "1", "110")
	long, err := domain.NewPosition("uid-a", 1, "s", domain.Long, domain.DomainSpot, pair, domain.PositionRules{}, longOpen)
	require.NoError(t, err)
	require.NoError(t, long.ClosePositionWithOrder(longClose, domain.ExitReasonTakeProfit))

	// Spot short settles in the base currency.
	shortOpen := mustOrder(pair, domain.Ask, "2", "100")
	shortClose := mustOrder(pair, domain.Bid, "2.5", "80")
	short, err := domain.NewPosition("uid-b", 2, "s", domain.Short, domain.DomainSpot, pair, domain.PositionRules{}, shortOpen)
	require.NoError(t, err)
	require.NoError(t, short.ClosePositionWithOrder(shortClose, domain.ExitReasonTakeProfit))

	gains := PoolGains([]*domain.Position{long, short})
	require.Len(t, gains, 2)
	assert.True(t, gains["USDT"].Amount.Value.Equal(d("10")))
	assert.True(t, gains["ETH"].Amount.Value.Equal(d("0.5")))
	assert.True(t, gains["ETH"].Percentage.Equal(d("25")), "got %s", gains["ETH"].Percentage)
}

func mustOrder(pair domain.CurrencyPair, orderType domain.OrderType, amount, price string) *domain.Order {
	o := &domain.Order{
		OrderID:          "o-" + string(orderType) + amount + "@" + price,
		Type:             orderType,
		Pair:             pair,
		Amount:           domain.NewCurrencyAmount(d(amount), pair.Base),
		CumulativeAmount: domain.NewCurrencyAmount(d(amount), pair.Base),
		AveragePrice:     domain.NewCurrencyAmount(d(price), pair.Quote),
		Status:           domain.OrderFilled,
		Timestamp:        time.Now(),
	}
	o.Trades = []*domain.Trade{{
		TradeID:   o.OrderID + "-t1",
		OrderID:   o.OrderID,
		Pair:      pair,
		Amount:    o.Amount,
		Price:     o.AveragePrice,
		Timestamp: o.Timestamp,
	}}
	return o
}

func TestPositionService_PositionsStream_DropsWhenFull(t *testing.T) {
	trades := newMockTradeService("100")
	repo := newMockPositionRepo()
	svc := setupService(t, trades, repo, risk.Config{MaxOpenPositions: 200})
	strat := &mockStrategy{id: "strat-1"}

	// Nobody drains the stream; creation must never block.
	for i := 0; i < positionStreamBuffer+10; i++ {
		_, err := svc.CreateLongPosition(context.Background(), strat, testPair(), oneEth(), domain.PositionRules{})
		require.NoError(t, err)
	}

	drained := 0
	for {
		select {
		case <-svc.PositionsStream():
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, positionStreamBuffer, drained)
}
