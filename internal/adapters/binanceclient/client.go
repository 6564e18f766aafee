package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultRequestsPerSecond = 5
	defaultRequestBurst      = 10
)

// Client implements the trade, market and exchange service ports on Binance
// USD-M futures using the go-binance library. All REST calls go through a
// shared token-bucket rate limiter.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	feeSymbol     string

	mu           sync.Mutex
	orderSymbols map[string]orderRef // orderID -> symbol/pair of orders this client placed
}

type orderRef struct {
	pair       domain.CurrencyPair
	strategyID string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	Logger            ports.Logger
	RequestsPerSecond float64 // REST rate limit, defaults to 5
	RequestBurst      int     // rate limiter burst, defaults to 10
	FeeSymbol         string  // symbol used to query the taker fee, defaults to BTCUSDT
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = defaultRequestBurst
	}
	feeSymbol := cfg.FeeSymbol
	if feeSymbol == "" {
		feeSymbol = "BTCUSDT"
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		feeSymbol:     feeSymbol,
		orderSymbols:  make(map[string]orderRef),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key invalid / bad permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrAmountTooSmall
		case -4014, -4015: // Price / leverage not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded max position at current leverage
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// wait blocks until the rate limiter grants a request slot.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, err, operation)
	}
	return nil
}

// --- TradeService Implementation ---

// CreateBuyMarketOrder places a market buy for the given base amount.
func (c *Client) CreateBuyMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return c.placeMarketOrder(ctx, strategyID, pair, amount, futures.SideTypeBuy, domain.Bid)
}

// CreateSellMarketOrder places a market sell for the given base amount.
func (c *Client) CreateSellMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount) (*domain.Order, error) {
	return c.placeMarketOrder(ctx, strategyID, pair, amount, futures.SideTypeSell, domain.Ask)
}

func (c *Client) placeMarketOrder(ctx context.Context, strategyID string, pair domain.CurrencyPair, amount domain.CurrencyAmount, side futures.SideType, orderType domain.OrderType) (*domain.Order, error) {
	op := "PlaceMarketOrder"
	if amount.Value.Sign() <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive: %w", op, ports.ErrInvalidRequest)
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}

	quantity := amount.Value.RoundFloor(pair.BasePrecision).String()
	resp, err := c.futuresClient.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order, err := translateCreateOrderResponse(resp, strategyID, pair, orderType)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	c.mu.Lock()
	c.orderSymbols[order.OrderID] = orderRef{pair: pair, strategyID: strategyID}
	c.mu.Unlock()

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": pair.Symbol(), "side": side, "quantity": quantity,
		"orderID": order.OrderID, "status": order.Status,
	})
	return order, nil
}

// SetLeverage sets the leverage for subsequent perpetual orders on the pair.
func (c *Client) SetLeverage(ctx context.Context, pair domain.CurrencyPair, leverage int) error {
	op := "SetLeverage"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(pair.Symbol()).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": pair.Symbol(), "leverage": leverage})
	return nil
}

// CancelOrder cancels an order this client placed. Returns false when the
// order is unknown or the exchange rejected the cancellation.
func (c *Client) CancelOrder(ctx context.Context, orderID string) bool {
	op := "CancelOrder"
	c.mu.Lock()
	ref, known := c.orderSymbols[orderID]
	c.mu.Unlock()
	if !known {
		c.logger.Warn(ctx, op+": order not placed through this client", map[string]interface{}{"orderID": orderID})
		return false
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		c.logger.Warn(ctx, op+": malformed order ID", map[string]interface{}{"orderID": orderID})
		return false
	}
	if err := c.wait(ctx, op); err != nil {
		return false
	}

	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(ref.pair.Symbol()).
		OrderID(id).
		Do(ctx)
	if err != nil {
		c.handleError(ctx, err, op)
		return false
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"orderID": orderID, "symbol": ref.pair.Symbol()})
	return true
}

// Orders re-reads the current state of every order placed through this client.
func (c *Client) Orders(ctx context.Context) ([]*domain.Order, error) {
	op := "Orders"
	c.mu.Lock()
	refs := make(map[string]orderRef, len(c.orderSymbols))
	for id, ref := range c.orderSymbols {
		refs[id] = ref
	}
	c.mu.Unlock()

	orders := make([]*domain.Order, 0, len(refs))
	for orderID, ref := range refs {
		id, err := strconv.ParseInt(orderID, 10, 64)
		if err != nil {
			continue
		}
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		resp, err := c.futuresClient.NewGetOrderService().
			Symbol(ref.pair.Symbol()).
			OrderID(id).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		order, err := translateOrder(resp, ref.strategyID, ref.pair)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Trades lists the account fills on every pair this client has traded.
func (c *Client) Trades(ctx context.Context) ([]*domain.Trade, error) {
	op := "Trades"
	c.mu.Lock()
	pairs := make(map[string]domain.CurrencyPair)
	for _, ref := range c.orderSymbols {
		pairs[ref.pair.Symbol()] = ref.pair
	}
	c.mu.Unlock()

	trades := make([]*domain.Trade, 0)
	for symbol, pair := range pairs {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		accountTrades, err := c.futuresClient.NewListAccountTradeService().
			Symbol(symbol).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		for _, at := range accountTrades {
			trade, err := translateAccountTrade(at, pair)
			if err != nil {
				return nil, c.handleError(ctx, err, op)
			}
			trades = append(trades, trade)
		}
	}
	return trades, nil
}

// --- MarketService Implementation ---

// Ticker returns the latest 24h ticker snapshot for the pair.
func (c *Client) Ticker(ctx context.Context, pair domain.CurrencyPair) (*domain.Ticker, error) {
	op := "Ticker"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	stats, err := c.futuresClient.NewListPriceChangeStatsService().
		Symbol(pair.Symbol()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		return nil, nil
	}

	s := stats[0]
	ticker := &domain.Ticker{Pair: pair, Timestamp: time.UnixMilli(s.CloseTime)}
	for _, field := range []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"open", s.OpenPrice, &ticker.Open},
		{"high", s.HighPrice, &ticker.High},
		{"low", s.LowPrice, &ticker.Low},
		{"last", s.LastPrice, &ticker.Last},
		{"volume", s.Volume, &ticker.Volume},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing ticker %s %q: %w", field.name, field.raw, err), op)
		}
		*field.value = d
	}
	return ticker, nil
}

// HistoryTickers returns one ticker per kline at the given duration covering
// [from, to]. Each ticker is stamped with the kline close time.
func (c *Client) HistoryTickers(ctx context.Context, pair domain.CurrencyPair, duration time.Duration, from, to time.Time) ([]*domain.Ticker, error) {
	op := "HistoryTickers"
	interval, err := klineInterval(duration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrInvalidRequest, err)
	}

	const maxLimit = 1500
	tickers := make([]*domain.Ticker, 0)
	start := from
	for {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(pair.Symbol()).
			Interval(interval).
			StartTime(start.UnixMilli()).
			EndTime(to.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			ticker, err := translateKline(k, pair)
			if err != nil {
				return nil, c.handleError(ctx, err, op)
			}
			tickers = append(tickers, ticker)
		}
		last := klines[len(klines)-1]
		start = time.UnixMilli(last.CloseTime)
		if start.After(to) || len(klines) < maxLimit {
			break
		}
	}
	return tickers, nil
}

// --- ExchangeService Implementation ---

// CurrencyPairMetaData returns precision metadata for a pair, or nil when the
// exchange does not list it.
func (c *Client) CurrencyPairMetaData(ctx context.Context, pair domain.CurrencyPair) (*ports.CurrencyPairMetaData, error) {
	op := "CurrencyPairMetaData"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != pair.Symbol() {
			continue
		}
		meta := &ports.CurrencyPairMetaData{
			BaseScale:  int32(s.QuantityPrecision),
			PriceScale: int32(s.PricePrecision),
		}
		if f := s.MinNotionalFilter(); f != nil {
			minNotional, err := decimal.NewFromString(f.Notional)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("parsing min notional %q: %w", f.Notional, err), op)
			}
			meta.CounterMinimumAmount = minNotional
		}
		return meta, nil
	}
	c.logger.Debug(ctx, op+": pair not listed", map[string]interface{}{"symbol": pair.Symbol()})
	return nil, nil
}

// TradingFee returns the account's taker commission rate.
func (c *Client) TradingFee(ctx context.Context) (decimal.Decimal, error) {
	op := "TradingFee"
	if err := c.wait(ctx, op); err != nil {
		return decimal.Zero, err
	}
	commission, err := c.futuresClient.NewCommissionRateService().
		Symbol(c.feeSymbol).
		Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	taker, err := decimal.NewFromString(commission.TakerCommissionRate)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("parsing taker commission %q: %w", commission.TakerCommissionRate, err), op)
	}
	return taker, nil
}

// IsSimulatedExchange reports false: this adapter talks to the real exchange.
func (c *Client) IsSimulatedExchange() bool { return false }

// --- Translation Helpers ---

// klineInterval maps a bar duration to the Binance interval notation.
func klineInterval(duration time.Duration) (string, error) {
	switch duration {
	case time.Minute:
		return "1m", nil
	case 3 * time.Minute:
		return "3m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 2 * time.Hour:
		return "2h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 6 * time.Hour:
		return "6h", nil
	case 8 * time.Hour:
		return "8h", nil
	case 12 * time.Hour:
		return "12h", nil
	case 24 * time.Hour:
		return "1d", nil
	case 3 * 24 * time.Hour:
		return "3d", nil
	case 7 * 24 * time.Hour:
		return "1w", nil
	}
	return "", fmt.Errorf("no exchange kline interval for duration %s", duration)
}

func translateCreateOrderResponse(resp *futures.CreateOrderResponse, strategyID string, pair domain.CurrencyPair, orderType domain.OrderType) (*domain.Order, error) {
	if resp == nil {
		return nil, errors.New("received nil order response")
	}
	amount, err := decimal.NewFromString(resp.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing order quantity %q: %w", resp.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity %q: %w", resp.ExecutedQuantity, err)
	}
	avgPrice, err := decimal.NewFromString(resp.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing average price %q: %w", resp.AvgPrice, err)
	}

	return &domain.Order{
		OrderID:          strconv.FormatInt(resp.OrderID, 10),
		StrategyID:       strategyID,
		Type:             orderType,
		Pair:             pair,
		Amount:           domain.NewCurrencyAmount(amount, pair.Base),
		CumulativeAmount: domain.NewCurrencyAmount(executed, pair.Base),
		AveragePrice:     domain.NewCurrencyAmount(avgPrice, pair.Quote),
		MarketPrice:      domain.NewCurrencyAmount(avgPrice, pair.Quote),
		Status:           domain.OrderStatus(resp.Status),
		Timestamp:        time.UnixMilli(resp.UpdateTime),
	}, nil
}

func translateOrder(o *futures.Order, strategyID string, pair domain.CurrencyPair) (*domain.Order, error) {
	if o == nil {
		return nil, errors.New("received nil order")
	}
	amount, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing order quantity %q: %w", o.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity %q: %w", o.ExecutedQuantity, err)
	}
	avgPrice, err := decimal.NewFromString(o.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("parsing average price %q: %w", o.AvgPrice, err)
	}

	orderType := domain.Bid
	if o.Side == futures.SideTypeSell {
		orderType = domain.Ask
	}
	return &domain.Order{
		OrderID:          strconv.FormatInt(o.OrderID, 10),
		StrategyID:       strategyID,
		Type:             orderType,
		Pair:             pair,
		Amount:           domain.NewCurrencyAmount(amount, pair.Base),
		CumulativeAmount: domain.NewCurrencyAmount(executed, pair.Base),
		AveragePrice:     domain.NewCurrencyAmount(avgPrice, pair.Quote),
		MarketPrice:      domain.NewCurrencyAmount(avgPrice, pair.Quote),
		Status:           domain.OrderStatus(o.Status),
		Timestamp:        time.UnixMilli(o.UpdateTime),
	}, nil
}

func translateAccountTrade(at *futures.AccountTrade, pair domain.CurrencyPair) (*domain.Trade, error) {
	if at == nil {
		return nil, errors.New("received nil account trade")
	}
	amount, err := decimal.NewFromString(at.Quantity)
	if err != nil {
		return nil, fmt.Errorf("parsing trade quantity %q: %w", at.Quantity, err)
	}
	price, err := decimal.NewFromString(at.Price)
	if err != nil {
		return nil, fmt.Errorf("parsing trade price %q: %w", at.Price, err)
	}

	trade := &domain.Trade{
		TradeID:   strconv.FormatInt(at.ID, 10),
		OrderID:   strconv.FormatInt(at.OrderID, 10),
		Pair:      pair,
		Amount:    domain.NewCurrencyAmount(amount, pair.Base),
		Price:     domain.NewCurrencyAmount(price, pair.Quote),
		Timestamp: time.UnixMilli(at.Time),
	}
	if at.Commission != "" {
		commission, err := decimal.NewFromString(at.Commission)
		if err != nil {
			return nil, fmt.Errorf("parsing trade commission %q: %w", at.Commission, err)
		}
		fee := domain.NewCurrencyAmount(commission, at.CommissionAsset)
		trade.Fee = &fee
	}
	return trade, nil
}

func translateKline(k *futures.Kline, pair domain.CurrencyPair) (*domain.Ticker, error) {
	if k == nil {
		return nil, errors.New("received nil kline")
	}
	ticker := &domain.Ticker{Pair: pair, Timestamp: time.UnixMilli(k.CloseTime)}
	for _, field := range []struct {
		name  string
		raw   string
		value *decimal.Decimal
	}{
		{"open", k.Open, &ticker.Open},
		{"high", k.High, &ticker.High},
		{"low", k.Low, &ticker.Low},
		{"close", k.Close, &ticker.Last},
		{"volume", k.Volume, &ticker.Volume},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing kline %s %q: %w", field.name, field.raw, err)
		}
		*field.value = d
	}
	return ticker, nil
}
