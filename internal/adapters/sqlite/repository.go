package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quantbot/internal/domain"
	"quantbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Repository implements the position, order, trade and signal repository ports
// on top of a single SQLite database.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/quantbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the poller goroutines.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		uid TEXT PRIMARY KEY,
		position_id INTEGER NOT NULL,
		strategy_id TEXT NOT NULL,
		type TEXT NOT NULL,
		domain TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		base_precision INTEGER NOT NULL,
		quote_precision INTEGER NOT NULL,
		stop_gain_set INTEGER NOT NULL,
		stop_gain_pct TEXT NOT NULL,
		stop_gain_bounce_pct TEXT NOT NULL,
		stop_loss_set INTEGER NOT NULL,
		stop_loss_pct TEXT NOT NULL,
		amount TEXT NOT NULL,
		opening_order_id TEXT NOT NULL,
		closing_order_id TEXT DEFAULT NULL,
		exit_reason TEXT DEFAULT NULL,
		auto_close INTEGER NOT NULL,
		force_closing INTEGER NOT NULL,
		lowest_gain_price TEXT DEFAULT NULL,
		highest_gain_price TEXT DEFAULT NULL,
		latest_gain_price TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		type TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		base_precision INTEGER NOT NULL,
		quote_precision INTEGER NOT NULL,
		amount TEXT NOT NULL,
		cumulative_amount TEXT NOT NULL,
		average_price TEXT NOT NULL,
		market_price TEXT NOT NULL,
		limit_price TEXT DEFAULT NULL,
		status TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		amount TEXT NOT NULL,
		price TEXT NOT NULL,
		fee_value TEXT DEFAULT NULL,
		fee_currency TEXT DEFAULT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions (strategy_id);
	CREATE INDEX IF NOT EXISTS idx_trades_order ON trades (order_id);
	CREATE INDEX IF NOT EXISTS idx_signals_pair_status ON signals (base, quote, status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// Save inserts or updates a position by its UID, together with its opening and
// closing orders and their trades. Last writer wins.
func (r *Repository) Save(ctx context.Context, pos *domain.Position) error {
	if pos == nil || pos.UID == "" {
		return fmt.Errorf("position with a UID is required: %w", ports.ErrInvalidRequest)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for position %s: %w", pos.UID, err)
	}
	defer tx.Rollback()

	if err := saveOrderTx(ctx, tx, pos.OpeningOrder); err != nil {
		return fmt.Errorf("failed to save opening order for position %s: %w", pos.UID, err)
	}
	if pos.ClosingOrder != nil {
		if err := saveOrderTx(ctx, tx, pos.ClosingOrder); err != nil {
			return fmt.Errorf("failed to save closing order for position %s: %w", pos.UID, err)
		}
	}

	const query = `
	INSERT INTO positions (uid, position_id, strategy_id, type, domain, base, quote,
		base_precision, quote_precision, stop_gain_set, stop_gain_pct, stop_gain_bounce_pct,
		stop_loss_set, stop_loss_pct, amount, opening_order_id, closing_order_id, exit_reason,
		auto_close, force_closing, lowest_gain_price, highest_gain_price, latest_gain_price)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uid) DO UPDATE SET
		stop_gain_set = excluded.stop_gain_set,
		stop_gain_pct = excluded.stop_gain_pct,
		stop_gain_bounce_pct = excluded.stop_gain_bounce_pct,
		stop_loss_set = excluded.stop_loss_set,
		stop_loss_pct = excluded.stop_loss_pct,
		closing_order_id = excluded.closing_order_id,
		exit_reason = excluded.exit_reason,
		auto_close = excluded.auto_close,
		force_closing = excluded.force_closing,
		lowest_gain_price = excluded.lowest_gain_price,
		highest_gain_price = excluded.highest_gain_price,
		latest_gain_price = excluded.latest_gain_price`

	var closingOrderID, exitReason sql.NullString
	if pos.ClosingOrder != nil {
		closingOrderID = sql.NullString{String: pos.ClosingOrder.OrderID, Valid: true}
	}
	if pos.ExitReason != "" {
		exitReason = sql.NullString{String: pos.ExitReason, Valid: true}
	}

	_, err = tx.ExecContext(ctx, query,
		pos.UID, pos.PositionID, pos.StrategyID, string(pos.Type), string(pos.Domain),
		pos.Pair.Base, pos.Pair.Quote, pos.Pair.BasePrecision, pos.Pair.QuotePrecision,
		pos.Rules.StopGainSet, pos.Rules.StopGainPercentage.String(), pos.Rules.StopGainBouncePercentage.String(),
		pos.Rules.StopLossSet, pos.Rules.StopLossPercentage.String(),
		pos.Amount.Value.String(), pos.OpeningOrder.OrderID, closingOrderID, exitReason,
		pos.AutoClose, pos.ForceClosing,
		nullDecimal(pos.LowestGainPrice), nullDecimal(pos.HighestGainPrice), nullDecimal(pos.LatestGainPrice))
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.UID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit position %s: %w", pos.UID, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"uid": pos.UID, "status": pos.Status()})
	return nil
}

// FindByUID retrieves a position by its UID. Returns nil, nil when not found.
func (r *Repository) FindByUID(ctx context.Context, uid string) (*domain.Position, error) {
	const query = positionSelect + ` WHERE uid = ?`
	row := r.db.QueryRowContext(ctx, query, uid)
	pos, err := r.scanPosition(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position %s: %w", uid, err)
	}
	return pos, nil
}

// FindByStatus retrieves all positions currently in the given derived status.
// Status lives on the orders, not in a column, so the filter runs in memory.
func (r *Repository) FindByStatus(ctx context.Context, status domain.PositionStatus) ([]*domain.Position, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]*domain.Position, 0)
	for _, pos := range all {
		if pos.Status() == status {
			matched = append(matched, pos)
		}
	}
	return matched, nil
}

// FindByStrategy retrieves all positions belonging to one strategy.
func (r *Repository) FindByStrategy(ctx context.Context, strategyID string) ([]*domain.Position, error) {
	const query = positionSelect + ` WHERE strategy_id = ? ORDER BY position_id ASC`
	return r.queryPositions(ctx, query, strategyID)
}

// FindAll retrieves every position, ordered by strategy and sequence number.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Position, error) {
	const query = positionSelect + ` ORDER BY strategy_id ASC, position_id ASC`
	return r.queryPositions(ctx, query)
}

// NextPositionID returns the next strategy-scoped sequence number.
func (r *Repository) NextPositionID(ctx context.Context, strategyID string) (int64, error) {
	const query = `SELECT COALESCE(MAX(position_id), 0) + 1 FROM positions WHERE strategy_id = ?`
	var next int64
	if err := r.db.QueryRowContext(ctx, query, strategyID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next position ID for strategy %s: %w", strategyID, err)
	}
	return next, nil
}

func (r *Repository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := r.scanPosition(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- OrderRepository Implementation ---

// SaveOrder persists an order and its attached trades.
func (r *Repository) SaveOrder(ctx context.Context, order *domain.Order) error {
	if order == nil || order.OrderID == "" {
		return fmt.Errorf("order with an ID is required: %w", ports.ErrInvalidRequest)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for order %s: %w", order.OrderID, err)
	}
	defer tx.Rollback()

	if err := saveOrderTx(ctx, tx, order); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order %s: %w", order.OrderID, err)
	}
	return nil
}

// FindByOrderID retrieves an order with its trades. Returns nil, nil when not found.
func (r *Repository) FindByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := r.loadOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// FindAllOrders retrieves every stored order, newest first.
func (r *Repository) FindAllOrders(ctx context.Context) ([]*domain.Order, error) {
	const query = `SELECT order_id FROM orders ORDER BY timestamp DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}

	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := r.loadOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// --- TradeRepository Implementation ---

// SaveTrade persists a single fill.
func (r *Repository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	if trade == nil || trade.TradeID == "" {
		return fmt.Errorf("trade with an ID is required: %w", ports.ErrInvalidRequest)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for trade %s: %w", trade.TradeID, err)
	}
	defer tx.Rollback()

	if err := saveTradeTx(ctx, tx, trade); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade %s: %w", trade.TradeID, err)
	}
	return nil
}

// FindTradesByOrderID retrieves the fills of one order, oldest first.
func (r *Repository) FindTradesByOrderID(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	return r.loadTrades(ctx, orderID)
}

// --- SignalRepository Implementation ---

// SaveSignal stores a new signal and returns its assigned ID.
func (r *Repository) SaveSignal(ctx context.Context, signal *domain.Signal) (int64, error) {
	if signal == nil {
		return 0, fmt.Errorf("signal is required: %w", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO signals (strategy_id, base, quote, type, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		signal.StrategyID, signal.Pair.Base, signal.Pair.Quote,
		string(signal.Type), string(signal.Status), signal.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal for pair %s: %w", signal.Pair, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for signal: %w", err)
	}
	signal.ID = id
	return id, nil
}

// FindFirstActiveByPair returns the oldest ACTIVE signal for the pair, or
// nil, nil when none exists.
func (r *Repository) FindFirstActiveByPair(ctx context.Context, pair domain.CurrencyPair) (*domain.Signal, error) {
	const query = `
	SELECT id, strategy_id, base, quote, type, status, created_at
	FROM signals
	WHERE base = ? AND quote = ? AND status = ?
	ORDER BY created_at ASC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, pair.Base, pair.Quote, string(domain.SignalActive))
	s := &domain.Signal{}
	var base, quote, sigType, status string
	err := row.Scan(&s.ID, &s.StrategyID, &base, &quote, &sigType, &status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active signal for pair %s: %w", pair, err)
	}
	s.Pair = domain.NewCurrencyPair(base, quote)
	s.Type = domain.PositionType(sigType)
	s.Status = domain.SignalStatus(status)
	return s, nil
}

// UpdateSignalStatus moves a signal to the given status.
func (r *Repository) UpdateSignalStatus(ctx context.Context, id int64, status domain.SignalStatus) error {
	const query = `UPDATE signals SET status = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update signal %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for signal %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("signal %d not found for update: %w", id, ports.ErrNotFound)
	}
	return nil
}

// --- Port views ---
//
// The four repository ports overlap on method names (Save, FindByOrderID,
// FindAll), so the shared Repository exposes each port through a thin view.

type orderRepositoryView struct{ r *Repository }

func (v orderRepositoryView) Save(ctx context.Context, order *domain.Order) error {
	return v.r.SaveOrder(ctx, order)
}
func (v orderRepositoryView) FindByOrderID(ctx context.Context, orderID string) (*domain.Order, error) {
	return v.r.FindByOrderID(ctx, orderID)
}
func (v orderRepositoryView) FindAll(ctx context.Context) ([]*domain.Order, error) {
	return v.r.FindAllOrders(ctx)
}

type tradeRepositoryView struct{ r *Repository }

func (v tradeRepositoryView) Save(ctx context.Context, trade *domain.Trade) error {
	return v.r.SaveTrade(ctx, trade)
}
func (v tradeRepositoryView) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	return v.r.FindTradesByOrderID(ctx, orderID)
}

type signalRepositoryView struct{ r *Repository }

func (v signalRepositoryView) Save(ctx context.Context, signal *domain.Signal) (int64, error) {
	return v.r.SaveSignal(ctx, signal)
}
func (v signalRepositoryView) FindFirstActiveByPair(ctx context.Context, pair domain.CurrencyPair) (*domain.Signal, error) {
	return v.r.FindFirstActiveByPair(ctx, pair)
}
func (v signalRepositoryView) UpdateStatus(ctx context.Context, id int64, status domain.SignalStatus) error {
	return v.r.UpdateSignalStatus(ctx, id, status)
}

// Positions exposes the repository as a ports.PositionRepository.
func (r *Repository) Positions() ports.PositionRepository { return r }

// Orders exposes the repository as a ports.OrderRepository.
func (r *Repository) Orders() ports.OrderRepository { return orderRepositoryView{r: r} }

// Trades exposes the repository as a ports.TradeRepository.
func (r *Repository) Trades() ports.TradeRepository { return tradeRepositoryView{r: r} }

// Signals exposes the repository as a ports.SignalRepository.
func (r *Repository) Signals() ports.SignalRepository { return signalRepositoryView{r: r} }

// --- Helper Scan Functions ---

const positionSelect = `
	SELECT uid, position_id, strategy_id, type, domain, base, quote,
	       base_precision, quote_precision, stop_gain_set, stop_gain_pct,
	       stop_gain_bounce_pct, stop_loss_set, stop_loss_pct, amount,
	       opening_order_id, closing_order_id, exit_reason, auto_close,
	       force_closing, lowest_gain_price, highest_gain_price, latest_gain_price
	FROM positions`

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a position row and hydrates its orders and trades.
func (r *Repository) scanPosition(ctx context.Context, s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		posType, strategyDomain, base, quote   string
		stopGainPct, stopGainBounce, amount    string
		stopLossPct                            string
		openingOrderID                         string
		closingOrderID, exitReason             sql.NullString
		lowestPrice, highestPrice, latestPrice sql.NullString
	)
	err := s.Scan(
		&p.UID, &p.PositionID, &p.StrategyID, &posType, &strategyDomain, &base, &quote,
		&p.Pair.BasePrecision, &p.Pair.QuotePrecision, &p.Rules.StopGainSet, &stopGainPct,
		&stopGainBounce, &p.Rules.StopLossSet, &stopLossPct, &amount,
		&openingOrderID, &closingOrderID, &exitReason, &p.AutoClose,
		&p.ForceClosing, &lowestPrice, &highestPrice, &latestPrice)
	if err != nil {
		return nil, err // handle sql.ErrNoRows in the caller
	}

	p.Type = domain.PositionType(posType)
	p.Domain = domain.StrategyDomain(strategyDomain)
	p.Pair.Base = base
	p.Pair.Quote = quote

	if p.Rules.StopGainPercentage, err = decimal.NewFromString(stopGainPct); err != nil {
		return nil, fmt.Errorf("invalid stop gain percentage %q: %w", stopGainPct, err)
	}
	if p.Rules.StopGainBouncePercentage, err = decimal.NewFromString(stopGainBounce); err != nil {
		return nil, fmt.Errorf("invalid stop gain bounce percentage %q: %w", stopGainBounce, err)
	}
	if p.Rules.StopLossPercentage, err = decimal.NewFromString(stopLossPct); err != nil {
		return nil, fmt.Errorf("invalid stop loss percentage %q: %w", stopLossPct, err)
	}
	amountValue, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid position amount %q: %w", amount, err)
	}
	p.Amount = domain.NewCurrencyAmount(amountValue, p.Pair.Base)

	if exitReason.Valid {
		p.ExitReason = exitReason.String
	}
	if p.LowestGainPrice, err = quoteAmount(lowestPrice, p.Pair.Quote); err != nil {
		return nil, err
	}
	if p.HighestGainPrice, err = quoteAmount(highestPrice, p.Pair.Quote); err != nil {
		return nil, err
	}
	if p.LatestGainPrice, err = quoteAmount(latestPrice, p.Pair.Quote); err != nil {
		return nil, err
	}

	if p.OpeningOrder, err = r.loadOrder(ctx, openingOrderID); err != nil {
		return nil, fmt.Errorf("failed to load opening order for position %s: %w", p.UID, err)
	}
	if closingOrderID.Valid {
		if p.ClosingOrder, err = r.loadOrder(ctx, closingOrderID.String); err != nil {
			return nil, fmt.Errorf("failed to load closing order for position %s: %w", p.UID, err)
		}
	}
	return p, nil
}

// loadOrder reads one order row plus its trades. Propagates sql.ErrNoRows.
func (r *Repository) loadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	const query = `
	SELECT order_id, strategy_id, type, base, quote, base_precision, quote_precision,
	       amount, cumulative_amount, average_price, market_price, limit_price, status, timestamp
	FROM orders
	WHERE order_id = ?`

	o := &domain.Order{}
	var (
		orderType, base, quote                        string
		amount, cumulative, averagePrice, marketPrice string
		limitPrice                                    sql.NullString
		status                                        string
	)
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.OrderID, &o.StrategyID, &orderType, &base, &quote,
		&o.Pair.BasePrecision, &o.Pair.QuotePrecision,
		&amount, &cumulative, &averagePrice, &marketPrice, &limitPrice, &status, &o.Timestamp)
	if err != nil {
		return nil, err
	}

	o.Type = domain.OrderType(orderType)
	o.Pair.Base = base
	o.Pair.Quote = quote
	o.Status = domain.OrderStatus(status)

	if o.Amount, err = parseAmount(amount, base); err != nil {
		return nil, fmt.Errorf("order %s amount: %w", orderID, err)
	}
	if o.CumulativeAmount, err = parseAmount(cumulative, base); err != nil {
		return nil, fmt.Errorf("order %s cumulative amount: %w", orderID, err)
	}
	if o.AveragePrice, err = parseAmount(averagePrice, quote); err != nil {
		return nil, fmt.Errorf("order %s average price: %w", orderID, err)
	}
	if o.MarketPrice, err = parseAmount(marketPrice, quote); err != nil {
		return nil, fmt.Errorf("order %s market price: %w", orderID, err)
	}
	if limitPrice.Valid {
		lp, err := parseAmount(limitPrice.String, quote)
		if err != nil {
			return nil, fmt.Errorf("order %s limit price: %w", orderID, err)
		}
		o.LimitPrice = &lp
	}

	if o.Trades, err = r.loadTrades(ctx, orderID); err != nil {
		return nil, err
	}
	return o, nil
}

// loadTrades reads all fills of an order, oldest first.
func (r *Repository) loadTrades(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	const query = `
	SELECT trade_id, order_id, base, quote, amount, price, fee_value, fee_currency, timestamp
	FROM trades
	WHERE order_id = ? ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for order %s: %w", orderID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t := &domain.Trade{}
		var (
			base, quote, amount, price string
			feeValue, feeCurrency      sql.NullString
		)
		if err := rows.Scan(&t.TradeID, &t.OrderID, &base, &quote, &amount, &price, &feeValue, &feeCurrency, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Pair = domain.NewCurrencyPair(base, quote)
		if t.Amount, err = parseAmount(amount, base); err != nil {
			return nil, fmt.Errorf("trade %s amount: %w", t.TradeID, err)
		}
		if t.Price, err = parseAmount(price, quote); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", t.TradeID, err)
		}
		if feeValue.Valid && feeCurrency.Valid {
			fee, err := parseAmount(feeValue.String, feeCurrency.String)
			if err != nil {
				return nil, fmt.Errorf("trade %s fee: %w", t.TradeID, err)
			}
			t.Fee = &fee
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func saveOrderTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	const query = `
	INSERT INTO orders (order_id, strategy_id, type, base, quote, base_precision,
		quote_precision, amount, cumulative_amount, average_price, market_price,
		limit_price, status, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		cumulative_amount = excluded.cumulative_amount,
		average_price = excluded.average_price,
		status = excluded.status`

	var limitPrice sql.NullString
	if order.LimitPrice != nil {
		limitPrice = sql.NullString{String: order.LimitPrice.Value.String(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, query,
		order.OrderID, order.StrategyID, string(order.Type),
		order.Pair.Base, order.Pair.Quote, order.Pair.BasePrecision, order.Pair.QuotePrecision,
		order.Amount.Value.String(), order.CumulativeAmount.Value.String(),
		order.AveragePrice.Value.String(), order.MarketPrice.Value.String(),
		limitPrice, string(order.Status), order.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.OrderID, err)
	}

	for _, trade := range order.Trades {
		if err := saveTradeTx(ctx, tx, trade); err != nil {
			return err
		}
	}
	return nil
}

func saveTradeTx(ctx context.Context, tx *sql.Tx, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (trade_id, order_id, base, quote, amount, price, fee_value, fee_currency, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(trade_id) DO NOTHING`

	var feeValue, feeCurrency sql.NullString
	if trade.Fee != nil {
		feeValue = sql.NullString{String: trade.Fee.Value.String(), Valid: true}
		feeCurrency = sql.NullString{String: trade.Fee.Currency, Valid: true}
	}
	_, err := tx.ExecContext(ctx, query,
		trade.TradeID, trade.OrderID, trade.Pair.Base, trade.Pair.Quote,
		trade.Amount.Value.String(), trade.Price.Value.String(),
		feeValue, feeCurrency, trade.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.TradeID, err)
	}
	return nil
}

func parseAmount(value, currency string) (domain.CurrencyAmount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return domain.CurrencyAmount{}, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	return domain.NewCurrencyAmount(d, currency), nil
}

func nullDecimal(amount *domain.CurrencyAmount) sql.NullString {
	if amount == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: amount.Value.String(), Valid: true}
}

func quoteAmount(value sql.NullString, currency string) (*domain.CurrencyAmount, error) {
	if !value.Valid {
		return nil, nil
	}
	amount, err := parseAmount(value.String, currency)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}
