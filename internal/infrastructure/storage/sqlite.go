package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// SQLiteStore backs all three repositories with one database file. A single
// writer is enough here: the coordinator runs cycles sequentially.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One connection keeps writes serialized and makes :memory: databases
	// survive pool recycling.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL UNIQUE,
			quote_asset TEXT NOT NULL,
			liquidity_rank INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS parameter_bundles (
			id TEXT PRIMARY KEY,
			instrument_id TEXT NOT NULL REFERENCES instruments(id),
			version INTEGER NOT NULL,
			stop_multiplier REAL NOT NULL,
			vol_gate_mode TEXT NOT NULL,
			atr_ma_length INTEGER NOT NULL DEFAULT 0,
			atr_percentile_threshold REAL NOT NULL DEFAULT 0,
			rsi_reference REAL NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		// One active bundle per instrument, enforced at the schema level.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bundles_one_active
			ON parameter_bundles(instrument_id) WHERE is_active = 1;`,
		`CREATE TABLE IF NOT EXISTS trade_plans (
			id TEXT PRIMARY KEY,
			instrument_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			bundle_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			stop_price REAL NOT NULL,
			target_price REAL NOT NULL,
			qty REAL NOT NULL,
			r_value REAL NOT NULL,
			risk_amount REAL NOT NULL,
			margin_required REAL NOT NULL,
			capital_constrained BOOLEAN NOT NULL DEFAULT 0,
			equity_total REAL NOT NULL,
			equity_available REAL NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			trade_plan_id TEXT NOT NULL REFERENCES trade_plans(id),
			instrument_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			qty REAL NOT NULL,
			status TEXT NOT NULL,
			exit_price REAL NOT NULL DEFAULT 0,
			exit_reason TEXT NOT NULL DEFAULT '',
			realized_pnl REAL NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME
		);`,
		// The open-position slot: every non-terminal row maps to the same
		// index key, so a second insert fails atomically inside SQLite.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_slot
			ON positions((1)) WHERE status IN ('OPENING','OPEN','CLOSING');`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_plan_id TEXT NOT NULL,
			role TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			price REAL NOT NULL DEFAULT 0,
			qty REAL NOT NULL DEFAULT 0,
			at DATETIME NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_plan ON order_events(trade_plan_id);`,
		`CREATE TABLE IF NOT EXISTS signal_evaluations (
			id TEXT PRIMARY KEY,
			evaluated_at DATETIME NOT NULL,
			instrument_id TEXT NOT NULL,
			bundle_id TEXT NOT NULL,
			trend TEXT NOT NULL,
			vol_gate_passed BOOLEAN NOT NULL,
			momentum_ok BOOLEAN NOT NULL,
			eligible BOOLEAN NOT NULL,
			trend_strength REAL NOT NULL DEFAULT 0,
			vol_expansion REAL NOT NULL DEFAULT 0,
			liquidity_rank INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signal_evaluations_at ON signal_evaluations(evaluated_at);`,
		`CREATE TABLE IF NOT EXISTS selection_decisions (
			id TEXT PRIMARY KEY,
			evaluated_at DATETIME NOT NULL,
			selected_instrument_id TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS system_halt_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			halted BOOLEAN NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			halted_at DATETIME
		);`,
		`INSERT OR IGNORE INTO system_halt_state (id, halted, reason) VALUES (1, 0, '');`,
		`CREATE TABLE IF NOT EXISTS cooldown_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			active BOOLEAN NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			release_after DATETIME
		);`,
		`INSERT OR IGNORE INTO cooldown_state (id, active, consecutive_losses) VALUES (1, 0, 0);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InstrumentRepository implementation

func (s *SQLiteStore) ListActiveInstruments(ctx context.Context) ([]*domain.Instrument, error) {
	query := `SELECT id, symbol, quote_asset, liquidity_rank, is_active, created_at
			  FROM instruments WHERE is_active = 1 ORDER BY liquidity_rank`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []*domain.Instrument
	for rows.Next() {
		var i domain.Instrument
		if err := rows.Scan(&i.ID, &i.Symbol, &i.QuoteAsset, &i.LiquidityRank, &i.IsActive, &i.CreatedAt); err != nil {
			return nil, err
		}
		instruments = append(instruments, &i)
	}
	return instruments, rows.Err()
}

func (s *SQLiteStore) GetActiveBundle(ctx context.Context, instrumentID string) (*domain.ParameterBundle, error) {
	query := `SELECT id, instrument_id, version, stop_multiplier, vol_gate_mode,
					 atr_ma_length, atr_percentile_threshold, rsi_reference, is_active, created_at
			  FROM parameter_bundles WHERE instrument_id = ? AND is_active = 1`
	row := s.db.QueryRowContext(ctx, query, instrumentID)

	var b domain.ParameterBundle
	err := row.Scan(&b.ID, &b.InstrumentID, &b.Version, &b.StopMultiplier, &b.VolGateMode,
		&b.ATRMALength, &b.ATRPercentileThreshold, &b.RSIReference, &b.IsActive, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", instrumentID, domain.ErrNoActiveBundle)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) SaveInstrument(ctx context.Context, inst *domain.Instrument) error {
	query := `INSERT INTO instruments (id, symbol, quote_asset, liquidity_rank, is_active, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol) DO UPDATE SET liquidity_rank = excluded.liquidity_rank, is_active = excluded.is_active`
	_, err := s.db.ExecContext(ctx, query,
		inst.ID, inst.Symbol, inst.QuoteAsset, inst.LiquidityRank, inst.IsActive, inst.CreatedAt)
	return err
}

// SaveBundle inserts a bundle version. Activating it deactivates the previous
// active bundle in the same transaction; bundles are never updated in place.
func (s *SQLiteStore) SaveBundle(ctx context.Context, bundle *domain.ParameterBundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if bundle.IsActive {
		if _, err := tx.ExecContext(ctx,
			`UPDATE parameter_bundles SET is_active = 0 WHERE instrument_id = ? AND is_active = 1`,
			bundle.InstrumentID); err != nil {
			return err
		}
	}

	query := `INSERT INTO parameter_bundles
			  (id, instrument_id, version, stop_multiplier, vol_gate_mode, atr_ma_length, atr_percentile_threshold, rsi_reference, is_active, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query,
		bundle.ID, bundle.InstrumentID, bundle.Version, bundle.StopMultiplier, bundle.VolGateMode,
		bundle.ATRMALength, bundle.ATRPercentileThreshold, bundle.RSIReference, bundle.IsActive, bundle.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// TradeRepository implementation

func (s *SQLiteStore) SaveTradePlan(ctx context.Context, plan *domain.TradePlan) error {
	query := `INSERT INTO trade_plans
			  (id, instrument_id, symbol, bundle_id, direction, entry_price, stop_price, target_price, qty,
			   r_value, risk_amount, margin_required, capital_constrained, equity_total, equity_available,
			   status, failure_reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		plan.ID, plan.InstrumentID, plan.Symbol, plan.BundleID, plan.Direction,
		plan.EntryPrice, plan.StopPrice, plan.TargetPrice, plan.Qty,
		plan.RValue, plan.RiskAmount, plan.MarginRequired, plan.CapitalConstrained,
		plan.EquityTotal, plan.EquityAvailable, plan.Status, plan.FailureReason, plan.CreatedAt)
	return err
}

func (s *SQLiteStore) UpdateTradePlanStatus(ctx context.Context, id string, status domain.PlanStatus, failureReason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_plans SET status = ?, failure_reason = ? WHERE id = ?`,
		status, failureReason, id)
	return err
}

const tradePlanColumns = `id, instrument_id, symbol, bundle_id, direction, entry_price, stop_price, target_price, qty,
	r_value, risk_amount, margin_required, capital_constrained, equity_total, equity_available,
	status, failure_reason, created_at`

func scanTradePlan(row interface{ Scan(...any) error }) (*domain.TradePlan, error) {
	var p domain.TradePlan
	err := row.Scan(&p.ID, &p.InstrumentID, &p.Symbol, &p.BundleID, &p.Direction,
		&p.EntryPrice, &p.StopPrice, &p.TargetPrice, &p.Qty,
		&p.RValue, &p.RiskAmount, &p.MarginRequired, &p.CapitalConstrained,
		&p.EquityTotal, &p.EquityAvailable, &p.Status, &p.FailureReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetTradePlan(ctx context.Context, id string) (*domain.TradePlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradePlanColumns+` FROM trade_plans WHERE id = ?`, id)
	return scanTradePlan(row)
}

func (s *SQLiteStore) ListTradePlans(ctx context.Context, limit int) ([]*domain.TradePlan, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradePlanColumns+` FROM trade_plans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.TradePlan
	for rows.Next() {
		p, err := scanTradePlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *SQLiteStore) ClaimPositionSlot(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO positions
			  (id, trade_plan_id, instrument_id, symbol, direction, entry_price, qty, status,
			   exit_price, exit_reason, realized_pnl, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.TradePlanID, pos.InstrumentID, pos.Symbol, pos.Direction,
		pos.EntryPrice, pos.Qty, pos.Status,
		pos.ExitPrice, pos.ExitReason, pos.RealizedPnL, pos.OpenedAt, nullableTime(pos.ClosedAt))

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return domain.ErrPositionSlotTaken
	}
	return err
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	query := `UPDATE positions SET status = ?, exit_price = ?, exit_reason = ?, realized_pnl = ?, closed_at = ?
			  WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		pos.Status, pos.ExitPrice, pos.ExitReason, pos.RealizedPnL, nullableTime(pos.ClosedAt), pos.ID)
	return err
}

const positionColumns = `id, trade_plan_id, instrument_id, symbol, direction, entry_price, qty, status,
	exit_price, exit_reason, realized_pnl, opened_at, closed_at`

func scanPosition(row interface{ Scan(...any) error }) (*domain.Position, error) {
	var p domain.Position
	var closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.TradePlanID, &p.InstrumentID, &p.Symbol, &p.Direction,
		&p.EntryPrice, &p.Qty, &p.Status,
		&p.ExitPrice, &p.ExitReason, &p.RealizedPnL, &p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return &p, nil
}

func (s *SQLiteStore) GetOpenPosition(ctx context.Context) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status IN ('OPENING','OPEN','CLOSING')`)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) SaveOrderEvent(ctx context.Context, ev *domain.OrderEvent) error {
	query := `INSERT INTO order_events
			  (trade_plan_id, role, client_order_id, exchange_order_id, event_type, price, qty, at, note)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		ev.TradePlanID, ev.Role, ev.ClientOrderID, ev.ExchangeOrderID,
		ev.EventType, ev.Price, ev.Qty, ev.At, ev.Note)
	if err != nil {
		return err
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) SaveSignalEvaluation(ctx context.Context, ev *domain.SignalEvaluation) error {
	query := `INSERT INTO signal_evaluations
			  (id, evaluated_at, instrument_id, bundle_id, trend, vol_gate_passed, momentum_ok, eligible,
			   trend_strength, vol_expansion, liquidity_rank)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.EvaluatedAt, ev.InstrumentID, ev.BundleID, ev.Trend,
		ev.VolGatePassed, ev.MomentumOK, ev.Eligible,
		ev.TrendStrength, ev.VolExpansion, ev.LiquidityRank)
	return err
}

func (s *SQLiteStore) SaveSelectionDecision(ctx context.Context, dec *domain.SelectionDecision) error {
	query := `INSERT INTO selection_decisions (id, evaluated_at, selected_instrument_id, decision)
			  VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		dec.ID, dec.EvaluatedAt, dec.SelectedInstrumentID, dec.Decision)
	return err
}

// SystemStateRepository implementation

func (s *SQLiteStore) GetHaltState(ctx context.Context) (*domain.HaltState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT halted, reason, halted_at FROM system_halt_state WHERE id = 1`)
	var hs domain.HaltState
	var haltedAt sql.NullTime
	if err := row.Scan(&hs.Halted, &hs.Reason, &haltedAt); err != nil {
		return nil, err
	}
	if haltedAt.Valid {
		hs.HaltedAt = haltedAt.Time
	}
	return &hs, nil
}

func (s *SQLiteStore) SetHalt(ctx context.Context, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE system_halt_state SET halted = 1, reason = ?, halted_at = CURRENT_TIMESTAMP WHERE id = 1`,
		reason)
	return err
}

func (s *SQLiteStore) ClearHalt(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE system_halt_state SET halted = 0, reason = '', halted_at = NULL WHERE id = 1`)
	return err
}

func (s *SQLiteStore) GetCooldownState(ctx context.Context) (*domain.CooldownState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT active, consecutive_losses, release_after FROM cooldown_state WHERE id = 1`)
	var cd domain.CooldownState
	var releaseAfter sql.NullTime
	if err := row.Scan(&cd.Active, &cd.ConsecutiveLosses, &releaseAfter); err != nil {
		return nil, err
	}
	if releaseAfter.Valid {
		cd.ReleaseAfter = releaseAfter.Time
	}
	return &cd, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
