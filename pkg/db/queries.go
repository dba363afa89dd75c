package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertOrder writes or replaces an order row.
func (s *Store) UpsertOrder(ctx context.Context, o Order) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, exchange_id, strategy_id, leg_group, pair, side, kind, type,
			qty, price, stop_price, target_price, leverage, entry_price,
			filled_qty, avg_fill_price, state, submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			exchange_id = excluded.exchange_id,
			filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price,
			state = excluded.state,
			submitted_at = excluded.submitted_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		o.ID, o.ExchangeID, o.StrategyID, o.LegGroup, o.Pair, o.Side, o.Kind, o.Type,
		o.Qty, o.Price, o.StopPrice, o.TargetPrice, o.Leverage, o.EntryPrice,
		o.FilledQty, o.AvgFillPrice, o.State, o.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

// ListOpenOrders returns orders in a non-terminal state.
func (s *Store) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, exchange_id, strategy_id, leg_group, pair, side, kind, type,
		       qty, price, stop_price, target_price, leverage, entry_price,
		       filled_qty, avg_fill_price, state, COALESCE(submitted_at, CURRENT_TIMESTAMP), updated_at
		FROM orders
		WHERE state NOT IN ('FILLED', 'CANCELLED', 'FAILED')
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.ExchangeID, &o.StrategyID, &o.LegGroup, &o.Pair, &o.Side, &o.Kind, &o.Type,
			&o.Qty, &o.Price, &o.StopPrice, &o.TargetPrice, &o.Leverage, &o.EntryPrice,
			&o.FilledQty, &o.AvgFillPrice, &o.State, &o.SubmittedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertTrade appends to the immutable trade history.
func (s *Store) InsertTrade(ctx context.Context, t Trade) error {
	closed := 0
	if t.ClosedPosition {
		closed = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, strategy_id, pair, side, qty, price, pnl, fee, closed_position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.StrategyID, t.Pair, t.Side, t.Qty, t.Price, t.PnL, t.Fee, closed, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecentTrades returns the latest n trades, newest first.
func (s *Store) ListRecentTrades(ctx context.Context, n int) ([]Trade, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, order_id, strategy_id, pair, side, qty, price, pnl, fee, closed_position, created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("list recent trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var closed int
		if err := rows.Scan(&t.ID, &t.OrderID, &t.StrategyID, &t.Pair, &t.Side,
			&t.Qty, &t.Price, &t.PnL, &t.Fee, &closed, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ClosedPosition = closed == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertPosition writes or replaces an open position row.
func (s *Store) UpsertPosition(ctx context.Context, p Position) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO positions (strategy_id, pair, side, qty, entry_price, stop_price, target_price, leverage, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id, pair) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			stop_price = excluded.stop_price,
			target_price = excluded.target_price,
			leverage = excluded.leverage,
			updated_at = CURRENT_TIMESTAMP
	`, p.StrategyID, p.Pair, p.Side, p.Qty, p.EntryPrice, p.StopPrice, p.TargetPrice, p.Leverage, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.StrategyID, p.Pair, err)
	}
	return nil
}

// DeletePosition removes a closed position row.
func (s *Store) DeletePosition(ctx context.Context, strategyID, pair string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM positions WHERE strategy_id = ? AND pair = ?`, strategyID, pair)
	if err != nil {
		return fmt.Errorf("delete position %s/%s: %w", strategyID, pair, err)
	}
	return nil
}

// ListPositions returns all open positions.
func (s *Store) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT strategy_id, pair, side, qty, entry_price, stop_price, target_price, leverage,
		       COALESCE(opened_at, CURRENT_TIMESTAMP), updated_at
		FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.StrategyID, &p.Pair, &p.Side, &p.Qty, &p.EntryPrice,
			&p.StopPrice, &p.TargetPrice, &p.Leverage, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveRiskParams persists the single parameter row.
func (s *Store) SaveRiskParams(ctx context.Context, p RiskParams) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO risk_params (id, max_position_size, max_daily_loss, max_consecutive_losses,
			stop_loss_pct, take_profit_pct, leverage_cap, liq_safety_margin, min_notional, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			max_position_size = excluded.max_position_size,
			max_daily_loss = excluded.max_daily_loss,
			max_consecutive_losses = excluded.max_consecutive_losses,
			stop_loss_pct = excluded.stop_loss_pct,
			take_profit_pct = excluded.take_profit_pct,
			leverage_cap = excluded.leverage_cap,
			liq_safety_margin = excluded.liq_safety_margin,
			min_notional = excluded.min_notional,
			updated_at = CURRENT_TIMESTAMP
	`, p.MaxPositionSize, p.MaxDailyLoss, p.MaxConsecutiveLosses,
		p.StopLossPct, p.TakeProfitPct, p.LeverageCap, p.LiqSafetyMargin, p.MinNotional)
	if err != nil {
		return fmt.Errorf("save risk params: %w", err)
	}
	return nil
}

// LoadRiskParams returns the persisted parameter row, or sql.ErrNoRows.
func (s *Store) LoadRiskParams(ctx context.Context) (RiskParams, error) {
	var p RiskParams
	err := s.DB.QueryRowContext(ctx, `
		SELECT max_position_size, max_daily_loss, max_consecutive_losses,
		       stop_loss_pct, take_profit_pct, leverage_cap, liq_safety_margin, min_notional, updated_at
		FROM risk_params WHERE id = 1
	`).Scan(&p.MaxPositionSize, &p.MaxDailyLoss, &p.MaxConsecutiveLosses,
		&p.StopLossPct, &p.TakeProfitPct, &p.LeverageCap, &p.LiqSafetyMargin, &p.MinNotional, &p.UpdatedAt)
	return p, err
}

// SaveRiskState persists the single account-risk row.
func (s *Store) SaveRiskState(ctx context.Context, r RiskState) error {
	enabled := 0
	if r.TradingEnabled {
		enabled = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO risk_state (id, day, daily_pnl, consecutive_losses, trading_enabled, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			daily_pnl = excluded.daily_pnl,
			consecutive_losses = excluded.consecutive_losses,
			trading_enabled = excluded.trading_enabled,
			updated_at = CURRENT_TIMESTAMP
	`, r.Day, r.DailyPnL, r.ConsecutiveLosses, enabled)
	if err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}
	return nil
}

// LoadRiskState returns the persisted account-risk row, or sql.ErrNoRows.
func (s *Store) LoadRiskState(ctx context.Context) (RiskState, error) {
	var r RiskState
	var enabled int
	err := s.DB.QueryRowContext(ctx, `
		SELECT day, daily_pnl, consecutive_losses, trading_enabled, updated_at
		FROM risk_state WHERE id = 1
	`).Scan(&r.Day, &r.DailyPnL, &r.ConsecutiveLosses, &enabled, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.TradingEnabled = enabled == 1
	return r, nil
}

// SaveStrategyState upserts a strategy's serialized state blob.
func (s *Store) SaveStrategyState(ctx context.Context, strategyID string, state []byte) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO strategy_states (strategy_id, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, strategyID, string(state))
	if err != nil {
		return fmt.Errorf("save strategy state %s: %w", strategyID, err)
	}
	return nil
}

// LoadStrategyState returns a strategy's serialized state, or sql.ErrNoRows.
func (s *Store) LoadStrategyState(ctx context.Context, strategyID string) ([]byte, error) {
	var data string
	err := s.DB.QueryRowContext(ctx,
		`SELECT state_data FROM strategy_states WHERE strategy_id = ?`, strategyID).Scan(&data)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// ErrNoRows re-exports sql.ErrNoRows so callers don't import database/sql.
var ErrNoRows = sql.ErrNoRows

// Day formats t the way risk_state.day stores it.
func Day(t time.Time) string { return t.Format("2006-01-02") }
