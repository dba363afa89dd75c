package db

import (
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_id TEXT DEFAULT '',
    strategy_id TEXT NOT NULL,
    leg_group TEXT DEFAULT '',
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    kind TEXT NOT NULL,
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    target_price REAL DEFAULT 0,
    leverage INTEGER DEFAULT 0,
    entry_price REAL DEFAULT 0,
    filled_qty REAL DEFAULT 0,
    avg_fill_price REAL DEFAULT 0,
    state TEXT NOT NULL,
    submitted_at DATETIME,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    pnl REAL DEFAULT 0,
    fee REAL DEFAULT 0,
    closed_position INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);

CREATE TABLE IF NOT EXISTS positions (
    strategy_id TEXT NOT NULL,
    pair TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    stop_price REAL DEFAULT 0,
    target_price REAL DEFAULT 0,
    leverage INTEGER DEFAULT 0,
    opened_at DATETIME,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(strategy_id, pair)
);

CREATE TABLE IF NOT EXISTS risk_params (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    max_position_size REAL NOT NULL,
    max_daily_loss REAL NOT NULL,
    max_consecutive_losses INTEGER NOT NULL,
    stop_loss_pct REAL NOT NULL,
    take_profit_pct REAL NOT NULL,
    leverage_cap INTEGER NOT NULL,
    liq_safety_margin REAL NOT NULL,
    min_notional REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_id TEXT PRIMARY KEY,
    state_data TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    day TEXT NOT NULL,
    daily_pnl REAL NOT NULL,
    consecutive_losses INTEGER NOT NULL,
    trading_enabled INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations creates tables that do not exist yet.
func ApplyMigrations(s *Store) error {
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
