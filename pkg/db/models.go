package db

import "time"

// Order is an order row. Non-terminal rows are reloaded at startup so a
// restart never orphans venue-side orders.
type Order struct {
	ID           string
	ExchangeID   string
	StrategyID   string
	LegGroup     string
	Pair         string
	Side         string
	Kind         string
	Type         string
	Qty          float64
	Price        float64
	StopPrice    float64
	TargetPrice  float64
	Leverage     int
	EntryPrice   float64
	FilledQty    float64
	AvgFillPrice float64
	State        string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

// Trade is an immutable history row written once per terminal fill.
type Trade struct {
	ID             string
	OrderID        string
	StrategyID     string
	Pair           string
	Side           string
	Qty            float64
	Price          float64
	PnL            float64
	Fee            float64
	ClosedPosition bool
	CreatedAt      time.Time
}

// Position is the persisted open position per (strategy, pair).
type Position struct {
	StrategyID  string
	Pair        string
	Side        string
	Qty         float64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Leverage    int
	OpenedAt    time.Time
	UpdatedAt   time.Time
}

// RiskParams is the single persisted risk parameter row.
type RiskParams struct {
	MaxPositionSize      float64
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	StopLossPct          float64
	TakeProfitPct        float64
	LeverageCap          int
	LiqSafetyMargin      float64
	MinNotional          float64
	UpdatedAt            time.Time
}

// RiskState is the single persisted account-risk row.
type RiskState struct {
	Day               string // YYYY-MM-DD, for rollover detection
	DailyPnL          float64
	ConsecutiveLosses int
	TradingEnabled    bool
	UpdatedAt         time.Time
}
