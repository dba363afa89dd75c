package account

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"scalpbot/pkg/db"
)

// Side denotes position direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is an open position, owned exclusively by the ledger and mutated
// only through lifecycle commits. At most one per (strategy, pair).
type Position struct {
	StrategyID  string
	Pair        string
	Side        Side
	Qty         float64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Leverage    int
	OpenedAt    time.Time
}

// Notional returns the position's exposure in quote currency.
func (p Position) Notional() float64 {
	return p.Qty * p.EntryPrice
}

// TradeRecord is an immutable history entry, appended once per terminal fill.
type TradeRecord struct {
	ID             string
	OrderID        string
	StrategyID     string
	Pair           string
	Side           Side
	Qty            float64
	Price          float64
	PnL            float64
	Fee            float64
	ClosedPosition bool
	At             time.Time
}

// View is a value-copy of the risk-relevant ledger state handed to readers.
type View struct {
	TradingEnabled    bool
	DailyPnL          float64
	ConsecutiveLosses int
	PairExposure      map[string]float64
}

const recentTradeCap = 512

// Ledger is the single source of truth for balances-at-risk: open positions,
// daily realized P&L, the consecutive-loss counter and the trading-enabled
// flag. All mutation happens under one mutex so strategy evaluation never
// observes a half-applied trade.
type Ledger struct {
	mu    sync.Mutex
	store *db.Store // nil in tests that don't need persistence

	positions map[string]Position // key strategyID:pair
	trades    []TradeRecord       // recent history ring, newest last

	day               string
	dailyPnL          float64
	consecutiveLosses int
	tradingEnabled    bool
	tripped           bool // disabled by thresholds rather than by operator
}

func positionKey(strategyID, pair string) string {
	return strategyID + ":" + pair
}

// NewLedger creates a ledger with trading enabled.
func NewLedger(store *db.Store) *Ledger {
	return &Ledger{
		store:          store,
		positions:      make(map[string]Position),
		day:            db.Day(time.Now()),
		tradingEnabled: true,
	}
}

// Load seeds the ledger from persisted risk state and positions so a restart
// does not lose risk accounting.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.store.LoadRiskState(ctx)
	switch {
	case err == db.ErrNoRows:
		// first run, keep defaults
	case err != nil:
		return fmt.Errorf("load risk state: %w", err)
	default:
		l.day = rs.Day
		l.dailyPnL = rs.DailyPnL
		l.consecutiveLosses = rs.ConsecutiveLosses
		l.tradingEnabled = rs.TradingEnabled
	}

	rows, err := l.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for _, p := range rows {
		l.positions[positionKey(p.StrategyID, p.Pair)] = Position{
			StrategyID:  p.StrategyID,
			Pair:        p.Pair,
			Side:        Side(p.Side),
			Qty:         p.Qty,
			EntryPrice:  p.EntryPrice,
			StopPrice:   p.StopPrice,
			TargetPrice: p.TargetPrice,
			Leverage:    p.Leverage,
			OpenedAt:    p.OpenedAt,
		}
	}

	trades, err := l.store.ListRecentTrades(ctx, recentTradeCap)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	// ListRecentTrades is newest-first; the ring keeps newest last.
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		l.trades = append(l.trades, TradeRecord{
			ID: t.ID, OrderID: t.OrderID, StrategyID: t.StrategyID,
			Pair: t.Pair, Side: Side(t.Side), Qty: t.Qty, Price: t.Price,
			PnL: t.PnL, Fee: t.Fee, ClosedPosition: t.ClosedPosition, At: t.CreatedAt,
		})
	}
	return nil
}

// View returns a value-copy of the risk-relevant state.
func (l *Ledger) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp := make(map[string]float64, len(l.positions))
	for _, p := range l.positions {
		exp[p.Pair] += p.Notional()
	}
	return View{
		TradingEnabled:    l.tradingEnabled,
		DailyPnL:          l.dailyPnL,
		ConsecutiveLosses: l.consecutiveLosses,
		PairExposure:      exp,
	}
}

// Position returns the open position for (strategy, pair), if any.
func (l *Ledger) Position(strategyID, pair string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[positionKey(strategyID, pair)]
	return p, ok
}

// Positions returns a snapshot of all open positions.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// RecentTrades returns up to n trade records, newest first.
func (l *Ledger) RecentTrades(n int) []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.trades) {
		n = len(l.trades)
	}
	out := make([]TradeRecord, 0, n)
	for i := len(l.trades) - 1; i >= len(l.trades)-n; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

// SetTradingEnabled is the explicit operator switch. Enabling clears a
// threshold trip; disabling sticks until re-enabled or rollover.
func (l *Ledger) SetTradingEnabled(ctx context.Context, enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradingEnabled = enabled
	if enabled {
		l.tripped = false
	}
	l.persistStateLocked(ctx)
}

// TradingEnabled reports the current flag.
func (l *Ledger) TradingEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradingEnabled
}

// Rollover resets daily counters when the calendar day changed. A trip
// caused purely by daily thresholds is lifted; an operator disable is not.
func (l *Ledger) Rollover(ctx context.Context, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := db.Day(now)
	if day == l.day {
		return
	}
	log.Printf("ledger: daily rollover %s -> %s (pnl=%.2f losses=%d)",
		l.day, day, l.dailyPnL, l.consecutiveLosses)

	l.day = day
	l.dailyPnL = 0
	l.consecutiveLosses = 0
	if l.tripped {
		l.tripped = false
		l.tradingEnabled = true
	}
	l.persistStateLocked(ctx)
}

// ApplyOpen commits an entry fill: records the new position and its entry
// trade in one unit.
func (l *Ledger) ApplyOpen(ctx context.Context, pos Position, rec TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey(pos.StrategyID, pos.Pair)
	if _, exists := l.positions[key]; exists {
		return fmt.Errorf("ledger: position already open for %s", key)
	}
	l.positions[key] = pos
	l.appendTradeLocked(ctx, rec)

	if l.store != nil {
		if err := l.store.UpsertPosition(ctx, dbPosition(pos)); err != nil {
			log.Printf("ledger: persist position: %v", err)
		}
	}
	return nil
}

// CloseResult reports what a close commit did to account-wide risk state.
type CloseResult struct {
	PnL               float64
	DailyPnL          float64
	ConsecutiveLosses int
	Tripped           bool // trading-enabled was forced false by this close
}

// ApplyClose commits an exit fill atomically: position removal (or reduction
// on a partial close), trade record, daily P&L, the consecutive-loss counter
// and the trading-enabled re-evaluation against the passed thresholds.
func (l *Ledger) ApplyClose(ctx context.Context, strategyID, pair string, rec TradeRecord,
	maxDailyLoss float64, maxConsecutiveLosses int) (CloseResult, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey(strategyID, pair)
	pos, ok := l.positions[key]
	if !ok {
		return CloseResult{}, fmt.Errorf("ledger: no open position for %s", key)
	}

	if rec.Qty >= pos.Qty {
		delete(l.positions, key)
		if l.store != nil {
			if err := l.store.DeletePosition(ctx, strategyID, pair); err != nil {
				log.Printf("ledger: delete position: %v", err)
			}
		}
	} else {
		pos.Qty -= rec.Qty
		l.positions[key] = pos
		if l.store != nil {
			if err := l.store.UpsertPosition(ctx, dbPosition(pos)); err != nil {
				log.Printf("ledger: persist position: %v", err)
			}
		}
	}

	rec.ClosedPosition = true
	l.appendTradeLocked(ctx, rec)

	l.dailyPnL += rec.PnL
	switch {
	case rec.PnL < 0:
		l.consecutiveLosses++
	case rec.PnL > 0:
		// reset on any individually profitable close
		l.consecutiveLosses = 0
	}

	res := CloseResult{PnL: rec.PnL, DailyPnL: l.dailyPnL, ConsecutiveLosses: l.consecutiveLosses}

	if l.tradingEnabled {
		if (maxDailyLoss > 0 && -l.dailyPnL >= maxDailyLoss) ||
			(maxConsecutiveLosses > 0 && l.consecutiveLosses >= maxConsecutiveLosses) {
			l.tradingEnabled = false
			l.tripped = true
			res.Tripped = true
			log.Printf("ledger: risk threshold tripped, trading disabled (pnl=%.2f losses=%d)",
				l.dailyPnL, l.consecutiveLosses)
		}
	}

	l.persistStateLocked(ctx)
	return res, nil
}

// Trip forces trading off for reasons outside trade accounting, e.g. an auth
// failure or an unreconcilable order. Only the operator or rollover re-enable.
func (l *Ledger) Trip(ctx context.Context, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tradingEnabled {
		log.Printf("ledger: trading disabled: %s", reason)
	}
	l.tradingEnabled = false
	l.tripped = false // requires explicit operator re-enable
	l.persistStateLocked(ctx)
}

// AdjustStops updates stop/target on an open position (adjust-stop intents).
func (l *Ledger) AdjustStops(ctx context.Context, strategyID, pair string, stop, target float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := positionKey(strategyID, pair)
	pos, ok := l.positions[key]
	if !ok {
		return fmt.Errorf("ledger: no open position for %s", key)
	}
	if stop > 0 {
		pos.StopPrice = stop
	}
	if target > 0 {
		pos.TargetPrice = target
	}
	l.positions[key] = pos
	if l.store != nil {
		if err := l.store.UpsertPosition(ctx, dbPosition(pos)); err != nil {
			log.Printf("ledger: persist position: %v", err)
		}
	}
	return nil
}

func (l *Ledger) appendTradeLocked(ctx context.Context, rec TradeRecord) {
	l.trades = append(l.trades, rec)
	if len(l.trades) > recentTradeCap {
		l.trades = l.trades[len(l.trades)-recentTradeCap:]
	}
	if l.store != nil {
		if err := l.store.InsertTrade(ctx, db.Trade{
			ID: rec.ID, OrderID: rec.OrderID, StrategyID: rec.StrategyID,
			Pair: rec.Pair, Side: string(rec.Side), Qty: rec.Qty, Price: rec.Price,
			PnL: rec.PnL, Fee: rec.Fee, ClosedPosition: rec.ClosedPosition, CreatedAt: rec.At,
		}); err != nil {
			log.Printf("ledger: persist trade: %v", err)
		}
	}
}

func (l *Ledger) persistStateLocked(ctx context.Context) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveRiskState(ctx, db.RiskState{
		Day:               l.day,
		DailyPnL:          l.dailyPnL,
		ConsecutiveLosses: l.consecutiveLosses,
		TradingEnabled:    l.tradingEnabled,
	}); err != nil {
		log.Printf("ledger: persist risk state: %v", err)
	}
}

func dbPosition(p Position) db.Position {
	return db.Position{
		StrategyID:  p.StrategyID,
		Pair:        p.Pair,
		Side:        string(p.Side),
		Qty:         p.Qty,
		EntryPrice:  p.EntryPrice,
		StopPrice:   p.StopPrice,
		TargetPrice: p.TargetPrice,
		Leverage:    p.Leverage,
		OpenedAt:    p.OpenedAt,
	}
}
