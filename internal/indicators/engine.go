package indicators

import (
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"scalpbot/pkg/exchange"
)

// Snapshot is the derived indicator view over a pair's bounded tick history.
// It has no lifecycle of its own: the same window always yields the same
// snapshot.
type Snapshot struct {
	Pair  string
	Price float64

	SMAFast float64
	SMASlow float64
	EMA     float64
	RSI     float64

	BBUpper  float64
	BBMiddle float64
	BBLower  float64

	// Rolling high/low over the configured range window (used by the range
	// scalp strategy as resistance/support).
	RangeHigh float64
	RangeLow  float64

	// Ready is false while the history is shorter than the largest
	// configured period; indicator fields are zero in that case.
	Ready bool
	// Stale marks a reused snapshot after the compute budget was exceeded.
	Stale bool
	At    time.Time
}

// Config holds indicator periods and engine limits.
type Config struct {
	FastPeriod int
	SlowPeriod int
	EMAPeriod  int
	RSIPeriod  int
	BBPeriod   int
	BBStdDev   float64

	Capacity      int           // bounded per-pair tick history
	RangeWindow   time.Duration // rolling high/low lookback
	ComputeBudget time.Duration // 0 disables the budget check
}

// DefaultConfig mirrors the usual scalping windows.
func DefaultConfig() Config {
	return Config{
		FastPeriod:    7,
		SlowPeriod:    25,
		EMAPeriod:     9,
		RSIPeriod:     14,
		BBPeriod:      20,
		BBStdDev:      2.0,
		Capacity:      200,
		RangeWindow:   time.Hour,
		ComputeBudget: 5 * time.Millisecond,
	}
}

// Engine maintains bounded per-pair tick windows and recomputes indicator
// snapshots per tick. The indicator math is delegated to go-talib; the
// engine only gates on insufficient data and the compute budget.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	hist       map[string][]exchange.Tick
	last       map[string]Snapshot
	overBudget map[string]bool
}

// NewEngine builds an indicator engine, normalizing degenerate limits.
func NewEngine(cfg Config) *Engine {
	if cfg.Capacity < cfg.SlowPeriod+1 {
		cfg.Capacity = cfg.SlowPeriod + 1
	}
	if cfg.Capacity < cfg.BBPeriod+1 {
		cfg.Capacity = cfg.BBPeriod + 1
	}
	if cfg.RangeWindow <= 0 {
		cfg.RangeWindow = time.Hour
	}
	return &Engine{
		cfg:        cfg,
		hist:       make(map[string][]exchange.Tick),
		last:       make(map[string]Snapshot),
		overBudget: make(map[string]bool),
	}
}

// Update ingests a tick and returns the snapshot for its pair. When the
// previous recompute blew the budget, the prior snapshot is reused once with
// Stale set so the feed-consumption path stays bounded.
func (e *Engine) Update(t exchange.Tick) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.hist[t.Pair], t)
	if len(arr) > e.cfg.Capacity {
		arr = arr[len(arr)-e.cfg.Capacity:]
	}
	e.hist[t.Pair] = arr

	if e.overBudget[t.Pair] {
		e.overBudget[t.Pair] = false
		snap := e.last[t.Pair]
		snap.Price = t.Price
		snap.Stale = true
		snap.At = t.Time
		return snap
	}

	start := time.Now()
	snap := e.compute(t.Pair, arr, t)
	if e.cfg.ComputeBudget > 0 && time.Since(start) > e.cfg.ComputeBudget {
		e.overBudget[t.Pair] = true
	}
	e.last[t.Pair] = snap
	return snap
}

// Snapshot returns the latest snapshot for a pair without ingesting a tick.
func (e *Engine) Snapshot(pair string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.last[pair]
	return s, ok
}

func (e *Engine) compute(pair string, ticks []exchange.Tick, t exchange.Tick) Snapshot {
	snap := Snapshot{Pair: pair, Price: t.Price, At: t.Time}

	// Rolling range over the time window is available before the indicator
	// periods warm up.
	cutoff := t.Time.Add(-e.cfg.RangeWindow)
	for _, tk := range ticks {
		if tk.Time.Before(cutoff) {
			continue
		}
		if snap.RangeHigh == 0 || tk.Price > snap.RangeHigh {
			snap.RangeHigh = tk.Price
		}
		if snap.RangeLow == 0 || tk.Price < snap.RangeLow {
			snap.RangeLow = tk.Price
		}
	}

	need := e.cfg.SlowPeriod
	if e.cfg.BBPeriod > need {
		need = e.cfg.BBPeriod
	}
	if e.cfg.RSIPeriod+1 > need {
		need = e.cfg.RSIPeriod + 1
	}
	if e.cfg.EMAPeriod > need {
		need = e.cfg.EMAPeriod
	}
	if len(ticks) < need {
		return snap // Ready stays false: insufficient data, never garbage
	}

	closes := make([]float64, len(ticks))
	for i, tk := range ticks {
		closes[i] = tk.Price
	}

	smaFast := talib.Sma(closes, e.cfg.FastPeriod)
	smaSlow := talib.Sma(closes, e.cfg.SlowPeriod)
	ema := talib.Ema(closes, e.cfg.EMAPeriod)
	rsi := talib.Rsi(closes, e.cfg.RSIPeriod)
	upper, middle, lower := talib.BBands(closes, e.cfg.BBPeriod, e.cfg.BBStdDev, e.cfg.BBStdDev, talib.SMA)

	n := len(closes) - 1
	snap.SMAFast = smaFast[n]
	snap.SMASlow = smaSlow[n]
	snap.EMA = ema[n]
	snap.RSI = rsi[n]
	snap.BBUpper = upper[n]
	snap.BBMiddle = middle[n]
	snap.BBLower = lower[n]
	snap.Ready = true
	return snap
}
