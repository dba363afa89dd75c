package indicators

import (
	"math"
	"testing"
	"time"

	"scalpbot/pkg/exchange"
)

func tick(pair string, price float64, at time.Time) exchange.Tick {
	return exchange.Tick{Pair: pair, Price: price, Volume: 1, Time: at}
}

func TestReadyOnlyAfterWarmup(t *testing.T) {
	e := NewEngine(DefaultConfig())
	base := time.Now()

	var snap Snapshot
	for i := 0; i < 24; i++ {
		snap = e.Update(tick("BTC_USDT", 50000+float64(i), base.Add(time.Duration(i)*time.Second)))
		if snap.Ready {
			t.Fatalf("ready after %d ticks, want warmup of 25", i+1)
		}
	}
	snap = e.Update(tick("BTC_USDT", 50024, base.Add(25*time.Second)))
	if !snap.Ready {
		t.Fatal("not ready after full warmup")
	}
	if snap.SMAFast == 0 || snap.SMASlow == 0 || snap.RSI == 0 {
		t.Fatalf("ready snapshot has zero indicators: %+v", snap)
	}
}

func TestIndicatorSanity(t *testing.T) {
	e := NewEngine(DefaultConfig())
	base := time.Now()

	var snap Snapshot
	for i := 0; i < 60; i++ {
		// gentle oscillation around 50000
		price := 50000 + 100*math.Sin(float64(i)/5)
		snap = e.Update(tick("BTC_USDT", price, base.Add(time.Duration(i)*time.Second)))
	}

	if snap.RSI < 0 || snap.RSI > 100 {
		t.Fatalf("RSI = %f out of range", snap.RSI)
	}
	if !(snap.BBLower <= snap.BBMiddle && snap.BBMiddle <= snap.BBUpper) {
		t.Fatalf("bands out of order: %f / %f / %f", snap.BBLower, snap.BBMiddle, snap.BBUpper)
	}
	if snap.RangeLow > snap.Price || snap.RangeHigh < snap.Price {
		t.Fatalf("price %f outside tracked range [%f, %f]", snap.Price, snap.RangeLow, snap.RangeHigh)
	}
}

func TestRangeAvailableBeforeWarmup(t *testing.T) {
	e := NewEngine(DefaultConfig())
	base := time.Now()

	e.Update(tick("BTC_USDT", 49000, base))
	e.Update(tick("BTC_USDT", 51000, base.Add(time.Second)))
	snap := e.Update(tick("BTC_USDT", 50000, base.Add(2*time.Second)))

	if snap.Ready {
		t.Fatal("three ticks must not satisfy warmup")
	}
	if snap.RangeLow != 49000 || snap.RangeHigh != 51000 {
		t.Fatalf("range = [%f, %f], want [49000, 51000]", snap.RangeLow, snap.RangeHigh)
	}
}

func TestRangeWindowExpiresOldExtremes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RangeWindow = time.Minute
	e := NewEngine(cfg)
	base := time.Now()

	e.Update(tick("BTC_USDT", 52000, base)) // spike, will age out
	snap := e.Update(tick("BTC_USDT", 50000, base.Add(2*time.Minute)))

	if snap.RangeHigh != 50000 {
		t.Fatalf("range high = %f, want the spike aged out", snap.RangeHigh)
	}
}

// Ticks evicted from the bounded history must have no influence: an engine
// that saw a long tape and one that saw only the retained window agree.
func TestSnapshotDependsOnlyOnRetainedWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 40
	cfg.ComputeBudget = 0
	long := NewEngine(cfg)
	short := NewEngine(cfg)

	base := time.Now()
	price := func(i int) float64 {
		return 50000 + 200*math.Sin(float64(i)/5)
	}

	const total = 120
	var fromLong, fromShort Snapshot
	for i := 0; i < total; i++ {
		fromLong = long.Update(tick("BTC_USDT", price(i), base.Add(time.Duration(i)*time.Second)))
	}
	for i := total - cfg.Capacity; i < total; i++ {
		fromShort = short.Update(tick("BTC_USDT", price(i), base.Add(time.Duration(i)*time.Second)))
	}

	if !fromLong.Ready || !fromShort.Ready {
		t.Fatalf("ready = %v/%v, want both ready", fromLong.Ready, fromShort.Ready)
	}
	if fromLong != fromShort {
		t.Fatalf("snapshots diverge:\nlong tape %+v\nwindow    %+v", fromLong, fromShort)
	}
}

func TestPairsAreIndependent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	base := time.Now()

	for i := 0; i < 30; i++ {
		e.Update(tick("BTC_USDT", 50000, base.Add(time.Duration(i)*time.Second)))
	}
	snap := e.Update(tick("ETH_USDT", 3000, base))
	if snap.Ready {
		t.Fatal("fresh pair inherited another pair's warmup")
	}

	if got, ok := e.Snapshot("BTC_USDT"); !ok || !got.Ready {
		t.Fatal("warmed-up pair lost its snapshot")
	}
}

func TestBudgetOverrunMarksNextSnapshotStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ComputeBudget = time.Nanosecond // everything overruns
	e := NewEngine(cfg)
	base := time.Now()

	for i := 0; i < 30; i++ {
		e.Update(tick("BTC_USDT", 50000+float64(i), base.Add(time.Duration(i)*time.Second)))
	}

	// the 30th compute overran, so this one reuses the prior snapshot
	snap := e.Update(tick("BTC_USDT", 51000, base.Add(31*time.Second)))
	if !snap.Stale {
		t.Fatal("snapshot after an overrun must be marked stale")
	}
	if snap.Price != 51000 {
		t.Fatalf("stale snapshot price = %f, want the live price", snap.Price)
	}

	// and the engine recovers on the tick after that
	snap = e.Update(tick("BTC_USDT", 51001, base.Add(32*time.Second)))
	if snap.Stale {
		t.Fatal("engine did not retry the recompute after a stale serve")
	}
}
