package strategy

import (
	"testing"

	"scalpbot/internal/account"
	"scalpbot/internal/indicators"
)

func readySnap(price float64) indicators.Snapshot {
	return indicators.Snapshot{
		Pair:     "BTC_USDT",
		Price:    price,
		SMAFast:  price,
		SMASlow:  price,
		RSI:      50,
		BBMiddle: price,
		Ready:    true,
	}
}

func longPosition(stop, target float64) *account.Position {
	return &account.Position{
		StrategyID:  "s1",
		Pair:        "BTC_USDT",
		Side:        account.SideLong,
		Qty:         0.01,
		EntryPrice:  50000,
		StopPrice:   stop,
		TargetPrice: target,
	}
}

func TestMomentumGoldenCrossOpensLong(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)

	// first tick seeds history: fast below slow
	prev := readySnap(50000)
	prev.SMAFast, prev.SMASlow = 49900, 50000
	if intents, _ := s.Evaluate(prev, nil); len(intents) != 0 {
		t.Fatalf("first snapshot emitted %d intents, want 0", len(intents))
	}

	// fast crosses above slow
	cross := readySnap(50100)
	cross.SMAFast, cross.SMASlow = 50050, 50000
	intents, err := s.Evaluate(cross, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1 on golden cross", len(intents))
	}
	in := intents[0]
	if in.Side != account.SideLong || in.Kind != KindOpen {
		t.Fatalf("intent = %s %s, want OPEN LONG", in.Kind, in.Side)
	}
	if in.StopPrice >= 50100 || in.TargetPrice <= 50100 {
		t.Fatalf("stop %.2f / target %.2f must bracket the entry price", in.StopPrice, in.TargetPrice)
	}
}

func TestMomentumOverboughtSuppressed(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)

	prev := readySnap(50000)
	prev.SMAFast, prev.SMASlow = 49900, 50000
	s.Evaluate(prev, nil)

	cross := readySnap(50100)
	cross.SMAFast, cross.SMASlow = 50050, 50000
	cross.RSI = 80
	if intents, _ := s.Evaluate(cross, nil); len(intents) != 0 {
		t.Fatalf("overbought RSI emitted %d intents, want 0", len(intents))
	}
}

func TestMomentumNotReadySuppressed(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)
	snap := readySnap(50000)
	snap.Ready = false
	if intents, _ := s.Evaluate(snap, nil); len(intents) != 0 {
		t.Fatal("unready snapshot must not produce intents")
	}
}

func TestExitStopLossWins(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)
	pos := longPosition(49500, 50500)

	intents, _ := s.Evaluate(readySnap(49400), pos)
	if len(intents) != 1 || intents[0].Kind != KindClose {
		t.Fatalf("intents = %+v, want a single CLOSE", intents)
	}
	if intents[0].Reason != "stop-loss" {
		t.Fatalf("reason = %s, want stop-loss", intents[0].Reason)
	}
}

func TestExitTakeProfit(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)
	pos := longPosition(49500, 50500)

	intents, _ := s.Evaluate(readySnap(50600), pos)
	if len(intents) != 1 || intents[0].Reason != "take-profit" {
		t.Fatalf("intents = %+v, want take-profit close", intents)
	}
}

// When one tick satisfies both triggers the one closer to the price decides.
func TestExitBothTriggersClosestWins(t *testing.T) {
	s := NewMomentumScalp("s1", "BTC_USDT", 0.01, 0.005, 0.01)
	// crafted bracket where one price satisfies both triggers
	pos := longPosition(49990, 49900)

	intents, _ := s.Evaluate(readySnap(49950), pos)
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	// price 49950: stop 49990 is 40 away, target 49900 is 50 away
	if intents[0].Reason != "stop-loss" {
		t.Fatalf("reason = %s, want stop-loss as the closer trigger", intents[0].Reason)
	}
}

func TestRangeEmitsDualLegsInsideRange(t *testing.T) {
	s := NewRangeScalp("s1", "BTC_USDT", 0.01, 0.003, 0.1)

	snap := readySnap(50000)
	snap.RangeLow, snap.RangeHigh = 49000, 51000
	intents, err := s.Evaluate(snap, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("intents = %d, want 2 legs", len(intents))
	}

	long, short := intents[0], intents[1]
	if long.Side != account.SideLong || short.Side != account.SideShort {
		t.Fatalf("sides = %s/%s, want LONG/SHORT", long.Side, short.Side)
	}
	if long.LimitPrice <= 49000 || long.LimitPrice >= 50000 {
		t.Fatalf("long entry %.2f must rest just above support 49000", long.LimitPrice)
	}
	if short.LimitPrice >= 51000 || short.LimitPrice <= 50000 {
		t.Fatalf("short entry %.2f must rest just below resistance 51000", short.LimitPrice)
	}
	if long.StopPrice >= 49000 {
		t.Fatalf("long stop %.2f must sit below support", long.StopPrice)
	}
	if short.StopPrice <= 51000 {
		t.Fatalf("short stop %.2f must sit above resistance", short.StopPrice)
	}
}

func TestRangeBreakoutSuppressed(t *testing.T) {
	s := NewRangeScalp("s1", "BTC_USDT", 0.01, 0.003, 0.1)

	inside := readySnap(50000)
	inside.RangeLow, inside.RangeHigh = 49000, 51000
	if intents, _ := s.Evaluate(inside, nil); len(intents) != 2 {
		t.Fatal("expected legs while inside the range")
	}

	breakout := readySnap(51500)
	breakout.RangeLow, breakout.RangeHigh = 49000, 51000
	if intents, _ := s.Evaluate(breakout, nil); len(intents) != 0 {
		t.Fatal("breakout above resistance must not emit entries")
	}
}

func TestFuturesEntryBias(t *testing.T) {
	s := NewFuturesScalp("s1", "BTC_USDT", 0.01, 0.01, 0.01, 5, 0.02)

	// seed below the slow average
	below := readySnap(49900)
	below.SMASlow = 50000
	s.Evaluate(below, nil)

	// crossing above with calm RSI opens a leveraged long
	above := readySnap(50100)
	above.SMASlow = 50000
	above.RSI = 55
	intents, err := s.Evaluate(above, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(intents) != 1 || intents[0].Side != account.SideLong {
		t.Fatalf("intents = %+v, want one leveraged long", intents)
	}
	if intents[0].Leverage != 5 {
		t.Fatalf("leverage = %d, want 5", intents[0].Leverage)
	}
}

// 50x leverage puts liquidation 2% away, inside margin 2% plus stop 1%.
func TestFuturesLiquidationMarginSuppresses(t *testing.T) {
	s := NewFuturesScalp("s1", "BTC_USDT", 0.01, 0.01, 0.01, 50, 0.02)

	below := readySnap(49900)
	below.SMASlow = 50000
	s.Evaluate(below, nil)

	above := readySnap(50100)
	above.SMASlow = 50000
	above.RSI = 55
	if intents, _ := s.Evaluate(above, nil); len(intents) != 0 {
		t.Fatal("entry too close to liquidation must be suppressed")
	}
}

func TestBuildFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "momentum",
			cfg:  Config{ID: "m1", Type: "momentum", Pair: "BTC_USDT", Size: 0.01, ProfitTarget: 0.005, StopLoss: 0.01},
		},
		{
			name: "range",
			cfg:  Config{ID: "r1", Type: "range", Pair: "ETH_USDT", Size: 0.1, ProfitTarget: 0.003, StopLoss: 0.1},
		},
		{
			name: "futures",
			cfg:  Config{ID: "f1", Type: "futures", Pair: "BTC_USDT", Size: 0.01, ProfitTarget: 0.01, StopLoss: 0.01, Leverage: 5, LiqMargin: 0.02},
		},
		{
			name:    "unknown type",
			cfg:     Config{ID: "x1", Type: "grid", Pair: "BTC_USDT", Size: 1, ProfitTarget: 0.01, StopLoss: 0.01},
			wantErr: true,
		},
		{
			name:    "missing pair",
			cfg:     Config{ID: "m2", Type: "momentum", Size: 1, ProfitTarget: 0.01, StopLoss: 0.01},
			wantErr: true,
		},
		{
			name:    "futures without leverage",
			cfg:     Config{ID: "f2", Type: "futures", Pair: "BTC_USDT", Size: 1, ProfitTarget: 0.01, StopLoss: 0.01},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Build(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if s.ID() != tt.cfg.ID || s.Pair() != tt.cfg.Pair {
				t.Fatalf("built %s/%s, want %s/%s", s.ID(), s.Pair(), tt.cfg.ID, tt.cfg.Pair)
			}
		})
	}
}
