package risk

import (
	"math"
	"testing"

	"scalpbot/internal/account"
	"scalpbot/internal/strategy"
)

func testParams() Params {
	return Params{
		MaxPositionSize:      1000,
		MaxDailyLoss:         100,
		MaxConsecutiveLosses: 3,
		StopLossPct:          0.01,
		TakeProfitPct:        0.005,
		LeverageCap:          10,
		LiqSafetyMargin:      0.02,
		MinNotional:          5,
	}
}

func openIntent(qty, price float64) strategy.Intent {
	return strategy.Intent{
		StrategyID: "s1",
		Pair:       "BTC_USDT",
		Kind:       strategy.KindOpen,
		Side:       account.SideLong,
		Qty:        qty,
		LimitPrice: price,
	}
}

func TestEvaluateOrderedChecks(t *testing.T) {
	enabled := account.View{TradingEnabled: true}

	tests := []struct {
		name   string
		intent strategy.Intent
		price  float64
		view   account.View
		params Params
		want   Outcome
	}{
		{
			name:   "clean open approved",
			intent: openIntent(0.01, 50000),
			view:   enabled,
			params: testParams(),
			want:   Approved,
		},
		{
			name:   "trading disabled rejects",
			intent: openIntent(0.01, 50000),
			view:   account.View{TradingEnabled: false},
			params: testParams(),
			want:   Rejected,
		},
		{
			name:   "consecutive losses at limit rejects",
			intent: openIntent(0.01, 50000),
			view:   account.View{TradingEnabled: true, ConsecutiveLosses: 3},
			params: testParams(),
			want:   Rejected,
		},
		{
			name:   "oversized position adjusted",
			intent: openIntent(1, 50000), // 50000 notional vs 1000 cap
			view:   enabled,
			params: testParams(),
			want:   Adjusted,
		},
		{
			name:   "existing exposure counts against the cap",
			intent: openIntent(0.015, 50000), // 750 notional + 400 held > 1000 cap
			view: account.View{
				TradingEnabled: true,
				PairExposure:   map[string]float64{"BTC_USDT": 400},
			},
			params: testParams(),
			want:   Adjusted,
		},
		{
			name:   "pair at exposure cap rejects",
			intent: openIntent(0.001, 50000),
			view: account.View{
				TradingEnabled: true,
				PairExposure:   map[string]float64{"BTC_USDT": 1000},
			},
			params: testParams(),
			want:   Rejected,
		},
		{
			name:   "market order sized off last price",
			intent: openIntent(0.01, 0),
			price:  50000,
			view:   enabled,
			params: testParams(),
			want:   Approved,
		},
		{
			name:   "no reference price rejects",
			intent: openIntent(0.01, 0),
			price:  0,
			view:   enabled,
			params: testParams(),
			want:   Rejected,
		},
		{
			name: "leverage above cap rejects",
			intent: func() strategy.Intent {
				i := openIntent(0.01, 50000)
				i.Leverage = 20
				return i
			}(),
			view:   enabled,
			params: testParams(),
			want:   Rejected,
		},
		{
			name: "liquidation inside safety margin rejects",
			intent: func() strategy.Intent {
				i := openIntent(0.01, 50000)
				i.Leverage = 10 // 0.10 distance
				return i
			}(),
			view: enabled,
			params: func() Params {
				p := testParams()
				p.LiqSafetyMargin = 0.12
				return p
			}(),
			want: Rejected,
		},
		{
			name: "close passes when trading disabled",
			intent: strategy.Intent{
				StrategyID: "s1", Pair: "BTC_USDT",
				Kind: strategy.KindClose, Side: account.SideLong, Qty: 0.01,
			},
			view:   account.View{TradingEnabled: false, ConsecutiveLosses: 5},
			params: testParams(),
			want:   Approved,
		},
		{
			name: "stop adjust passes when trading disabled",
			intent: strategy.Intent{
				StrategyID: "s1", Pair: "BTC_USDT",
				Kind: strategy.KindAdjustStop, Side: account.SideLong,
			},
			view:   account.View{TradingEnabled: false},
			params: testParams(),
			want:   Approved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := evaluate(tt.intent, tt.price, tt.view, tt.params)
			if d.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (reason %q)", d.Outcome, tt.want, d.Reason)
			}
		})
	}
}

// A 100 budget with 60 already lost leaves 40: an intent whose worst case is
// another 60 must be shrunk so its stop can lose at most the remainder.
func TestEvaluateDailyBudgetAdjustment(t *testing.T) {
	p := testParams() // MaxDailyLoss 100, StopLossPct 0.01
	view := account.View{TradingEnabled: true, DailyPnL: -60}

	// worst case = 0.12 * 50000 * 0.01 = 60 > 40 remaining
	d := evaluate(openIntent(0.12, 50000), 0, view, p)
	if d.Outcome != Adjusted {
		t.Fatalf("outcome = %s, want ADJUSTED (reason %q)", d.Outcome, d.Reason)
	}
	wantQty := 40.0 / (50000 * 0.01)
	if math.Abs(d.Qty-wantQty) > 1e-9 {
		t.Fatalf("qty = %f, want %f", d.Qty, wantQty)
	}
	if worst := d.Qty * 50000 * p.StopLossPct; worst > 40+1e-9 {
		t.Fatalf("adjusted worst-case loss %f still exceeds remaining budget", worst)
	}
}

func TestEvaluateBudgetExhaustedRejects(t *testing.T) {
	view := account.View{TradingEnabled: true, DailyPnL: -100}
	d := evaluate(openIntent(0.01, 50000), 0, view, testParams())
	if d.Outcome != Rejected {
		t.Fatalf("outcome = %s, want REJECTED", d.Outcome)
	}
}

// Shrinking below the venue minimum turns an adjustment into a rejection.
func TestEvaluateAdjustmentBelowMinNotionalRejects(t *testing.T) {
	p := testParams()
	view := account.View{TradingEnabled: true, DailyPnL: -99.999}
	d := evaluate(openIntent(0.12, 50000), 0, view, p)
	if d.Outcome != Rejected {
		t.Fatalf("outcome = %s, want REJECTED (reason %q)", d.Outcome, d.Reason)
	}
}

// Leveraged positions consume budget at leverage times the stop distance.
func TestEvaluateLeverageScalesWorstCase(t *testing.T) {
	p := testParams()
	view := account.View{TradingEnabled: true}

	i := openIntent(0.016, 50000) // notional 800, worst case unlevered 8
	i.Leverage = 5                // worst case 40
	d := evaluate(i, 0, view, p)
	if d.Outcome != Approved {
		t.Fatalf("outcome = %s, want APPROVED (reason %q)", d.Outcome, d.Reason)
	}

	view.DailyPnL = -80 // 20 remaining, worst case 40 over budget
	d = evaluate(i, 0, view, p)
	if d.Outcome != Adjusted {
		t.Fatalf("outcome = %s, want ADJUSTED (reason %q)", d.Outcome, d.Reason)
	}
	if worst := d.Qty * 50000 * p.StopLossPct * 5; worst > 20+1e-9 {
		t.Fatalf("adjusted worst-case loss %f exceeds remaining budget 20", worst)
	}
}
