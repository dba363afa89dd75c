package lifecycle

import (
	"context"
	"testing"
	"time"

	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

func persistedRow(id, exchangeID, state string) db.Order {
	return db.Order{
		ID:          id,
		ExchangeID:  exchangeID,
		StrategyID:  "s1",
		Pair:        "BTC_USDT",
		Side:        "LONG",
		Kind:        "OPEN",
		Type:        "MARKET",
		Qty:         0.01,
		StopPrice:   49500,
		TargetPrice: 50500,
		State:       state,
		SubmittedAt: time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestReconcileUnknownOrderFails(t *testing.T) {
	h := newHarness(t, 50000)
	ctx := context.Background()

	if err := h.store.UpsertOrder(ctx, persistedRow("lost", "", "SUBMITTED")); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := h.mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if st := h.orderState("lost"); st != StateFailed {
		t.Fatalf("state = %s, want FAILED for order unknown to venue", st)
	}
	if _, ok := h.ledger.Position("s1", "BTC_USDT"); ok {
		t.Fatal("phantom order must not open a position")
	}
}

func TestReconcileVenueFillCommits(t *testing.T) {
	h := newHarness(t, 50000)
	ctx := context.Background()

	// the venue filled this order before the process died
	ack, err := h.sim.SubmitOrder(ctx, exchange.OrderRequest{
		Pair: "BTC_USDT", Side: exchange.SideBuy,
		Type: exchange.OrderTypeMarket, Qty: 0.01, ClientID: "crashed",
	})
	if err != nil {
		t.Fatalf("seed venue order: %v", err)
	}
	if err := h.store.UpsertOrder(ctx, persistedRow("crashed", ack.ExchangeID, "ACKNOWLEDGED")); err != nil {
		t.Fatalf("seed order row: %v", err)
	}

	if err := h.mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if st := h.orderState("crashed"); st != StateFilled {
		t.Fatalf("state = %s, want FILLED", st)
	}
	pos, ok := h.ledger.Position("s1", "BTC_USDT")
	if !ok {
		t.Fatal("fill landed while down was not committed")
	}
	if pos.EntryPrice != 50000 {
		t.Fatalf("entry = %f, want 50000", pos.EntryPrice)
	}
}

func TestReconcileAdoptsLiveOrder(t *testing.T) {
	h := newHarness(t, 50000)
	ctx := context.Background()

	// a resting limit far from the market stays NEW
	ack, err := h.sim.SubmitOrder(ctx, exchange.OrderRequest{
		Pair: "BTC_USDT", Side: exchange.SideBuy,
		Type: exchange.OrderTypeLimit, Qty: 0.01, Price: 40000, ClientID: "resting",
	})
	if err != nil {
		t.Fatalf("seed venue order: %v", err)
	}
	row := persistedRow("resting", ack.ExchangeID, "SUBMITTED")
	row.Type = "LIMIT"
	row.Price = 40000
	if err := h.store.UpsertOrder(ctx, row); err != nil {
		t.Fatalf("seed order row: %v", err)
	}

	if err := h.mgr.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st := h.orderState("resting"); st != StateAcknowledged {
		t.Fatalf("state = %s, want ACKNOWLEDGED for adopted live order", st)
	}

	// the poller finishes the job once the price crosses
	h.sim.PushTick(exchange.SimTick("BTC_USDT", 40000))
	waitFor(t, "adopted order fill", func() bool { return h.orderState("resting") == StateFilled })
}
