package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"scalpbot/internal/account"
	"scalpbot/internal/strategy"
	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

// Reconcile resolves every persisted non-terminal order against the venue
// before trading resumes. Orders the venue never saw become Failed, live
// orders are adopted back into tracking and fills that landed while the
// process was down are committed. An unreachable venue halts trading
// instead of guessing.
func (m *Manager) Reconcile(ctx context.Context) error {
	rows, err := m.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list open orders: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	log.Printf("reconcile: %d non-terminal orders to resolve", len(rows))

	for _, row := range rows {
		o := orderFromRow(row)

		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		id := o.ExchangeID
		if id == "" {
			id = o.ID()
		}
		st, err := m.client.PollOrderStatus(ctx, o.Intent.Pair, id)
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			m.adopt(o)
			m.fail(ctx, o, "order unknown to venue after restart")

		case err != nil:
			m.ledger.Trip(ctx, fmt.Sprintf("venue unreachable during reconciliation: %v", err))
			return fmt.Errorf("reconcile order %s: %w", o.ID(), err)

		default:
			o.ExchangeID = st.ExchangeID
			if o.State == StateCreated {
				// the venue saw it, so the submission did go out
				o.State = StateSubmitted
			}
			m.adopt(o)
			m.applyRestoredStatus(ctx, o, st)
		}
	}
	return nil
}

func (m *Manager) adopt(o *Order) {
	m.mu.Lock()
	m.orders[o.ID()] = o
	m.mu.Unlock()
}

// applyRestoredStatus is applyStatus with idempotent ledger commits: the
// fill may have been booked before the crash, in which case the ledger
// refuses the duplicate and the order is simply marked terminal.
func (m *Manager) applyRestoredStatus(ctx context.Context, o *Order, st exchange.OrderState) {
	if !st.Status.Terminal() {
		m.applyStatus(ctx, o, st)
		return
	}
	if st.FilledQty > o.FilledQty {
		o.FilledQty = st.FilledQty
		if st.AvgPrice > 0 {
			o.AvgPrice = st.AvgPrice
		}
	}
	m.applyStatus(ctx, o, st)
}

// orderFromRow rebuilds a tracked order from its persisted row.
func orderFromRow(row db.Order) *Order {
	return &Order{
		Intent: strategy.Intent{
			ID:          row.ID,
			StrategyID:  row.StrategyID,
			Pair:        row.Pair,
			Kind:        strategy.IntentKind(row.Kind),
			Side:        account.Side(row.Side),
			Qty:         row.Qty,
			LimitPrice:  row.Price,
			StopPrice:   row.StopPrice,
			TargetPrice: row.TargetPrice,
			Leverage:    row.Leverage,
			LegGroup:    row.LegGroup,
		},
		ExchangeID:  row.ExchangeID,
		State:       State(row.State),
		FilledQty:   row.FilledQty,
		AvgPrice:    row.AvgFillPrice,
		EntryPrice:  row.EntryPrice,
		SubmittedAt: row.SubmittedAt,
		UpdatedAt:   time.Now(),
	}
}
