package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"scalpbot/internal/account"
	"scalpbot/internal/events"
	"scalpbot/internal/indicators"
	"scalpbot/internal/monitor"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

const (
	maxSubmitAttempts = 3
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 5 * time.Second
	ambiguityDelay    = 2 * time.Second
)

// PriceSource supplies the latest computed snapshot per pair so market
// orders can be valued for risk checks. The indicator engine implements it.
type PriceSource interface {
	Snapshot(pair string) (indicators.Snapshot, bool)
}

// Manager drives orders from intent to terminal state: it gates intents,
// submits through a worker pool under the venue rate limit, polls fills and
// commits terminal outcomes to the ledger exactly once.
type Manager struct {
	client  exchange.Client
	gate    *risk.Gate
	params  *risk.Store
	ledger  *account.Ledger
	bus     *events.Bus
	store   *db.Store
	limiter *exchange.Limiter
	prices  PriceSource

	pollInterval time.Duration
	ambiguity    time.Duration
	workers      int

	mu     sync.Mutex
	orders map[string]*Order // by client order id

	queue chan *Order
	wg    sync.WaitGroup
}

// NewManager wires a lifecycle manager. pollInterval controls the fill
// poller; workers sizes the submission pool.
func NewManager(client exchange.Client, gate *risk.Gate, params *risk.Store,
	ledger *account.Ledger, bus *events.Bus, store *db.Store,
	limiter *exchange.Limiter, prices PriceSource,
	pollInterval time.Duration, workers int) *Manager {

	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Manager{
		client:       client,
		gate:         gate,
		params:       params,
		ledger:       ledger,
		bus:          bus,
		store:        store,
		limiter:      limiter,
		prices:       prices,
		pollInterval: pollInterval,
		ambiguity:    ambiguityDelay,
		workers:      workers,
		orders:       make(map[string]*Order),
		queue:        make(chan *Order, 128),
	}
}

// Start launches the submission workers and the fill poller.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.wg.Add(1)
	go m.pollLoop(ctx)
}

// Wait blocks until all manager goroutines have exited.
func (m *Manager) Wait() { m.wg.Wait() }

// Submit gates an intent and, if admitted, tracks it through the lifecycle.
// Rejections are returned as errors so the caller can release its phase.
// Stop-adjust intents touch only the ledger and never reach the venue.
func (m *Manager) Submit(ctx context.Context, intent strategy.Intent) error {
	if intent.Kind == strategy.KindAdjustStop {
		return m.adjustStop(ctx, intent)
	}

	price := 0.0
	if snap, ok := m.prices.Snapshot(intent.Pair); ok {
		price = snap.Price
	}

	decision := m.gate.Evaluate(intent, price, m.ledger.View())
	monitor.IntentsDecided.WithLabelValues(decision.Outcome.String()).Inc()
	if decision.Outcome == risk.Rejected {
		m.bus.Publish(events.EventIntentRejected, events.OrderUpdate{
			OrderID:    intent.ID,
			StrategyID: intent.StrategyID,
			Pair:       intent.Pair,
			Kind:       string(intent.Kind),
			Side:       string(intent.Side),
			LegGroup:   intent.LegGroup,
			Error:      decision.Reason,
			At:         time.Now(),
		})
		return fmt.Errorf("risk gate: %s", decision.Reason)
	}
	intent.Qty = decision.Qty
	if decision.Outcome == risk.Adjusted {
		log.Printf("lifecycle: intent %s adjusted: %s", intent.ID, decision.Reason)
	}

	o := &Order{Intent: intent, State: StateCreated}
	if intent.Kind == strategy.KindClose {
		pos, ok := m.ledger.Position(intent.StrategyID, intent.Pair)
		if !ok {
			return fmt.Errorf("lifecycle: close intent %s has no open position", intent.ID)
		}
		o.EntryPrice = pos.EntryPrice
	}

	m.mu.Lock()
	m.orders[intent.ID] = o
	m.mu.Unlock()
	m.persist(ctx, o)
	m.bus.Publish(events.EventIntentApproved, m.update(o))

	select {
	case m.queue <- o:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Cancel withdraws an order by client id. Racing a fill is not an error:
// the poller settles whichever outcome the venue reports.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: unknown order %s", orderID)
	}
	if o.State.Terminal() {
		m.mu.Unlock()
		return nil
	}
	o.cancelRequested = true
	if o.State == StateCreated {
		// never left the queue, settle locally
		if err := o.setState(StateCancelled); err != nil {
			m.mu.Unlock()
			return err
		}
		m.mu.Unlock()
		m.finishTerminal(ctx, o, events.EventOrderCancelled, "")
		return nil
	}
	pair, exID := o.Intent.Pair, o.ExchangeID
	if exID != "" {
		o.cancelSent = true
	}
	m.mu.Unlock()

	if exID == "" {
		// ambiguous submission in flight; the resolver re-issues the
		// withdrawal once the venue's copy of the order is adopted
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := m.client.CancelOrder(ctx, pair, exID); err != nil {
		m.mu.Lock()
		o.cancelSent = false
		m.mu.Unlock()
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// cancelOnVenue delivers a withdrawal that was requested while the order had
// no exchange id yet. Safe to call repeatedly; only the first call per
// adopted order reaches the venue unless that call fails.
func (m *Manager) cancelOnVenue(ctx context.Context, o *Order) {
	m.mu.Lock()
	if !o.cancelRequested || o.cancelSent || o.State.Terminal() || o.ExchangeID == "" {
		m.mu.Unlock()
		return
	}
	o.cancelSent = true
	pair, exID := o.Intent.Pair, o.ExchangeID
	m.mu.Unlock()

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	if err := m.client.CancelOrder(ctx, pair, exID); err != nil {
		log.Printf("lifecycle: cancel order %s: %v", o.ID(), err)
		m.mu.Lock()
		o.cancelSent = false
		m.mu.Unlock()
	}
}

// Orders returns a snapshot of tracked non-terminal orders.
func (m *Manager) Orders() []events.OrderUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.OrderUpdate
	for _, o := range m.orders {
		if !o.State.Terminal() {
			out = append(out, m.updateLocked(o))
		}
	}
	return out
}

func (m *Manager) adjustStop(ctx context.Context, intent strategy.Intent) error {
	decision := m.gate.Evaluate(intent, 0, m.ledger.View())
	monitor.IntentsDecided.WithLabelValues(decision.Outcome.String()).Inc()
	if decision.Outcome == risk.Rejected {
		return fmt.Errorf("risk gate: %s", decision.Reason)
	}
	if err := m.ledger.AdjustStops(ctx, intent.StrategyID, intent.Pair, intent.StopPrice, intent.TargetPrice); err != nil {
		return err
	}
	m.bus.Publish(events.EventStatusChange, events.OrderUpdate{
		OrderID:    intent.ID,
		StrategyID: intent.StrategyID,
		Pair:       intent.Pair,
		Kind:       string(intent.Kind),
		State:      "APPLIED",
		At:         time.Now(),
	})
	return nil
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-m.queue:
			m.submitOrder(ctx, o)
		}
	}
}

// submitOrder drives one order through submission, including the retry and
// ambiguity policy:
//
//	rejection            -> Failed, terminal for this order only
//	auth failure         -> Failed and trading halts
//	rate limit           -> back off and resubmit, no attempt consumed
//	transport (definite) -> bounded exponential retry, then Failed
//	transport (timeout)  -> stays Submitted, resolver polls by client id
func (m *Manager) submitOrder(ctx context.Context, o *Order) {
	m.mu.Lock()
	if o.State.Terminal() {
		m.mu.Unlock()
		return
	}
	if o.cancelRequested {
		// withdrawn while queued or awaiting a safe retry; the venue has no
		// copy of the order on any path that leads back here
		if err := o.setState(StateCancelled); err != nil {
			m.mu.Unlock()
			log.Printf("lifecycle: %v", err)
			return
		}
		m.mu.Unlock()
		m.finishTerminal(ctx, o, events.EventOrderCancelled, "")
		return
	}
	if o.State == StateCreated {
		if err := o.setState(StateSubmitted); err != nil {
			m.mu.Unlock()
			log.Printf("lifecycle: %v", err)
			return
		}
		o.SubmittedAt = time.Now()
	}
	o.attempts++
	req := buildRequest(o.Intent)
	m.mu.Unlock()

	m.persist(ctx, o)
	m.bus.Publish(events.EventOrderSubmitted, m.update(o))

	if err := m.limiter.Wait(ctx); err != nil {
		return
	}
	monitor.OrdersSubmitted.Inc()
	ack, err := m.client.SubmitOrder(ctx, req)
	if err != nil {
		m.handleSubmitError(ctx, o, err)
		return
	}

	m.mu.Lock()
	o.ExchangeID = ack.ExchangeID
	if err := o.setState(StateAcknowledged); err != nil {
		m.mu.Unlock()
		log.Printf("lifecycle: %v", err)
		return
	}
	m.mu.Unlock()
	m.persist(ctx, o)
	m.bus.Publish(events.EventOrderAcked, m.update(o))
}

func (m *Manager) handleSubmitError(ctx context.Context, o *Order, err error) {
	switch {
	case exchange.IsRejection(err):
		m.fail(ctx, o, err.Error())

	case exchange.IsAuth(err):
		m.fail(ctx, o, err.Error())
		m.ledger.Trip(ctx, "exchange authentication failed")
		monitor.TradingEnabled.Set(0)
		m.bus.Publish(events.EventRiskTripped, events.RiskTrip{
			Reason: "exchange authentication failed", At: time.Now(),
		})

	case exchange.IsRateLimit(err):
		wait := baseBackoff
		var rl *exchange.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		log.Printf("lifecycle: order %s rate limited, resubmitting after %v", o.ID(), wait)
		m.requeueAfter(ctx, o, wait)

	case exchange.IsTimeout(err):
		// The venue may or may not hold this order. It stays Submitted and
		// the resolver decides from PollOrderStatus.
		log.Printf("lifecycle: order %s submit timed out, resolving", o.ID())
		m.wg.Add(1)
		go m.resolveAmbiguous(ctx, o)

	case exchange.IsTransport(err):
		m.mu.Lock()
		attempts := o.attempts
		m.mu.Unlock()
		if attempts >= maxSubmitAttempts {
			m.fail(ctx, o, fmt.Sprintf("submit failed after %d attempts: %v", attempts, err))
			return
		}
		monitor.SubmitRetries.Inc()
		m.requeueAfter(ctx, o, backoff(attempts))

	default:
		m.fail(ctx, o, err.Error())
	}
}

// resolveAmbiguous polls by client order id after a submit timeout. A
// not-found answer proves the venue never saw the order, making a retry
// safe; any other answer adopts the venue's view.
func (m *Manager) resolveAmbiguous(ctx context.Context, o *Order) {
	defer m.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.ambiguity):
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	st, err := m.client.PollOrderStatus(ctx, o.Intent.Pair, o.ID())
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		m.mu.Lock()
		if o.cancelRequested {
			if serr := o.setState(StateCancelled); serr != nil {
				log.Printf("lifecycle: %v", serr)
			}
			m.mu.Unlock()
			m.finishTerminal(ctx, o, events.EventOrderCancelled, "")
			return
		}
		attempts := o.attempts
		m.mu.Unlock()
		if attempts >= maxSubmitAttempts {
			m.fail(ctx, o, "submit attempts exhausted while ambiguous")
			return
		}
		monitor.SubmitRetries.Inc()
		m.requeueAfter(ctx, o, backoff(attempts))

	case err != nil:
		// still unknown, try again later rather than risking a duplicate
		log.Printf("lifecycle: order %s still ambiguous: %v", o.ID(), err)
		m.wg.Add(1)
		go m.resolveAmbiguous(ctx, o)

	default:
		m.mu.Lock()
		o.ExchangeID = st.ExchangeID
		m.mu.Unlock()
		m.applyStatus(ctx, o, st)
	}
}

func (m *Manager) requeueAfter(ctx context.Context, o *Order, wait time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			select {
			case m.queue <- o:
			case <-ctx.Done():
			}
		}
	}()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	var live []*Order
	for _, o := range m.orders {
		if o.State == StateAcknowledged || o.State == StatePartiallyFilled {
			live = append(live, o)
		}
	}
	m.mu.Unlock()

	for _, o := range live {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		st, err := m.client.PollOrderStatus(ctx, o.Intent.Pair, o.ExchangeID)
		if err != nil {
			log.Printf("lifecycle: poll order %s: %v", o.ID(), err)
			continue
		}
		m.applyStatus(ctx, o, st)
	}
}

// applyStatus folds a venue status snapshot into the order. Fills are
// applied as cumulative deltas so a repeated snapshot is a no-op.
func (m *Manager) applyStatus(ctx context.Context, o *Order, st exchange.OrderState) {
	m.mu.Lock()
	if o.State.Terminal() {
		m.mu.Unlock()
		return
	}
	newFill := st.FilledQty > o.FilledQty
	if newFill {
		o.FilledQty = st.FilledQty
		if st.AvgPrice > 0 {
			o.AvgPrice = st.AvgPrice
		}
	}

	var target State
	switch st.Status {
	case exchange.StatusNew:
		target = StateAcknowledged
	case exchange.StatusPartial:
		target = StatePartiallyFilled
	case exchange.StatusFilled:
		target = StateFilled
	case exchange.StatusCanceled, exchange.StatusExpired:
		target = StateCancelled
	case exchange.StatusRejected:
		target = StateFailed
	default:
		m.mu.Unlock()
		return
	}
	if target == o.State {
		m.mu.Unlock()
		if newFill {
			m.persist(ctx, o)
		}
		m.cancelOnVenue(ctx, o)
		return
	}
	if err := o.setState(target); err != nil {
		m.mu.Unlock()
		log.Printf("lifecycle: %v", err)
		return
	}
	m.mu.Unlock()

	switch target {
	case StateAcknowledged:
		m.persist(ctx, o)
		m.bus.Publish(events.EventOrderAcked, m.update(o))
		m.cancelOnVenue(ctx, o)
	case StatePartiallyFilled:
		m.persist(ctx, o)
		m.bus.Publish(events.EventOrderPartial, m.update(o))
		m.cancelOnVenue(ctx, o)
	case StateFilled:
		m.commitFill(ctx, o)
	case StateCancelled:
		// fills that landed before the cancel still count
		if o.FilledQty > 0 {
			m.commitPartialOnCancel(ctx, o)
		}
		m.finishTerminal(ctx, o, events.EventOrderCancelled, "")
	case StateFailed:
		m.finishTerminal(ctx, o, events.EventOrderFailed, "rejected by venue")
	}
}

// commitFill applies a fully filled order to the ledger and publishes the
// terminal event. The ledger commit and the event carry the realized P&L.
func (m *Manager) commitFill(ctx context.Context, o *Order) {
	pnl := 0.0
	switch o.Intent.Kind {
	case strategy.KindOpen:
		if err := m.ledger.ApplyOpen(ctx, positionFrom(o), tradeFrom(o, 0)); err != nil {
			log.Printf("lifecycle: commit open %s: %v", o.ID(), err)
		}
	case strategy.KindClose:
		pnl = realizedPnL(o)
		p := m.params.Params()
		res, err := m.ledger.ApplyClose(ctx, o.Intent.StrategyID, o.Intent.Pair,
			tradeFrom(o, pnl), p.MaxDailyLoss, p.MaxConsecutiveLosses)
		if err != nil {
			log.Printf("lifecycle: commit close %s: %v", o.ID(), err)
		} else {
			monitor.DailyPnL.Set(res.DailyPnL)
			monitor.ConsecutiveLosses.Set(float64(res.ConsecutiveLosses))
			if res.Tripped {
				monitor.TradingEnabled.Set(0)
				m.bus.Publish(events.EventRiskTripped, events.RiskTrip{
					Reason: "risk threshold reached", At: time.Now(),
				})
			}
		}
	}

	m.persist(ctx, o)
	monitor.OrdersTerminal.WithLabelValues(string(StateFilled)).Inc()
	u := m.update(o)
	u.PnL = pnl
	m.bus.Publish(events.EventOrderFilled, u)
}

// commitPartialOnCancel books whatever filled before the cancellation.
func (m *Manager) commitPartialOnCancel(ctx context.Context, o *Order) {
	switch o.Intent.Kind {
	case strategy.KindOpen:
		pos := positionFrom(o)
		pos.Qty = o.FilledQty
		if err := m.ledger.ApplyOpen(ctx, pos, tradeFrom(o, 0)); err != nil {
			log.Printf("lifecycle: commit partial open %s: %v", o.ID(), err)
		}
	case strategy.KindClose:
		pnl := realizedPnL(o)
		p := m.params.Params()
		if _, err := m.ledger.ApplyClose(ctx, o.Intent.StrategyID, o.Intent.Pair,
			tradeFrom(o, pnl), p.MaxDailyLoss, p.MaxConsecutiveLosses); err != nil {
			log.Printf("lifecycle: commit partial close %s: %v", o.ID(), err)
		}
	}
}

func (m *Manager) fail(ctx context.Context, o *Order, reason string) {
	m.mu.Lock()
	if o.State.Terminal() {
		m.mu.Unlock()
		return
	}
	if err := o.setState(StateFailed); err != nil {
		m.mu.Unlock()
		log.Printf("lifecycle: %v", err)
		return
	}
	o.lastError = reason
	m.mu.Unlock()
	m.finishTerminal(ctx, o, events.EventOrderFailed, reason)
}

func (m *Manager) finishTerminal(ctx context.Context, o *Order, event events.Event, errMsg string) {
	m.persist(ctx, o)
	m.mu.Lock()
	state := o.State
	m.mu.Unlock()
	monitor.OrdersTerminal.WithLabelValues(string(state)).Inc()
	u := m.update(o)
	u.Error = errMsg
	m.bus.Publish(event, u)
}

func (m *Manager) update(o *Order) events.OrderUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(o)
}

func (m *Manager) updateLocked(o *Order) events.OrderUpdate {
	return events.OrderUpdate{
		OrderID:    o.Intent.ID,
		ExchangeID: o.ExchangeID,
		StrategyID: o.Intent.StrategyID,
		Pair:       o.Intent.Pair,
		Kind:       string(o.Intent.Kind),
		Side:       string(o.Intent.Side),
		State:      string(o.State),
		LegGroup:   o.Intent.LegGroup,
		FilledQty:  o.FilledQty,
		AvgPrice:   o.AvgPrice,
		Error:      o.lastError,
		At:         time.Now(),
	}
}

func (m *Manager) persist(ctx context.Context, o *Order) {
	m.mu.Lock()
	row := db.Order{
		ID:           o.Intent.ID,
		ExchangeID:   o.ExchangeID,
		StrategyID:   o.Intent.StrategyID,
		LegGroup:     o.Intent.LegGroup,
		Pair:         o.Intent.Pair,
		Side:         string(o.Intent.Side),
		Kind:         string(o.Intent.Kind),
		Type:         string(orderType(o.Intent)),
		Qty:          o.Intent.Qty,
		Price:        o.Intent.LimitPrice,
		StopPrice:    o.Intent.StopPrice,
		TargetPrice:  o.Intent.TargetPrice,
		Leverage:     o.Intent.Leverage,
		EntryPrice:   o.EntryPrice,
		FilledQty:    o.FilledQty,
		AvgFillPrice: o.AvgPrice,
		State:        string(o.State),
		SubmittedAt:  o.SubmittedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	m.mu.Unlock()
	if err := m.store.UpsertOrder(ctx, row); err != nil {
		log.Printf("lifecycle: persist order %s: %v", row.ID, err)
	}
}

// realizedPnL prices a close fill against the entry captured at submit
// time. Leverage scales the result; spot positions use a factor of one.
func realizedPnL(o *Order) float64 {
	direction := 1.0
	if o.Intent.Side == account.SideShort {
		direction = -1
	}
	lev := 1.0
	if o.Intent.Leverage > 1 {
		lev = float64(o.Intent.Leverage)
	}
	return (o.AvgPrice - o.EntryPrice) * o.FilledQty * direction * lev
}

func positionFrom(o *Order) account.Position {
	return account.Position{
		StrategyID:  o.Intent.StrategyID,
		Pair:        o.Intent.Pair,
		Side:        o.Intent.Side,
		Qty:         o.FilledQty,
		EntryPrice:  o.AvgPrice,
		StopPrice:   o.Intent.StopPrice,
		TargetPrice: o.Intent.TargetPrice,
		Leverage:    o.Intent.Leverage,
		OpenedAt:    time.Now(),
	}
}

func tradeFrom(o *Order, pnl float64) account.TradeRecord {
	return account.TradeRecord{
		ID:         o.Intent.ID + ":fill",
		OrderID:    o.Intent.ID,
		StrategyID: o.Intent.StrategyID,
		Pair:       o.Intent.Pair,
		Side:       o.Intent.Side,
		Qty:        o.FilledQty,
		Price:      o.AvgPrice,
		PnL:        pnl,
		At:         time.Now(),
	}
}

func orderType(intent strategy.Intent) exchange.OrderType {
	if intent.LimitPrice > 0 {
		return exchange.OrderTypeLimit
	}
	return exchange.OrderTypeMarket
}

func buildRequest(intent strategy.Intent) exchange.OrderRequest {
	side := exchange.SideBuy
	if intent.Side == account.SideShort {
		side = exchange.SideSell
	}
	// closing reverses: selling exits a long, buying exits a short
	if intent.Kind == strategy.KindClose {
		side = side.Opposite()
	}
	return exchange.OrderRequest{
		Pair:       intent.Pair,
		Side:       side,
		Type:       orderType(intent),
		Qty:        intent.Qty,
		Price:      intent.LimitPrice,
		ClientID:   intent.ID,
		ReduceOnly: intent.Kind == strategy.KindClose,
		Leverage:   intent.Leverage,
	}
}

func backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
