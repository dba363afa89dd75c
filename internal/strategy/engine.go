package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"scalpbot/internal/account"
	"scalpbot/internal/events"
	"scalpbot/internal/indicators"
	"scalpbot/internal/monitor"
	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

// Dispatcher accepts risk-gated intents for execution. The lifecycle
// manager implements it.
type Dispatcher interface {
	// Submit gates the intent and, if approved, drives it through the order
	// lifecycle. A rejection is reported through the returned error.
	Submit(ctx context.Context, intent Intent) error
	// Cancel withdraws a working order by client order id.
	Cancel(ctx context.Context, orderID string) error
}

// instance bundles a strategy with the engine-tracked phase and leg book.
type instance struct {
	strat Strategy
	phase Phase
	// legs maps client order id to its intent while it is in flight. For a
	// dual-sided entry both legs share a LegGroup and the instance stays
	// Pending until one of them resolves.
	legs   map[string]Intent
	paused bool
}

// Engine drives strategy evaluation. One goroutine per pair consumes ticks,
// updates indicators and evaluates every non-suppressed instance for that
// pair in registration order. A second goroutine consumes order updates and
// advances the phase machine.
type Engine struct {
	mu        sync.Mutex
	instances map[string]*instance // by strategy id
	byPair    map[string][]string  // pair to strategy ids, registration order
	inactive  map[string]bool      // pairs excluded from evaluation

	indicators *indicators.Engine
	ledger     *account.Ledger
	dispatch   Dispatcher
	bus        *events.Bus
	store      *db.Store

	wg sync.WaitGroup
}

// NewEngine creates a strategy engine.
func NewEngine(ind *indicators.Engine, ledger *account.Ledger, dispatch Dispatcher, bus *events.Bus, store *db.Store) *Engine {
	return &Engine{
		instances:  make(map[string]*instance),
		byPair:     make(map[string][]string),
		inactive:   make(map[string]bool),
		indicators: ind,
		ledger:     ledger,
		dispatch:   dispatch,
		bus:        bus,
		store:      store,
	}
}

// Register adds a strategy instance. Instances with a restored open position
// start in the Open phase.
func (e *Engine) Register(s Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.instances[s.ID()]; ok {
		return fmt.Errorf("strategy %s already registered", s.ID())
	}
	inst := &instance{strat: s, phase: PhaseIdle, legs: make(map[string]Intent)}
	if _, ok := e.ledger.Position(s.ID(), s.Pair()); ok {
		inst.phase = PhaseOpen
	}
	e.instances[s.ID()] = inst
	e.byPair[s.Pair()] = append(e.byPair[s.Pair()], s.ID())
	return nil
}

// Pause stops evaluation for an instance without touching open positions or
// in-flight orders. Returns false if the id is unknown.
func (e *Engine) Pause(id string, paused bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	if !ok {
		return false
	}
	inst.paused = paused
	return true
}

// SetActivePairs limits evaluation to the given pairs. Pairs the engine
// knows about but that are missing from the list stop producing new intents;
// open positions and in-flight orders are untouched. Unknown pairs in the
// list are ignored and reported back.
func (e *Engine) SetActivePairs(pairs []string) (unknown []string) {
	want := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		want[p] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range pairs {
		if _, ok := e.byPair[p]; !ok {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) > 0 {
		return unknown
	}
	for pair := range e.byPair {
		e.inactive[pair] = !want[pair]
	}
	return nil
}

// ActivePairs reports the pairs currently being evaluated.
func (e *Engine) ActivePairs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for pair := range e.byPair {
		if !e.inactive[pair] {
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out
}

// Phases reports the current phase per strategy id.
func (e *Engine) Phases() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.instances))
	for id, inst := range e.instances {
		out[id] = inst.phase.String()
	}
	return out
}

// Start launches the order-update consumer. Call StartPair once per traded
// pair afterwards.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.consumeOrderUpdates(ctx)
}

// StartPair consumes ticks for one pair until the context ends or the
// channel closes.
func (e *Engine) StartPair(ctx context.Context, pair string, ticks <-chan exchange.Tick) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-ticks:
				if !ok {
					log.Printf("strategy engine: tick feed for %s closed", pair)
					return
				}
				e.onTick(ctx, t)
			}
		}
	}()
}

// Wait blocks until all engine goroutines have exited.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) onTick(ctx context.Context, t exchange.Tick) {
	snap := e.indicators.Update(t)
	monitor.TicksProcessed.WithLabelValues(t.Pair).Inc()
	e.bus.Publish(events.EventPriceTick, t)

	e.mu.Lock()
	if e.inactive[t.Pair] {
		e.mu.Unlock()
		return
	}
	ids := e.byPair[t.Pair]
	type pending struct {
		inst    *instance
		intents []Intent
	}
	var work []pending
	for _, id := range ids {
		inst := e.instances[id]
		if inst.paused || inst.phase == PhasePending || inst.phase == PhaseClosing {
			continue
		}
		var pos *account.Position
		if p, ok := e.ledger.Position(id, t.Pair); ok {
			pos = &p
		}
		intents, err := inst.strat.Evaluate(snap, pos)
		if err != nil {
			log.Printf("strategy %s: evaluate: %v", id, err)
			continue
		}
		if len(intents) == 0 {
			continue
		}
		work = append(work, pending{inst: inst, intents: intents})
	}

	// Assign ids and advance phases while still holding the lock so a burst
	// of ticks cannot double-emit.
	for i := range work {
		w := &work[i]
		group := ""
		if len(w.intents) > 1 {
			group = uuid.NewString()
		}
		for j := range w.intents {
			w.intents[j].ID = uuid.NewString()
			w.intents[j].LegGroup = group
			w.inst.legs[w.intents[j].ID] = w.intents[j]
		}
		switch w.intents[0].Kind {
		case KindOpen:
			w.inst.phase = PhasePending
		case KindClose:
			w.inst.phase = PhaseClosing
		}
	}
	e.mu.Unlock()

	for _, w := range work {
		for _, intent := range w.intents {
			if err := e.dispatch.Submit(ctx, intent); err != nil {
				log.Printf("strategy %s: intent %s rejected: %v", intent.StrategyID, intent.ID, err)
				e.dropLeg(intent.StrategyID, intent.ID)
			}
		}
	}
}

func (e *Engine) consumeOrderUpdates(ctx context.Context) {
	defer e.wg.Done()

	filled, unsubFilled := e.bus.Subscribe(events.EventOrderFilled, 64)
	cancelled, unsubCancelled := e.bus.Subscribe(events.EventOrderCancelled, 64)
	failed, unsubFailed := e.bus.Subscribe(events.EventOrderFailed, 64)
	defer unsubFilled()
	defer unsubCancelled()
	defer unsubFailed()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-filled:
			if u, ok := p.(events.OrderUpdate); ok {
				e.onFilled(ctx, u)
			}
		case p := <-cancelled:
			if u, ok := p.(events.OrderUpdate); ok {
				e.onResolved(u)
			}
		case p := <-failed:
			if u, ok := p.(events.OrderUpdate); ok {
				e.onResolved(u)
			}
		}
	}
}

// onFilled advances the phase on a terminal fill and withdraws sibling legs
// of a dual-sided entry.
func (e *Engine) onFilled(ctx context.Context, u events.OrderUpdate) {
	var siblings []string

	e.mu.Lock()
	inst, ok := e.instances[u.StrategyID]
	if ok {
		leg, known := inst.legs[u.OrderID]
		delete(inst.legs, u.OrderID)
		if known && leg.LegGroup != "" {
			for id, other := range inst.legs {
				if other.LegGroup == leg.LegGroup {
					siblings = append(siblings, id)
					delete(inst.legs, id)
				}
			}
		}
		switch u.Kind {
		case string(KindOpen):
			inst.phase = PhaseOpen
		case string(KindClose):
			inst.phase = PhaseIdle
		}
	}
	e.mu.Unlock()

	for _, id := range siblings {
		if err := e.dispatch.Cancel(ctx, id); err != nil {
			log.Printf("strategy %s: withdrawing sibling leg %s: %v", u.StrategyID, id, err)
		}
	}
}

// onResolved handles cancelled and failed legs: the leg leaves the book and
// the phase falls back once no legs remain in flight.
func (e *Engine) onResolved(u events.OrderUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[u.StrategyID]
	if !ok {
		return
	}
	delete(inst.legs, u.OrderID)
	if len(inst.legs) > 0 {
		return
	}
	switch inst.phase {
	case PhasePending:
		inst.phase = PhaseIdle
	case PhaseClosing:
		// close failed, the position is still open
		inst.phase = PhaseOpen
	}
}

func (e *Engine) dropLeg(strategyID, orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[strategyID]
	if !ok {
		return
	}
	delete(inst.legs, orderID)
	if len(inst.legs) > 0 {
		return
	}
	switch inst.phase {
	case PhasePending:
		inst.phase = PhaseIdle
	case PhaseClosing:
		inst.phase = PhaseOpen
	}
}

// SaveStates persists every instance's serializable state.
func (e *Engine) SaveStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for id, inst := range e.instances {
		state, err := inst.strat.GetState()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("serialize state for %s: %w", id, err)
			}
			continue
		}
		if err := e.store.SaveStrategyState(ctx, id, state); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persist state for %s: %w", id, err)
		}
	}
	return firstErr
}

// LoadStates restores persisted state into registered instances. Missing
// rows are not an error: the instance starts fresh.
func (e *Engine) LoadStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, inst := range e.instances {
		raw, err := e.store.LoadStrategyState(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrNoRows) {
				continue
			}
			return fmt.Errorf("load state for %s: %w", id, err)
		}
		if err := inst.strat.SetState(json.RawMessage(raw)); err != nil {
			log.Printf("strategy %s: discarding unreadable persisted state: %v", id, err)
		}
	}
	return nil
}
