package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sim is an in-process venue used for paper trading and tests. Market orders
// fill at the last tick price, limit and stop orders rest until a pushed tick
// crosses them. Fault injection hooks simulate the failure modes a live
// venue exhibits (timeouts with and without an order being created).
type Sim struct {
	mu       sync.Mutex
	last     map[string]float64
	orders   map[string]*simOrder
	byClient map[string]string
	subs     map[string][]chan Tick
	balances []Balance
	seq      int

	// fault injection, consumed by the next SubmitOrder call
	failSubmit   []error
	timeoutNext  bool
	timeoutGhost bool // when true the timed-out order is never created
}

type simOrder struct {
	req    OrderRequest
	id     string
	status OrderStatus
	filled float64
	avg    float64
}

// NewSim creates a simulated venue with the given starting balances.
func NewSim(balances ...Balance) *Sim {
	return &Sim{
		last:     make(map[string]float64),
		orders:   make(map[string]*simOrder),
		byClient: make(map[string]string),
		subs:     make(map[string][]chan Tick),
		balances: balances,
	}
}

// FailSubmitWith queues err to be returned by the next SubmitOrder call.
func (s *Sim) FailSubmitWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmit = append(s.failSubmit, err)
}

// TimeoutNextSubmit makes the next SubmitOrder return an ambiguous timeout.
// When created is false the venue never sees the order (poll reports
// ErrOrderNotFound); when true the order rests venue-side despite the error.
func (s *Sim) TimeoutNextSubmit(created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutNext = true
	s.timeoutGhost = !created
}

// PushTick publishes a tick to subscribers and matches resting orders.
func (s *Sim) PushTick(t Tick) {
	s.mu.Lock()
	s.last[t.Pair] = t.Price
	s.matchLocked(t.Pair, t.Price)
	subs := append([]chan Tick(nil), s.subs[t.Pair]...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			// slow consumer, drop
		}
	}
}

// LastPrice returns the most recent pushed price for a pair.
func (s *Sim) LastPrice(pair string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[pair]
}

func (s *Sim) SubscribeTicks(ctx context.Context, pair string) (<-chan Tick, func(), error) {
	ch := make(chan Tick, 256)

	s.mu.Lock()
	s.subs[pair] = append(s.subs[pair], ch)
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs[pair] {
			if c == ch {
				s.subs[pair] = append(s.subs[pair][:i], s.subs[pair][i+1:]...)
				close(c)
				break
			}
		}
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}

func (s *Sim) SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failSubmit) > 0 {
		err := s.failSubmit[0]
		s.failSubmit = s.failSubmit[1:]
		return OrderAck{}, err
	}

	if req.Qty <= 0 {
		return OrderAck{}, &RejectionError{Code: "INVALID_QTY", Msg: "quantity must be positive"}
	}
	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return OrderAck{}, &RejectionError{Code: "INVALID_PRICE", Msg: "limit order requires price"}
	}

	if s.timeoutNext {
		s.timeoutNext = false
		ghost := s.timeoutGhost
		s.timeoutGhost = false
		if !ghost {
			s.createLocked(req)
		}
		return OrderAck{}, &TransportError{Op: "SubmitOrder", Timeout: true, Err: errors.New("simulated timeout")}
	}

	o := s.createLocked(req)
	return OrderAck{ExchangeID: o.id, ClientID: req.ClientID, Status: o.status}, nil
}

func (s *Sim) createLocked(req OrderRequest) *simOrder {
	s.seq++
	o := &simOrder{
		req:    req,
		id:     fmt.Sprintf("SIM-%d", s.seq),
		status: StatusNew,
	}
	s.orders[o.id] = o
	if req.ClientID != "" {
		s.byClient[req.ClientID] = o.id
	}

	if req.Type == OrderTypeMarket {
		price := s.last[req.Pair]
		if price <= 0 {
			price = req.Price
		}
		s.fillLocked(o, price)
	} else if price, ok := s.last[req.Pair]; ok {
		s.tryMatchLocked(o, price)
	}
	return o
}

func (s *Sim) CancelOrder(ctx context.Context, pair, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.lookupLocked(exchangeID)
	if !ok {
		return ErrOrderNotFound
	}
	if o.status.Terminal() {
		// cancel racing a fill is a no-op, not an error
		return nil
	}
	o.status = StatusCanceled
	return nil
}

func (s *Sim) PollOrderStatus(ctx context.Context, pair, exchangeID string) (OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.lookupLocked(exchangeID)
	if !ok {
		return OrderState{}, ErrOrderNotFound
	}
	return OrderState{
		ExchangeID: o.id,
		ClientID:   o.req.ClientID,
		Status:     o.status,
		FilledQty:  o.filled,
		AvgPrice:   o.avg,
	}, nil
}

func (s *Sim) GetBalance(ctx context.Context) ([]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Balance, len(s.balances))
	copy(out, s.balances)
	return out, nil
}

// lookupLocked resolves either an exchange id or a client id.
func (s *Sim) lookupLocked(id string) (*simOrder, bool) {
	if o, ok := s.orders[id]; ok {
		return o, true
	}
	if exID, ok := s.byClient[id]; ok {
		return s.orders[exID], true
	}
	return nil, false
}

func (s *Sim) matchLocked(pair string, price float64) {
	for _, o := range s.orders {
		if o.req.Pair != pair || o.status.Terminal() {
			continue
		}
		s.tryMatchLocked(o, price)
	}
}

func (s *Sim) tryMatchLocked(o *simOrder, price float64) {
	switch o.req.Type {
	case OrderTypeLimit:
		if (o.req.Side == SideBuy && price <= o.req.Price) ||
			(o.req.Side == SideSell && price >= o.req.Price) {
			s.fillLocked(o, o.req.Price)
		}
	case OrderTypeStopLoss:
		if (o.req.Side == SideSell && price <= o.req.StopPrice) ||
			(o.req.Side == SideBuy && price >= o.req.StopPrice) {
			s.fillLocked(o, price)
		}
	case OrderTypeTakeProfit:
		if (o.req.Side == SideSell && price >= o.req.StopPrice) ||
			(o.req.Side == SideBuy && price <= o.req.StopPrice) {
			s.fillLocked(o, price)
		}
	}
}

func (s *Sim) fillLocked(o *simOrder, price float64) {
	o.filled = o.req.Qty
	o.avg = price
	o.status = StatusFilled
}

var _ Client = (*Sim)(nil)

// SimTick builds a tick with the current timestamp, for tests and warm-up.
func SimTick(pair string, price float64) Tick {
	return Tick{Pair: pair, Price: price, Volume: 1, Time: time.Now()}
}
