package strategy

import (
	"encoding/json"
	"fmt"
	"log"

	"scalpbot/internal/account"
	"scalpbot/internal/indicators"
)

// FuturesScalp trades with leverage on an SMA/RSI bias. Intents carry the
// requested leverage; before emission the liquidation distance at that
// leverage must clear the configured safety margin, on top of whatever the
// risk gate enforces later.
type FuturesScalp struct {
	id        string
	pair      string
	size      float64
	target    float64 // profit target, fraction
	stop      float64 // stop loss, fraction
	leverage  int
	liqMargin float64 // min fraction between entry and liquidation price

	prevPrice float64
}

// NewFuturesScalp creates a leveraged futures instance.
func NewFuturesScalp(id, pair string, size, profitTarget, stopLoss float64, leverage int, liqMargin float64) *FuturesScalp {
	if leverage < 1 {
		leverage = 1
	}
	return &FuturesScalp{
		id:        id,
		pair:      pair,
		size:      size,
		target:    profitTarget,
		stop:      stopLoss,
		leverage:  leverage,
		liqMargin: liqMargin,
	}
}

func (s *FuturesScalp) ID() string   { return s.id }
func (s *FuturesScalp) Pair() string { return s.pair }

func (s *FuturesScalp) Name() string {
	return fmt.Sprintf("Futures_%dx_%.2f%%_%.2f%%", s.leverage, s.target*100, s.stop*100)
}

// SetLeverage updates the requested leverage (operator command).
func (s *FuturesScalp) SetLeverage(leverage int) {
	if leverage < 1 {
		return
	}
	s.leverage = leverage
}

type futuresState struct {
	PrevPrice float64 `json:"prev_price"`
	Leverage  int     `json:"leverage"`
}

func (s *FuturesScalp) GetState() (json.RawMessage, error) {
	return json.Marshal(futuresState{PrevPrice: s.prevPrice, Leverage: s.leverage})
}

func (s *FuturesScalp) SetState(data json.RawMessage) error {
	var st futuresState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.prevPrice = st.PrevPrice
	if st.Leverage > 0 {
		s.leverage = st.Leverage
	}
	return nil
}

func (s *FuturesScalp) Evaluate(snap indicators.Snapshot, pos *account.Position) ([]Intent, error) {
	if pos != nil {
		if exit := exitIntent(s, pos, snap.Price); exit != nil {
			return []Intent{*exit}, nil
		}
		return nil, nil
	}

	if !snap.Ready || snap.Stale {
		s.prevPrice = snap.Price
		return nil, nil
	}
	prev := s.prevPrice
	s.prevPrice = snap.Price
	if prev == 0 {
		return nil, nil
	}

	price := snap.Price
	var side account.Side
	switch {
	case price > snap.SMASlow && snap.RSI < 70 && prev <= snap.SMASlow:
		side = account.SideLong
	case price < snap.SMASlow && snap.RSI > 30 && prev >= snap.SMASlow:
		side = account.SideShort
	default:
		return nil, nil
	}

	// Rough isolated-margin liquidation distance is 1/leverage of the entry
	// price. It must clear the safety margin plus the stop so the stop can
	// always fire before liquidation.
	liqDistance := 1.0 / float64(s.leverage)
	if liqDistance < s.liqMargin+s.stop {
		log.Printf("futures %s: suppressing %s, liquidation distance %.4f inside margin %.4f",
			s.id, side, liqDistance, s.liqMargin+s.stop)
		return nil, nil
	}

	stop := price * (1 - s.stop)
	targetPrice := price * (1 + s.target)
	if side == account.SideShort {
		stop = price * (1 + s.stop)
		targetPrice = price * (1 - s.target)
	}

	return []Intent{{
		StrategyID:  s.id,
		Pair:        s.pair,
		Kind:        KindOpen,
		Side:        side,
		Qty:         s.size,
		StopPrice:   stop,
		TargetPrice: targetPrice,
		Leverage:    s.leverage,
		Reason:      fmt.Sprintf("futures %s %dx: price %.4f vs sma %.4f, rsi %.1f", side, s.leverage, price, snap.SMASlow, snap.RSI),
	}}, nil
}
