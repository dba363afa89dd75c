package strategy

import (
	"encoding/json"
	"fmt"

	"scalpbot/internal/account"
	"scalpbot/internal/indicators"
)

// MomentumScalp opens on moving-average crossover confirmed by RSI and a
// Bollinger middle-band cross, targets a fixed profit percentage and exits
// on the stop-loss percentage or the target, whichever triggers.
type MomentumScalp struct {
	id     string
	pair   string
	size   float64 // requested quantity per entry
	target float64 // profit target, fraction (0.005 = 0.5%)
	stop   float64 // stop loss, fraction

	prevFast  float64
	prevSlow  float64
	prevPrice float64
}

// NewMomentumScalp creates a momentum scalp instance.
func NewMomentumScalp(id, pair string, size, profitTarget, stopLoss float64) *MomentumScalp {
	return &MomentumScalp{
		id:     id,
		pair:   pair,
		size:   size,
		target: profitTarget,
		stop:   stopLoss,
	}
}

func (s *MomentumScalp) ID() string   { return s.id }
func (s *MomentumScalp) Pair() string { return s.pair }

func (s *MomentumScalp) Name() string {
	return fmt.Sprintf("MomentumScalp_%.2f%%_%.2f%%", s.target*100, s.stop*100)
}

type momentumState struct {
	PrevFast  float64 `json:"prev_fast"`
	PrevSlow  float64 `json:"prev_slow"`
	PrevPrice float64 `json:"prev_price"`
}

func (s *MomentumScalp) GetState() (json.RawMessage, error) {
	return json.Marshal(momentumState{PrevFast: s.prevFast, PrevSlow: s.prevSlow, PrevPrice: s.prevPrice})
}

func (s *MomentumScalp) SetState(data json.RawMessage) error {
	var st momentumState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.prevFast = st.PrevFast
	s.prevSlow = st.PrevSlow
	s.prevPrice = st.PrevPrice
	return nil
}

func (s *MomentumScalp) Evaluate(snap indicators.Snapshot, pos *account.Position) ([]Intent, error) {
	if pos != nil {
		if exit := exitIntent(s, pos, snap.Price); exit != nil {
			return []Intent{*exit}, nil
		}
		return nil, nil
	}

	if !snap.Ready || snap.Stale {
		s.remember(snap)
		return nil, nil
	}

	prevFast, prevSlow, prevPrice := s.prevFast, s.prevSlow, s.prevPrice
	s.remember(snap)
	if prevFast == 0 || prevSlow == 0 {
		return nil, nil
	}

	price := snap.Price
	rsiOK := snap.RSI > 30 && snap.RSI < 70

	// Bullish: fast above slow with a fresh cross of the middle band, RSI in
	// the normal range.
	bullish := snap.SMAFast > snap.SMASlow && rsiOK &&
		prevPrice <= snap.BBMiddle && price > snap.BBMiddle
	// Golden cross on its own also qualifies.
	if !bullish {
		bullish = prevFast <= prevSlow && snap.SMAFast > snap.SMASlow && rsiOK
	}

	bearish := snap.SMAFast < snap.SMASlow && rsiOK &&
		prevPrice >= snap.BBMiddle && price < snap.BBMiddle
	if !bearish {
		bearish = prevFast >= prevSlow && snap.SMAFast < snap.SMASlow && rsiOK
	}

	switch {
	case bullish:
		return []Intent{{
			StrategyID:  s.id,
			Pair:        s.pair,
			Kind:        KindOpen,
			Side:        account.SideLong,
			Qty:         s.size,
			StopPrice:   price * (1 - s.stop),
			TargetPrice: price * (1 + s.target),
			Reason:      fmt.Sprintf("momentum long: fast %.4f > slow %.4f, rsi %.1f", snap.SMAFast, snap.SMASlow, snap.RSI),
		}}, nil
	case bearish:
		return []Intent{{
			StrategyID:  s.id,
			Pair:        s.pair,
			Kind:        KindOpen,
			Side:        account.SideShort,
			Qty:         s.size,
			StopPrice:   price * (1 + s.stop),
			TargetPrice: price * (1 - s.target),
			Reason:      fmt.Sprintf("momentum short: fast %.4f < slow %.4f, rsi %.1f", snap.SMAFast, snap.SMASlow, snap.RSI),
		}}, nil
	}
	return nil, nil
}

func (s *MomentumScalp) remember(snap indicators.Snapshot) {
	if snap.Ready && !snap.Stale {
		s.prevFast = snap.SMAFast
		s.prevSlow = snap.SMASlow
	}
	s.prevPrice = snap.Price
}
