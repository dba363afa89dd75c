package strategy

import (
	"encoding/json"
	"fmt"

	"scalpbot/internal/account"
	"scalpbot/internal/indicators"
)

// entryOffset nudges range entries past the level for confirmation: longs
// rest slightly above support, shorts slightly below resistance.
const entryOffset = 0.0005

// levelDrift is the fractional change that counts as a new support or
// resistance level.
const levelDrift = 0.005

// RangeScalp bets on reversal at the rolling high/low bounds: it rests a
// long near the low and a short near the high simultaneously, each with its
// own stop. Only one side may be live per pair; when one fills the engine
// withdraws the opposite leg.
type RangeScalp struct {
	id     string
	pair   string
	size   float64
	target float64 // profit target, fraction
	stop   float64 // stop loss, fraction (original uses a wide 10%)

	support    float64
	resistance float64
}

// NewRangeScalp creates a range scalp instance.
func NewRangeScalp(id, pair string, size, profitTarget, stopLoss float64) *RangeScalp {
	return &RangeScalp{
		id:     id,
		pair:   pair,
		size:   size,
		target: profitTarget,
		stop:   stopLoss,
	}
}

func (s *RangeScalp) ID() string   { return s.id }
func (s *RangeScalp) Pair() string { return s.pair }

func (s *RangeScalp) Name() string {
	return fmt.Sprintf("RangeScalp_%.2f%%_%.2f%%", s.target*100, s.stop*100)
}

type rangeState struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

func (s *RangeScalp) GetState() (json.RawMessage, error) {
	return json.Marshal(rangeState{Support: s.support, Resistance: s.resistance})
}

func (s *RangeScalp) SetState(data json.RawMessage) error {
	var st rangeState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	s.support = st.Support
	s.resistance = st.Resistance
	return nil
}

func (s *RangeScalp) Evaluate(snap indicators.Snapshot, pos *account.Position) ([]Intent, error) {
	if pos != nil {
		if exit := exitIntent(s, pos, snap.Price); exit != nil {
			return []Intent{*exit}, nil
		}
		return nil, nil
	}

	s.updateLevels(snap)
	if s.support <= 0 || s.resistance <= s.support {
		return nil, nil
	}
	// Price outside the range means the range has broken; wait for new levels.
	if snap.Price <= s.support || snap.Price >= s.resistance {
		return nil, nil
	}

	longEntry := s.support * (1 + entryOffset)
	shortEntry := s.resistance * (1 - entryOffset)

	long := Intent{
		StrategyID:  s.id,
		Pair:        s.pair,
		Kind:        KindOpen,
		Side:        account.SideLong,
		Qty:         s.size,
		LimitPrice:  longEntry,
		StopPrice:   s.support * (1 - s.stop),
		TargetPrice: longEntry * (1 + s.target),
		Reason:      fmt.Sprintf("range long at support %.4f", s.support),
	}
	short := Intent{
		StrategyID:  s.id,
		Pair:        s.pair,
		Kind:        KindOpen,
		Side:        account.SideShort,
		Qty:         s.size,
		LimitPrice:  shortEntry,
		StopPrice:   s.resistance * (1 + s.stop),
		TargetPrice: shortEntry * (1 - s.target),
		Reason:      fmt.Sprintf("range short at resistance %.4f", s.resistance),
	}
	return []Intent{long, short}, nil
}

// updateLevels adopts the rolling window high/low when they moved more than
// levelDrift from the current levels.
func (s *RangeScalp) updateLevels(snap indicators.Snapshot) {
	if snap.RangeLow > 0 {
		if s.support == 0 || abs(snap.RangeLow-s.support)/s.support > levelDrift {
			s.support = snap.RangeLow
		}
	}
	if snap.RangeHigh > 0 {
		if s.resistance == 0 || abs(snap.RangeHigh-s.resistance)/s.resistance > levelDrift {
			s.resistance = snap.RangeHigh
		}
	}
}
