package strategy

import (
	"encoding/json"

	"scalpbot/internal/account"
	"scalpbot/internal/indicators"
)

// IntentKind classifies what a strategy proposes to do.
type IntentKind string

const (
	KindOpen       IntentKind = "OPEN"
	KindClose      IntentKind = "CLOSE"
	KindAdjustStop IntentKind = "ADJUST_STOP"
)

// Intent is a proposed trade action, not yet risk-checked. The risk gate may
// shrink Qty before the lifecycle manager turns it into an order.
type Intent struct {
	ID         string // client order id, assigned when the intent is emitted
	StrategyID string
	Pair       string
	Kind       IntentKind
	Side       account.Side // direction of the position the intent concerns

	Qty         float64
	LimitPrice  float64 // 0 means market
	StopPrice   float64
	TargetPrice float64
	Leverage    int // futures only, 0 for spot

	// LegGroup links complementary dual-sided legs (range scalp); when one
	// leg fills the others are withdrawn.
	LegGroup string
	Reason   string
}

// Strategy is the single capability all variants implement: turn the latest
// indicator snapshot plus current position state into zero or more intents.
// pos is nil when no position is open for this instance.
type Strategy interface {
	// ID returns the unique instance id.
	ID() string
	// Name returns the human-readable name.
	Name() string
	// Pair returns the traded pair.
	Pair() string
	// Evaluate emits intents for this tick, or none.
	Evaluate(snap indicators.Snapshot, pos *account.Position) ([]Intent, error)

	// GetState returns the serializable state of the strategy.
	GetState() (json.RawMessage, error)
	// SetState restores the state of the strategy.
	SetState(data json.RawMessage) error
}

// Phase is the engine-tracked lifecycle of a strategy instance per pair.
// Only Idle and Open instances are evaluated; Pending and Closing suppress
// evaluation so one signal never produces two orders.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseOpen
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePending:
		return "PENDING"
	case PhaseOpen:
		return "OPEN"
	case PhaseClosing:
		return "CLOSING"
	}
	return "UNKNOWN"
}

// exitIntent builds the market close intent shared by all variants. When
// stop and target are both satisfied on the same tick, the trigger closer to
// the current price wins.
func exitIntent(s Strategy, pos *account.Position, price float64) *Intent {
	stopHit, targetHit := false, false
	if pos.Side == account.SideLong {
		stopHit = pos.StopPrice > 0 && price <= pos.StopPrice
		targetHit = pos.TargetPrice > 0 && price >= pos.TargetPrice
	} else {
		stopHit = pos.StopPrice > 0 && price >= pos.StopPrice
		targetHit = pos.TargetPrice > 0 && price <= pos.TargetPrice
	}
	if !stopHit && !targetHit {
		return nil
	}

	reason := "stop-loss"
	if targetHit && !stopHit {
		reason = "take-profit"
	} else if stopHit && targetHit {
		// both triggered: closest by price distance decides
		if abs(price-pos.TargetPrice) < abs(price-pos.StopPrice) {
			reason = "take-profit"
		}
	}

	return &Intent{
		StrategyID: s.ID(),
		Pair:       pos.Pair,
		Kind:       KindClose,
		Side:       pos.Side,
		Qty:        pos.Qty,
		Leverage:   pos.Leverage,
		Reason:     reason,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
