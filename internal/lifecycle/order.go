package lifecycle

import (
	"fmt"
	"time"

	"scalpbot/internal/strategy"
)

// State is the manager-side order lifecycle state. Venue statuses map into
// these; the manager never trusts a transition the table below forbids.
type State string

const (
	StateCreated         State = "CREATED"
	StateSubmitted       State = "SUBMITTED"
	StateAcknowledged    State = "ACKNOWLEDGED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateFailed
}

// transitions whitelists every legal edge of the lifecycle graph.
var transitions = map[State][]State{
	StateCreated:         {StateSubmitted, StateCancelled, StateFailed},
	StateSubmitted:       {StateAcknowledged, StatePartiallyFilled, StateFilled, StateCancelled, StateFailed},
	StateAcknowledged:    {StatePartiallyFilled, StateFilled, StateCancelled, StateFailed},
	StatePartiallyFilled: {StateFilled, StateCancelled, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a tracked order working its way through the lifecycle. The
// manager's mutex guards every field.
type Order struct {
	Intent     strategy.Intent
	ExchangeID string
	State      State

	FilledQty  float64 // cumulative
	AvgPrice   float64
	EntryPrice float64 // for close orders, the position's entry at submit time

	attempts        int
	cancelRequested bool
	cancelSent      bool // withdrawal delivered to the venue
	lastError       string
	SubmittedAt     time.Time
	UpdatedAt       time.Time
}

// ID returns the client order id.
func (o *Order) ID() string { return o.Intent.ID }

func (o *Order) setState(to State) error {
	if o.State == to {
		return nil
	}
	if !canTransition(o.State, to) {
		return fmt.Errorf("lifecycle: illegal transition %s -> %s for order %s", o.State, to, o.ID())
	}
	o.State = to
	o.UpdatedAt = time.Now()
	return nil
}
