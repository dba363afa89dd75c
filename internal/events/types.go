package events

import "time"

// Event enumerates the topics flowing between pipeline stages.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventIntentApproved Event = "intent.approved"
	EventIntentRejected Event = "intent.rejected"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderAcked     Event = "order.acknowledged"
	EventOrderPartial   Event = "order.partially_filled"
	EventOrderFilled    Event = "order.filled"
	EventOrderCancelled Event = "order.cancelled"
	EventOrderFailed    Event = "order.failed"
	EventRiskTripped    Event = "risk.tripped"
	EventStatusChange   Event = "status.change"
)

// OrderUpdate is the payload published on every order.* topic. It carries
// plain data only so subscribers from any layer can consume it.
type OrderUpdate struct {
	OrderID    string    `json:"order_id"` // client order id
	ExchangeID string    `json:"exchange_id,omitempty"`
	StrategyID string    `json:"strategy_id"`
	Pair       string    `json:"pair"`
	Kind       string    `json:"kind"` // OPEN, CLOSE or ADJUST_STOP
	Side       string    `json:"side"`
	State      string    `json:"state"`
	LegGroup   string    `json:"leg_group,omitempty"`
	FilledQty  float64   `json:"filled_qty"`
	AvgPrice   float64   `json:"avg_price"`
	PnL        float64   `json:"pnl,omitempty"` // realized, on close fills
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// RiskTrip is the payload published on risk.tripped.
type RiskTrip struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
