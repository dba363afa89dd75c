package exchange

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus normalizes venue-side status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether no further fills can arrive for this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Tick is a single trade print from the market data feed.
type Tick struct {
	Pair   string
	Price  float64
	Volume float64
	Time   time.Time
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// OrderRequest captures an order to be sent to the venue.
type OrderRequest struct {
	Pair       string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64 // required for LIMIT
	StopPrice  float64 // required for STOP_LOSS / TAKE_PROFIT
	ClientID   string  // client order id, used for idempotent lookup
	ReduceOnly bool
	Leverage   int // futures leverage, 0 for spot
}

// OrderAck is the venue's acceptance response.
type OrderAck struct {
	ExchangeID string
	ClientID   string
	Status     OrderStatus
}

// OrderState is a venue-side order status snapshot.
type OrderState struct {
	ExchangeID string
	ClientID   string
	Status     OrderStatus
	FilledQty  float64 // cumulative
	AvgPrice   float64
}
