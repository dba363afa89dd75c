package risk

import (
	"fmt"

	"scalpbot/internal/account"
	"scalpbot/internal/strategy"
)

// Outcome is the gate's verdict on an intent.
type Outcome int

const (
	Approved Outcome = iota
	Adjusted
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "APPROVED"
	case Adjusted:
		return "ADJUSTED"
	case Rejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// Decision carries the verdict plus the quantity to actually trade. Qty is
// meaningful for Approved and Adjusted only.
type Decision struct {
	Outcome Outcome
	Qty     float64
	Reason  string
}

// Gate evaluates intents against account state and limits. It holds no
// mutable state of its own, so it is safe for concurrent use.
type Gate struct {
	params *Store
}

// NewGate creates a gate backed by the live param store.
func NewGate(params *Store) *Gate {
	return &Gate{params: params}
}

// Evaluate runs the ordered checks and short-circuits on the first failure.
// Close and stop-adjust intents reduce risk, so they pass regardless of the
// trading flag or budget state. price is the latest trade price for the
// intent's pair, used to value market orders.
func (g *Gate) Evaluate(intent strategy.Intent, price float64, view account.View) Decision {
	p := g.params.Params()
	return evaluate(intent, price, view, p)
}

// evaluate is the pure core so tests can pin params directly.
func evaluate(intent strategy.Intent, price float64, view account.View, p Params) Decision {
	if intent.Kind != strategy.KindOpen {
		return Decision{Outcome: Approved, Qty: intent.Qty}
	}

	if !view.TradingEnabled {
		return Decision{Outcome: Rejected, Reason: "trading disabled"}
	}

	refPrice := intent.LimitPrice
	if refPrice <= 0 {
		refPrice = price
	}
	if refPrice <= 0 {
		return Decision{Outcome: Rejected, Reason: "no reference price for sizing"}
	}

	qty := intent.Qty
	adjusted := false
	reason := ""

	// Position size cap covers existing exposure on the pair plus the new
	// notional.
	existing := view.PairExposure[intent.Pair]
	if notional := existing + qty*refPrice; notional > p.MaxPositionSize {
		headroom := p.MaxPositionSize - existing
		if headroom <= 0 {
			return Decision{Outcome: Rejected, Reason: fmt.Sprintf(
				"pair exposure %.2f already at cap %.2f", existing, p.MaxPositionSize)}
		}
		qty = headroom / refPrice
		adjusted = true
		reason = fmt.Sprintf("notional %.2f capped to %.2f", notional, p.MaxPositionSize)
	}

	// Daily loss budget: the worst-case loss of this position must fit in
	// what remains of today's budget.
	remaining := p.MaxDailyLoss + view.DailyPnL // DailyPnL is negative when losing
	if remaining <= 0 {
		return Decision{Outcome: Rejected, Reason: "daily loss budget exhausted"}
	}
	if worst := qty * refPrice * p.StopLossPct * leverageFactor(intent.Leverage); worst > remaining {
		qty = remaining / (refPrice * p.StopLossPct * leverageFactor(intent.Leverage))
		adjusted = true
		reason = fmt.Sprintf("worst-case loss %.2f over remaining budget %.2f", worst, remaining)
	}

	if view.ConsecutiveLosses >= p.MaxConsecutiveLosses {
		return Decision{Outcome: Rejected, Reason: fmt.Sprintf(
			"consecutive losses %d at limit %d", view.ConsecutiveLosses, p.MaxConsecutiveLosses)}
	}

	if intent.Leverage > 1 {
		if intent.Leverage > p.LeverageCap {
			return Decision{Outcome: Rejected, Reason: fmt.Sprintf(
				"leverage %dx above cap %dx", intent.Leverage, p.LeverageCap)}
		}
		// The stop must fire before the liquidation price can be reached.
		liqDistance := 1.0 / float64(intent.Leverage)
		if liqDistance < p.LiqSafetyMargin+p.StopLossPct {
			return Decision{Outcome: Rejected, Reason: fmt.Sprintf(
				"liquidation distance %.4f inside safety margin %.4f", liqDistance, p.LiqSafetyMargin+p.StopLossPct)}
		}
	}

	if qty*refPrice < p.MinNotional {
		return Decision{Outcome: Rejected, Reason: fmt.Sprintf(
			"admitted notional %.2f below venue minimum %.2f", qty*refPrice, p.MinNotional)}
	}

	if adjusted {
		return Decision{Outcome: Adjusted, Qty: qty, Reason: reason}
	}
	return Decision{Outcome: Approved, Qty: qty}
}

func leverageFactor(leverage int) float64 {
	if leverage > 1 {
		return float64(leverage)
	}
	return 1
}
