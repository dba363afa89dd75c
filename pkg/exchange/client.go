package exchange

import "context"

// Client abstracts an authenticated trading venue: a subscribable tick
// stream plus the order submission, cancellation and status APIs.
//
// All methods may fail with TransportError, AuthError, RateLimitError or
// RejectionError; callers classify with the Is* helpers.
type Client interface {
	// SubscribeTicks streams trade prints for a pair until ctx is done or
	// the returned stop func is called.
	SubscribeTicks(ctx context.Context, pair string) (<-chan Tick, func(), error)

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder is a no-op (nil error) when the order already filled;
	// racing a fill must not surface as a failure.
	CancelOrder(ctx context.Context, pair, exchangeID string) error

	// PollOrderStatus returns ErrOrderNotFound when the venue never saw the
	// order, which resolves submission ambiguity.
	PollOrderStatus(ctx context.Context, pair, exchangeID string) (OrderState, error)

	GetBalance(ctx context.Context) ([]Balance, error)
}
