// Package exchange defines the collaborator interfaces the engine trades
// through. Implementations own transport, auth and serialization; callers
// are expected to pass every request through the admission controller first.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

// OrderRequest describes a limit order to submit. ClientOrderID is the
// caller-supplied idempotency key.
type OrderRequest struct {
	ClientOrderID string
	ProductID     string
	Side          types.Side
	Size          decimal.Decimal
	Price         decimal.Decimal
}

// OrderState is the exchange's view of one order, including all fills known
// for it. Fill IDs are stable so repeated queries return the same fills.
type OrderState struct {
	OrderID string
	Status  types.OrderStatus
	Fills   []types.Fill
}

// FilledSize returns the total filled size across the order's fills.
func (s OrderState) FilledSize() decimal.Decimal {
	total := decimal.Zero
	for _, f := range s.Fills {
		total = total.Add(f.Size)
	}
	return total
}

// Exchange is the trading API surface the engine depends on.
type Exchange interface {
	// PlaceLimitOrder submits a limit order and returns the exchange order
	// ID. A rejection is reported as an error wrapping ErrExchangeRejected;
	// retryable failures wrap ErrExchangeTransient.
	PlaceLimitOrder(ctx context.Context, req OrderRequest) (string, error)

	// CancelOrders requests cancellation of the given orders. Cancelling an
	// already-terminal order is not an error.
	CancelOrders(ctx context.Context, orderIDs []string) error

	// GetOrders returns current state for the given orders in one batched
	// request. Unknown IDs are simply absent from the result.
	GetOrders(ctx context.Context, orderIDs []string) (map[string]OrderState, error)

	// GetProduct returns size/price constraints for a product.
	GetProduct(ctx context.Context, productID string) (types.ProductInfo, error)

	// GetSnapshot returns the current top of book.
	GetSnapshot(ctx context.Context, productID string) (types.MarketSnapshot, error)

	// GetCandles returns OHLCV bars covering [start, end) at the given
	// granularity, oldest first.
	GetCandles(ctx context.Context, productID string, start, end time.Time, granularity time.Duration) ([]types.Candle, error)
}

// FillHandler receives fills pushed by the feed.
type FillHandler func(types.Fill)

// Feed is an optional push channel for fill events. The engine works without
// one; when present it reduces polling pressure.
type Feed interface {
	// SubscribeFills registers a handler for fills on our orders. Handlers
	// must not block.
	SubscribeFills(h FillHandler)

	// LastHeartbeat returns the time of the most recent message from the
	// feed, used for staleness detection.
	LastHeartbeat() time.Time
}

// FeedStale reports whether the feed has gone quiet for longer than
// threshold. A nil feed is always stale.
func FeedStale(f Feed, threshold time.Duration, now time.Time) bool {
	if f == nil {
		return true
	}
	return now.Sub(f.LastHeartbeat()) > threshold
}
