// Package strategy defines the execution-strategy abstraction and the four
// built-in strategies: TWAP, VWAP, price ladder and conditional.
//
// A strategy is a pure planner: it decides slice sizes, timing and pricing,
// and observes slice outcomes. Placement, retries and fill tracking belong
// to the executor and the fill monitor.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

// SliceSpec is one planned child order. Specs are immutable once returned
// from CalculateSlices; the executor never changes a slice's size or time.
type SliceSpec struct {
	// Index is 1-based and unique within an execution.
	Index int
	Size  decimal.Decimal
	// Offset is the scheduled placement time relative to execution start.
	Offset time.Duration
	// PriceMode selects pricing at placement time. LimitPrice is the fixed
	// price for PriceLimit mode and the price cap for pegged modes.
	PriceMode  types.PriceMode
	LimitPrice decimal.Decimal
	// Trigger, when set, holds the slice until the market crosses it.
	Trigger *Trigger
}

// TriggerDirection says which way the market must cross the threshold.
type TriggerDirection int

const (
	CrossUp TriggerDirection = iota
	CrossDown
)

func (d TriggerDirection) String() string {
	if d == CrossDown {
		return "CROSS_DOWN"
	}
	return "CROSS_UP"
}

// Trigger is a price condition that arms a slice.
type Trigger struct {
	Direction TriggerDirection
	Threshold decimal.Decimal
	// Expiry bounds how long the trigger stays armed. Zero means no bound.
	Expiry time.Time
}

// Crossed reports whether price satisfies the trigger.
func (t Trigger) Crossed(price decimal.Decimal) bool {
	if t.Direction == CrossUp {
		return price.GreaterThanOrEqual(t.Threshold)
	}
	return price.LessThanOrEqual(t.Threshold)
}

// ExpiredAt reports whether the trigger has expired as of now.
func (t Trigger) ExpiredAt(now time.Time) bool {
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}

// SliceStatus is the disposition of a slice as reported to the strategy.
type SliceStatus int

const (
	// SlicePlaced: the order was accepted by the exchange.
	SlicePlaced SliceStatus = iota
	// SliceSkipped: pre-flight checks held the slice back.
	SliceSkipped
	// SliceFailed: placement failed terminally.
	SliceFailed
	// SliceFilled: the order reached full fill.
	SliceFilled
	// SliceCancelled: the order was cancelled, possibly partially filled.
	SliceCancelled
	// SliceTriggered: a conditional slice's trigger fired.
	SliceTriggered
	// SliceExpired: a conditional slice expired while armed.
	SliceExpired
)

func (s SliceStatus) String() string {
	switch s {
	case SlicePlaced:
		return "PLACED"
	case SliceSkipped:
		return "SKIPPED"
	case SliceFailed:
		return "FAILED"
	case SliceFilled:
		return "FILLED"
	case SliceCancelled:
		return "CANCELLED"
	case SliceTriggered:
		return "TRIGGERED"
	case SliceExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is what the executor reports back per slice event.
type Outcome struct {
	Index      int
	OrderID    string
	Status     SliceStatus
	Reason     string
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	Fees       decimal.Decimal
	Makers     int
	Takers     int
}

// Result is the final summary of an execution.
type Result struct {
	ExecutionID string
	Strategy    string
	ProductID   string
	Side        types.Side
	Status      ExecutionStatus
	TotalSize   decimal.Decimal
	FilledSize  decimal.Decimal
	Notional    decimal.Decimal
	AvgPrice    decimal.Decimal
	Fees        decimal.Decimal
	Makers      int
	Takers      int
	NumSlices   int
	NumFilled   int
	NumSkipped  int
	NumFailed   int
	// NumCancelled counts slices cancelled clean, with no fill. A cancel
	// that caught a partial fill counts as filled instead.
	NumCancelled int
	StartedAt    time.Time
	FinishedAt   time.Time
	// Outcomes holds the latest disposition per slice, ordered by index,
	// with the skip and failure reasons.
	Outcomes []Outcome
	// Metadata carries strategy-specific results, e.g. benchmark slippage.
	Metadata map[string]string
}

// ExecutionStatus is the final state of an execution.
type ExecutionStatus int

const (
	ExecutionRunning ExecutionStatus = iota
	ExecutionCompleted
	ExecutionPartial
	ExecutionFailed
	ExecutionCancelled
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionRunning:
		return "RUNNING"
	case ExecutionCompleted:
		return "COMPLETED"
	case ExecutionPartial:
		return "PARTIAL"
	case ExecutionFailed:
		return "FAILED"
	case ExecutionCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Strategy plans and observes an execution. Implementations are driven by a
// single executor goroutine; OnSliceComplete may additionally be called from
// the fill monitor and must be safe for that.
type Strategy interface {
	ID() string
	Name() string
	ProductID() string
	Side() types.Side
	TotalSize() decimal.Decimal

	// CalculateSlices returns the full slice plan. Sizes must sum exactly
	// to TotalSize.
	CalculateSlices(ctx context.Context) ([]SliceSpec, error)

	// ShouldSkip is consulted immediately before placing a slice. A true
	// return holds the slice back with the given reason.
	ShouldSkip(ctx context.Context, index int, snap types.MarketSnapshot) (bool, string)

	// ResolvePrice turns a spec into a concrete limit price using current
	// market data. An error wrapping ErrSliceRejected skips the slice.
	ResolvePrice(ctx context.Context, spec SliceSpec, snap types.MarketSnapshot) (decimal.Decimal, error)

	// OnSliceComplete receives slice events: terminal dispositions for
	// every slice, plus trigger transitions for conditional slices.
	OnSliceComplete(outcome Outcome)
}

// MarketFallbacker is implemented by strategies that place deferred size as
// aggressive orders at the end of the run.
type MarketFallbacker interface {
	// FallbackSlices returns market-priced slices covering size deferred
	// by skips. Called once after the main slice loop.
	FallbackSlices() []SliceSpec
}

// Bracketer is implemented by strategies whose trigger expands into an OCO
// pair of child orders.
type Bracketer interface {
	// BracketLegs returns the take-profit and stop legs placed when the
	// trigger fires. The stop leg carries its own Trigger and is held back
	// until the market crosses it. ok is false when no bracket is
	// configured.
	BracketLegs() (takeProfit, stop SliceSpec, ok bool)
}

// Finalizer lets a strategy decorate the final result, e.g. with benchmark
// slippage.
type Finalizer interface {
	Finalize(res *Result)
}

// ResolveModePrice maps a price mode onto a snapshot. PriceLimit returns
// limit unchanged; pegged modes fall back to limit when the book is empty
// and limit is set. PriceMarket crosses the far touch.
func ResolveModePrice(mode types.PriceMode, side types.Side, limit decimal.Decimal, snap types.MarketSnapshot) (decimal.Decimal, error) {
	if mode == types.PriceLimit {
		if !limit.IsPositive() {
			return decimal.Zero, types.ErrInvalidParams
		}
		return limit, nil
	}
	if !snap.Valid() {
		if limit.IsPositive() {
			return limit, nil
		}
		return decimal.Zero, types.ErrDataUnavailable
	}
	switch mode {
	case types.PriceBid:
		return snap.Bid, nil
	case types.PriceMid:
		return snap.Mid(), nil
	case types.PriceAsk:
		return snap.Ask, nil
	case types.PriceMarket:
		if side == types.SideBuy {
			return snap.Ask, nil
		}
		return snap.Bid, nil
	default:
		return decimal.Zero, types.ErrInvalidParams
	}
}

// splitEven splits total into n sizes that sum exactly to total: n-1 equal
// truncated parts plus the residual on the last.
func splitEven(total decimal.Decimal, n int) []decimal.Decimal {
	sizes := make([]decimal.Decimal, n)
	if n == 1 {
		sizes[0] = total
		return sizes
	}
	base := total.Div(decimal.NewFromInt(int64(n))).Truncate(8)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		sizes[i] = base
		running = running.Add(base)
	}
	sizes[n-1] = total.Sub(running)
	return sizes
}

// splitWeighted splits total proportionally to weights, residual to the last
// element so the sum is exact. Zero or negative weight sums fall back to an
// even split.
func splitWeighted(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	n := len(weights)
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return splitEven(total, n)
	}

	sizes := make([]decimal.Decimal, n)
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		sizes[i] = total.Mul(weights[i]).Div(sum).Truncate(8)
		running = running.Add(sizes[i])
	}
	sizes[n-1] = total.Sub(running)
	return sizes
}
