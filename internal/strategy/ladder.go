package strategy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

// LadderConfig configures a price-laddered execution: all orders placed
// immediately across [PriceLow, PriceHigh].
type LadderConfig struct {
	ProductID string
	Side      types.Side
	TotalSize decimal.Decimal
	PriceLow  decimal.Decimal
	PriceHigh decimal.Decimal
	NumOrders int

	Distribution types.Distribution
	// Factor is the per-level ratio for the exponential distribution.
	// Values <= 1 fall back to 2.
	Factor decimal.Decimal
	// Descending flips the weighting away from the favorable price end.
	// Default weighting favors low prices for buys, high for sells.
	Descending bool
}

// Validate checks the configuration.
func (c *LadderConfig) Validate() error {
	var errs []string
	if c.ProductID == "" {
		errs = append(errs, "product_id is required")
	}
	if !c.TotalSize.IsPositive() {
		errs = append(errs, "total_size must be positive")
	}
	if c.NumOrders < 1 {
		errs = append(errs, "num_orders must be at least 1")
	}
	if !c.PriceLow.IsPositive() || !c.PriceHigh.IsPositive() {
		errs = append(errs, "price_low and price_high must be positive")
	}
	if c.PriceLow.GreaterThan(c.PriceHigh) {
		errs = append(errs, "price_low must not exceed price_high")
	}
	return joinParamErrs(errs)
}

// Ladder places limit orders across a price range with a flat, linear or
// exponential size distribution.
type Ladder struct {
	id     string
	cfg    LadderConfig
	logger *slog.Logger

	mu       sync.Mutex
	slices   []SliceSpec
	outcomes map[int]Outcome
}

// NewLadder validates cfg and builds the strategy.
func NewLadder(cfg LadderConfig, logger *slog.Logger) (*Ladder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ladder{
		id:       uuid.NewString(),
		cfg:      cfg,
		logger:   logger,
		outcomes: make(map[int]Outcome),
	}, nil
}

func (l *Ladder) ID() string                 { return l.id }
func (l *Ladder) Name() string               { return "ladder" }
func (l *Ladder) ProductID() string          { return l.cfg.ProductID }
func (l *Ladder) Side() types.Side           { return l.cfg.Side }
func (l *Ladder) TotalSize() decimal.Decimal { return l.cfg.TotalSize }

// CalculateSlices returns all levels at offset zero, prices evenly spaced
// from low to high. A single-order ladder lands on the midpoint.
func (l *Ladder) CalculateSlices(_ context.Context) ([]SliceSpec, error) {
	n := l.cfg.NumOrders
	prices := l.priceLevels()
	sizes := splitWeighted(l.cfg.TotalSize, l.weights())

	specs := make([]SliceSpec, n)
	for i := 0; i < n; i++ {
		specs[i] = SliceSpec{
			Index:      i + 1,
			Size:       sizes[i],
			PriceMode:  types.PriceLimit,
			LimitPrice: prices[i],
		}
	}

	l.mu.Lock()
	l.slices = specs
	l.mu.Unlock()
	return specs, nil
}

func (l *Ladder) priceLevels() []decimal.Decimal {
	n := l.cfg.NumOrders
	if n == 1 {
		return []decimal.Decimal{l.cfg.PriceLow.Add(l.cfg.PriceHigh).Div(decimal.NewFromInt(2))}
	}
	step := l.cfg.PriceHigh.Sub(l.cfg.PriceLow).Div(decimal.NewFromInt(int64(n - 1)))
	prices := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		prices[i] = l.cfg.PriceLow.Add(step.Mul(decimal.NewFromInt(int64(i))))
	}
	return prices
}

// weights returns per-level weights indexed low price to high. Favorable
// weighting puts more size at low prices for buys, high for sells;
// Descending flips that.
func (l *Ladder) weights() []decimal.Decimal {
	n := l.cfg.NumOrders
	weights := make([]decimal.Decimal, n)

	switch l.cfg.Distribution {
	case types.DistributionLinear:
		for i := 0; i < n; i++ {
			weights[i] = decimal.NewFromInt(int64(i + 1))
		}
	case types.DistributionExponential:
		factor := l.cfg.Factor
		if !factor.GreaterThan(decimal.NewFromInt(1)) {
			factor = decimal.NewFromInt(2)
		}
		w := decimal.NewFromInt(1)
		for i := 0; i < n; i++ {
			weights[i] = w
			w = w.Mul(factor)
		}
	default:
		for i := 0; i < n; i++ {
			weights[i] = decimal.NewFromInt(1)
		}
		return weights
	}

	// Ascending weights favor the high-price end, which is the favorable
	// end for sells. Flip for buys, then flip again if Descending.
	flip := l.cfg.Side == types.SideBuy
	if l.cfg.Descending {
		flip = !flip
	}
	if flip {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			weights[i], weights[j] = weights[j], weights[i]
		}
	}
	return weights
}

// ShouldSkip never skips: every level is placed.
func (l *Ladder) ShouldSkip(_ context.Context, _ int, _ types.MarketSnapshot) (bool, string) {
	return false, ""
}

// ResolvePrice returns the pre-computed level price.
func (l *Ladder) ResolvePrice(_ context.Context, spec SliceSpec, _ types.MarketSnapshot) (decimal.Decimal, error) {
	if !spec.LimitPrice.IsPositive() {
		return decimal.Zero, types.ErrInvalidParams
	}
	return spec.LimitPrice, nil
}

// OnSliceComplete records the outcome.
func (l *Ladder) OnSliceComplete(outcome Outcome) {
	l.mu.Lock()
	l.outcomes[outcome.Index] = outcome
	l.mu.Unlock()
}

var _ Strategy = (*Ladder)(nil)
