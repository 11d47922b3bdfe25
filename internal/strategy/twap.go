package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange"
	"algoexec/internal/types"
)

// TWAPConfig configures a time-sliced execution.
type TWAPConfig struct {
	ProductID string
	Side      types.Side
	TotalSize decimal.Decimal
	Duration  time.Duration
	NumSlices int

	// LimitPrice caps pegged prices and is the fixed price for PriceLimit
	// mode. Zero means uncapped (pegged modes only).
	LimitPrice decimal.Decimal
	PriceMode  types.PriceMode

	// JitterPct randomizes each slice offset within ±(interval * pct).
	// Zero disables jitter. JitterSeed zero seeds from the clock.
	JitterPct  float64
	JitterSeed int64

	// ParticipationCap bounds slice size to this fraction of recent market
	// volume. Zero disables the check.
	ParticipationCap decimal.Decimal
	VolumeLookback   time.Duration

	// FallbackSlices places size deferred by skips as up to this many
	// aggressive orders at the end of the run. Zero disables fallback.
	FallbackSlices int
}

// Validate checks the configuration.
func (c *TWAPConfig) Validate() error {
	var errs []string
	if c.ProductID == "" {
		errs = append(errs, "product_id is required")
	}
	if !c.TotalSize.IsPositive() {
		errs = append(errs, "total_size must be positive")
	}
	if c.NumSlices < 1 {
		errs = append(errs, "num_slices must be at least 1")
	}
	if c.Duration <= 0 {
		errs = append(errs, "duration must be positive")
	}
	if c.JitterPct < 0 || c.JitterPct > 0.5 {
		errs = append(errs, "jitter_pct must be between 0 and 0.5")
	}
	if c.ParticipationCap.IsNegative() || c.ParticipationCap.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "participation_cap must be between 0 and 1")
	}
	if c.PriceMode == types.PriceLimit && !c.LimitPrice.IsPositive() {
		errs = append(errs, "limit_price is required for limit pricing")
	}
	if c.FallbackSlices < 0 {
		errs = append(errs, "fallback_slices must not be negative")
	}
	return joinParamErrs(errs)
}

func joinParamErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return fmt.Errorf("%w: %s", types.ErrInvalidParams, msg)
}

// TWAP spreads an order evenly over time with optional jitter, a
// participation cap and end-of-run market fallback for deferred size.
type TWAP struct {
	id     string
	cfg    TWAPConfig
	exch   exchange.Exchange
	adm    *admission.Controller
	rng    *rand.Rand
	logger *slog.Logger

	mu       sync.Mutex
	slices   []SliceSpec
	deferred decimal.Decimal
	outcomes map[int]Outcome
}

// NewTWAP validates cfg and builds the strategy. The exchange and admission
// controller are used for the participation volume check.
func NewTWAP(cfg TWAPConfig, exch exchange.Exchange, adm *admission.Controller, logger *slog.Logger) (*TWAP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	seed := cfg.JitterSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TWAP{
		id:       uuid.NewString(),
		cfg:      cfg,
		exch:     exch,
		adm:      adm,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger,
		deferred: decimal.Zero,
		outcomes: make(map[int]Outcome),
	}, nil
}

func (t *TWAP) ID() string                 { return t.id }
func (t *TWAP) Name() string               { return "twap" }
func (t *TWAP) ProductID() string          { return t.cfg.ProductID }
func (t *TWAP) Side() types.Side           { return t.cfg.Side }
func (t *TWAP) TotalSize() decimal.Decimal { return t.cfg.TotalSize }

// CalculateSlices returns NumSlices even slices across Duration. The first
// slice is never jittered; later offsets move by up to ±(interval * jitter)
// but stay strictly increasing.
func (t *TWAP) CalculateSlices(_ context.Context) ([]SliceSpec, error) {
	n := t.cfg.NumSlices
	interval := t.cfg.Duration / time.Duration(n)
	sizes := splitEven(t.cfg.TotalSize, n)

	specs := make([]SliceSpec, n)
	prev := time.Duration(-1)
	for i := 0; i < n; i++ {
		offset := time.Duration(i) * interval
		if i > 0 && t.cfg.JitterPct > 0 {
			span := float64(interval) * t.cfg.JitterPct
			offset += time.Duration((t.rng.Float64()*2 - 1) * span)
		}
		if offset <= prev {
			offset = prev + time.Millisecond
		}
		prev = offset

		specs[i] = SliceSpec{
			Index:      i + 1,
			Size:       sizes[i],
			Offset:     offset,
			PriceMode:  t.cfg.PriceMode,
			LimitPrice: t.cfg.LimitPrice,
		}
	}

	t.mu.Lock()
	t.slices = specs
	t.mu.Unlock()
	return specs, nil
}

// ShouldSkip enforces the participation cap. When recent volume cannot be
// determined the slice is skipped rather than placed blind.
func (t *TWAP) ShouldSkip(ctx context.Context, index int, _ types.MarketSnapshot) (bool, string) {
	if !t.cfg.ParticipationCap.IsPositive() {
		return false, ""
	}

	size := t.sliceSize(index)
	volume, err := t.recentVolume(ctx)
	if err != nil {
		t.logger.Warn("participation check: volume unavailable, skipping slice",
			"slice", index, "err", err)
		return true, "recent volume unavailable"
	}
	maxSize := volume.Mul(t.cfg.ParticipationCap)
	if size.GreaterThan(maxSize) {
		return true, fmt.Sprintf("participation cap: slice %s exceeds %s of recent volume %s",
			size, t.cfg.ParticipationCap, volume)
	}
	return false, ""
}

func (t *TWAP) sliceSize(index int) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= 1 && index <= len(t.slices) {
		return t.slices[index-1].Size
	}
	return decimal.Zero
}

// recentVolume sums candle volume over the lookback window.
func (t *TWAP) recentVolume(ctx context.Context) (decimal.Decimal, error) {
	if err := t.adm.Acquire(ctx, 1); err != nil {
		return decimal.Zero, err
	}
	end := time.Now()
	start := end.Add(-t.cfg.VolumeLookback)
	candles, err := t.exch.GetCandles(ctx, t.cfg.ProductID, start, end, time.Minute)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get candles: %w", err)
	}
	if len(candles) == 0 {
		return decimal.Zero, types.ErrDataUnavailable
	}
	total := decimal.Zero
	for _, c := range candles {
		total = total.Add(c.Volume)
	}
	return total, nil
}

// ResolvePrice prices the slice by its mode and rejects prices that would
// land worse than the configured limit.
func (t *TWAP) ResolvePrice(_ context.Context, spec SliceSpec, snap types.MarketSnapshot) (decimal.Decimal, error) {
	price, err := ResolveModePrice(spec.PriceMode, t.cfg.Side, spec.LimitPrice, snap)
	if err != nil {
		return decimal.Zero, err
	}
	if spec.PriceMode != types.PriceLimit && t.cfg.LimitPrice.IsPositive() {
		if t.cfg.Side == types.SideBuy && price.GreaterThan(t.cfg.LimitPrice) {
			return decimal.Zero, fmt.Errorf("%w: price %s above limit %s", types.ErrSliceRejected, price, t.cfg.LimitPrice)
		}
		if t.cfg.Side == types.SideSell && price.LessThan(t.cfg.LimitPrice) {
			return decimal.Zero, fmt.Errorf("%w: price %s below limit %s", types.ErrSliceRejected, price, t.cfg.LimitPrice)
		}
	}
	return price, nil
}

// OnSliceComplete records the outcome and accrues deferred size for skips
// within the planned slices.
func (t *TWAP) OnSliceComplete(outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes[outcome.Index] = outcome
	if outcome.Status == SliceSkipped && outcome.Index <= len(t.slices) {
		t.deferred = t.deferred.Add(t.sliceSizeLocked(outcome.Index))
	}
}

func (t *TWAP) sliceSizeLocked(index int) decimal.Decimal {
	if index >= 1 && index <= len(t.slices) {
		return t.slices[index-1].Size
	}
	return decimal.Zero
}

// Deferred returns size held back by skips so far.
func (t *TWAP) Deferred() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deferred
}

// FallbackSlices implements MarketFallbacker: deferred size is split across
// up to FallbackSlices aggressive orders indexed after the planned slices.
func (t *TWAP) FallbackSlices() []SliceSpec {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.FallbackSlices <= 0 || !t.deferred.IsPositive() {
		return nil
	}
	n := t.cfg.FallbackSlices
	sizes := splitEven(t.deferred, n)
	specs := make([]SliceSpec, 0, n)
	for i, size := range sizes {
		if !size.IsPositive() {
			continue
		}
		specs = append(specs, SliceSpec{
			Index:     len(t.slices) + i + 1,
			Size:      size,
			PriceMode: types.PriceMarket,
		})
	}
	t.deferred = decimal.Zero
	return specs
}

var (
	_ Strategy         = (*TWAP)(nil)
	_ MarketFallbacker = (*TWAP)(nil)
)
