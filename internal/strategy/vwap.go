package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange"
	"algoexec/internal/types"
)

// VWAPConfig configures a volume-weighted execution.
type VWAPConfig struct {
	ProductID string
	Side      types.Side
	TotalSize decimal.Decimal
	Duration  time.Duration
	NumSlices int

	LimitPrice decimal.Decimal
	PriceMode  types.PriceMode

	// VolumeLookback is how much candle history feeds the hour-of-day
	// volume profile. Default 7 days.
	VolumeLookback time.Duration

	// Benchmark enables computing a market VWAP over the lookback and
	// reporting execution slippage against it.
	Benchmark bool
}

// Validate checks the configuration.
func (c *VWAPConfig) Validate() error {
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
	if c.PriceMode == types.PriceLimit && !c.LimitPrice.IsPositive() {
		errs = append(errs, "limit_price is required for limit pricing")
	}
	return joinParamErrs(errs)
}

// VWAP sizes slices proportionally to a historical hour-of-day volume
// profile so the execution tracks how the market usually trades.
type VWAP struct {
	id     string
	cfg    VWAPConfig
	exch   exchange.Exchange
	adm    *admission.Controller
	logger *slog.Logger

	mu        sync.Mutex
	slices    []SliceSpec
	benchmark decimal.Decimal
	outcomes  map[int]Outcome
}

// NewVWAP validates cfg and builds the strategy.
func NewVWAP(cfg VWAPConfig, exch exchange.Exchange, adm *admission.Controller, logger *slog.Logger) (*VWAP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VWAP{
		id:       uuid.NewString(),
		cfg:      cfg,
		exch:     exch,
		adm:      adm,
		logger:   logger,
		outcomes: make(map[int]Outcome),
	}, nil
}

func (v *VWAP) ID() string                 { return v.id }
func (v *VWAP) Name() string               { return "vwap" }
func (v *VWAP) ProductID() string          { return v.cfg.ProductID }
func (v *VWAP) Side() types.Side           { return v.cfg.Side }
func (v *VWAP) TotalSize() decimal.Decimal { return v.cfg.TotalSize }

// CalculateSlices fetches the volume profile and sizes slices by the hour
// of day each one lands in. With no usable history the profile is flat.
func (v *VWAP) CalculateSlices(ctx context.Context) ([]SliceSpec, error) {
	n := v.cfg.NumSlices
	interval := v.cfg.Duration / time.Duration(n)
	start := time.Now()

	profile, bench, err := v.volumeProfile(ctx)
	hasProfile := err == nil
	if err != nil {
		v.logger.Warn("volume profile unavailable, using flat profile", "err", err)
	}

	weights := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		if !hasProfile {
			weights[i] = decimal.NewFromInt(1)
			continue
		}
		hour := start.Add(time.Duration(i) * interval).Hour()
		weights[i] = profile[hour]
	}
	if hasProfile {
		// Hours with no history trade at the average of the known hours,
		// so a gap in the candles cannot zero out a slice.
		avg := profileAverage(profile)
		for i := range weights {
			if !weights[i].IsPositive() {
				weights[i] = avg
			}
		}
	}
	sizes := splitWeighted(v.cfg.TotalSize, weights)

	specs := make([]SliceSpec, n)
	for i := 0; i < n; i++ {
		specs[i] = SliceSpec{
			Index:      i + 1,
			Size:       sizes[i],
			Offset:     time.Duration(i) * interval,
			PriceMode:  v.cfg.PriceMode,
			LimitPrice: v.cfg.LimitPrice,
		}
	}

	v.mu.Lock()
	v.slices = specs
	v.benchmark = bench
	v.mu.Unlock()
	return specs, nil
}

// volumeProfile returns average volume per hour of day over the lookback,
// plus the benchmark VWAP of the same candles when enabled.
func (v *VWAP) volumeProfile(ctx context.Context) ([24]decimal.Decimal, decimal.Decimal, error) {
	var profile [24]decimal.Decimal

	if err := v.adm.Acquire(ctx, 1); err != nil {
		return profile, decimal.Zero, err
	}
	end := time.Now()
	candles, err := v.exch.GetCandles(ctx, v.cfg.ProductID, end.Add(-v.cfg.VolumeLookback), end, time.Hour)
	if err != nil {
		return profile, decimal.Zero, fmt.Errorf("get candles: %w", err)
	}
	if len(candles) == 0 {
		return profile, decimal.Zero, types.ErrDataUnavailable
	}

	var counts [24]int
	volumeSum := decimal.Zero
	notionalSum := decimal.Zero
	for _, c := range candles {
		h := c.Start.Hour()
		profile[h] = profile[h].Add(c.Volume)
		counts[h]++
		volumeSum = volumeSum.Add(c.Volume)
		notionalSum = notionalSum.Add(c.TypicalPrice().Mul(c.Volume))
	}
	for h := 0; h < 24; h++ {
		if counts[h] > 0 {
			profile[h] = profile[h].Div(decimal.NewFromInt(int64(counts[h])))
		}
	}
	if !volumeSum.IsPositive() {
		return profile, decimal.Zero, types.ErrDataUnavailable
	}

	bench := decimal.Zero
	if v.cfg.Benchmark {
		bench = notionalSum.Div(volumeSum)
	}
	return profile, bench, nil
}

// profileAverage is the mean volume across hours that have history.
func profileAverage(profile [24]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	known := 0
	for _, v := range profile {
		if v.IsPositive() {
			sum = sum.Add(v)
			known++
		}
	}
	if known == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(known)))
}

// ShouldSkip never skips: the profile already shapes participation.
func (v *VWAP) ShouldSkip(_ context.Context, _ int, _ types.MarketSnapshot) (bool, string) {
	return false, ""
}

// ResolvePrice prices the slice by its mode.
func (v *VWAP) ResolvePrice(_ context.Context, spec SliceSpec, snap types.MarketSnapshot) (decimal.Decimal, error) {
	return ResolveModePrice(spec.PriceMode, v.cfg.Side, spec.LimitPrice, snap)
}

// OnSliceComplete records the outcome.
func (v *VWAP) OnSliceComplete(outcome Outcome) {
	v.mu.Lock()
	v.outcomes[outcome.Index] = outcome
	v.mu.Unlock()
}

// Benchmark returns the benchmark VWAP computed at plan time, zero when
// disabled or unavailable.
func (v *VWAP) Benchmark() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.benchmark
}

// Finalize reports execution slippage against the benchmark VWAP in basis
// points. Positive slippage means a worse price than the benchmark.
func (v *VWAP) Finalize(res *Result) {
	bench := v.Benchmark()
	if !bench.IsPositive() || !res.FilledSize.IsPositive() {
		return
	}
	diff := res.AvgPrice.Sub(bench)
	if v.cfg.Side == types.SideSell {
		diff = diff.Neg()
	}
	bps := diff.Div(bench).Mul(decimal.NewFromInt(10000))
	if res.Metadata == nil {
		res.Metadata = make(map[string]string)
	}
	res.Metadata["benchmark_vwap"] = bench.String()
	res.Metadata["slippage_bps"] = bps.Round(2).String()
}

var (
	_ Strategy  = (*VWAP)(nil)
	_ Finalizer = (*VWAP)(nil)
)
