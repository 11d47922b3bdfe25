package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange/paper"
	"algoexec/internal/types"
)

func newTestTWAP(t *testing.T, cfg TWAPConfig, exch *paper.Exchange) *TWAP {
	t.Helper()
	if exch == nil {
		exch = paper.New(paper.DefaultConfig(), nil, nil)
		t.Cleanup(exch.Close)
	}
	adm := admission.New(1000, 1000, nil, nil)
	tw, err := NewTWAP(cfg, exch, adm, nil)
	if err != nil {
		t.Fatalf("NewTWAP: %v", err)
	}
	return tw
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTWAPSliceSizesSumExactly(t *testing.T) {
	tw := newTestTWAP(t, TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("1"),
		Duration:   time.Minute,
		NumSlices:  3,
		LimitPrice: d("100"),
	}, nil)

	slices, err := tw.CalculateSlices(context.Background())
	if err != nil {
		t.Fatalf("CalculateSlices: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}

	sum := decimal.Zero
	for _, s := range slices {
		if !s.Size.IsPositive() {
			t.Errorf("slice %d has non-positive size %s", s.Index, s.Size)
		}
		sum = sum.Add(s.Size)
	}
	if !sum.Equal(d("1")) {
		t.Errorf("sizes sum to %s, want exactly 1", sum)
	}
}

func TestTWAPJitterBoundsAndOrdering(t *testing.T) {
	interval := time.Second
	n := 10
	tw := newTestTWAP(t, TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("10"),
		Duration:   time.Duration(n) * interval,
		NumSlices:  n,
		LimitPrice: d("100"),
		JitterPct:  0.2,
		JitterSeed: 42,
	}, nil)

	slices, err := tw.CalculateSlices(context.Background())
	if err != nil {
		t.Fatalf("CalculateSlices: %v", err)
	}

	if slices[0].Offset != 0 {
		t.Errorf("first slice offset = %s, want 0 (never jittered)", slices[0].Offset)
	}

	span := time.Duration(0.2 * float64(interval))
	prev := time.Duration(-1)
	for i, s := range slices {
		even := time.Duration(i) * interval
		if i > 0 {
			lo, hi := even-span-time.Millisecond, even+span+time.Millisecond
			if s.Offset < lo || s.Offset > hi {
				t.Errorf("slice %d offset %s outside [%s, %s]", s.Index, s.Offset, lo, hi)
			}
		}
		if s.Offset <= prev {
			t.Errorf("slice %d offset %s not after previous %s", s.Index, s.Offset, prev)
		}
		prev = s.Offset
	}
}

func TestTWAPSeedIsDeterministic(t *testing.T) {
	cfg := TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("10"),
		Duration:   10 * time.Second,
		NumSlices:  10,
		LimitPrice: d("100"),
		JitterPct:  0.3,
		JitterSeed: 7,
	}
	a, _ := newTestTWAP(t, cfg, nil).CalculateSlices(context.Background())
	b, _ := newTestTWAP(t, cfg, nil).CalculateSlices(context.Background())
	for i := range a {
		if a[i].Offset != b[i].Offset {
			t.Fatalf("slice %d offsets differ: %s vs %s", i+1, a[i].Offset, b[i].Offset)
		}
	}
}

func TestTWAPParticipationSkip(t *testing.T) {
	exch := paper.New(paper.DefaultConfig(), nil, nil)
	defer exch.Close()

	cfg := TWAPConfig{
		ProductID:        "BTC-USD",
		Side:             types.SideBuy,
		TotalSize:        d("10"),
		Duration:         time.Minute,
		NumSlices:        2,
		LimitPrice:       d("100"),
		ParticipationCap: d("0.1"),
	}
	tw := newTestTWAP(t, cfg, exch)
	if _, err := tw.CalculateSlices(context.Background()); err != nil {
		t.Fatalf("CalculateSlices: %v", err)
	}

	// No candle data: skip-to-be-safe.
	skip, reason := tw.ShouldSkip(context.Background(), 1, types.MarketSnapshot{})
	if !skip {
		t.Error("should skip when recent volume is unknown")
	}
	if reason == "" {
		t.Error("skip should carry a reason")
	}

	// Recent volume 10, cap 0.1: max slice 1, slice size 5 skips.
	exch.SetCandles("BTC-USD", []types.Candle{
		{Start: time.Now().Add(-time.Minute), Volume: d("10")},
	})
	if skip, _ = tw.ShouldSkip(context.Background(), 1, types.MarketSnapshot{}); !skip {
		t.Error("should skip when slice exceeds participation cap")
	}

	// Recent volume 1000: max slice 100, slice size 5 passes.
	exch.SetCandles("BTC-USD", []types.Candle{
		{Start: time.Now().Add(-time.Minute), Volume: d("1000")},
	})
	if skip, reason = tw.ShouldSkip(context.Background(), 1, types.MarketSnapshot{}); skip {
		t.Errorf("should not skip under the cap, got reason %q", reason)
	}
}

func TestTWAPResolvePriceFavorability(t *testing.T) {
	tw := newTestTWAP(t, TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("1"),
		Duration:   time.Minute,
		NumSlices:  1,
		LimitPrice: d("100"),
		PriceMode:  types.PriceMid,
	}, nil)
	slices, _ := tw.CalculateSlices(context.Background())

	// Mid 102 is above the 100 buy limit: rejected.
	snap := types.MarketSnapshot{ProductID: "BTC-USD", Bid: d("101"), Ask: d("103"), Time: time.Now()}
	if _, err := tw.ResolvePrice(context.Background(), slices[0], snap); !errors.Is(err, types.ErrSliceRejected) {
		t.Errorf("unfavorable price should wrap ErrSliceRejected, got %v", err)
	}

	// Mid 99 is inside the limit: accepted.
	snap = types.MarketSnapshot{ProductID: "BTC-USD", Bid: d("98"), Ask: d("100"), Time: time.Now()}
	price, err := tw.ResolvePrice(context.Background(), slices[0], snap)
	if err != nil {
		t.Fatalf("ResolvePrice: %v", err)
	}
	if !price.Equal(d("99")) {
		t.Errorf("price = %s, want mid 99", price)
	}

	// Empty book falls back to the limit price.
	price, err = tw.ResolvePrice(context.Background(), slices[0], types.MarketSnapshot{})
	if err != nil {
		t.Fatalf("ResolvePrice on empty book: %v", err)
	}
	if !price.Equal(d("100")) {
		t.Errorf("price = %s, want limit fallback 100", price)
	}
}

func TestTWAPFallbackSlices(t *testing.T) {
	tw := newTestTWAP(t, TWAPConfig{
		ProductID:      "BTC-USD",
		Side:           types.SideBuy,
		TotalSize:      d("3"),
		Duration:       time.Minute,
		NumSlices:      3,
		LimitPrice:     d("100"),
		FallbackSlices: 2,
	}, nil)
	if _, err := tw.CalculateSlices(context.Background()); err != nil {
		t.Fatalf("CalculateSlices: %v", err)
	}

	tw.OnSliceComplete(Outcome{Index: 1, Status: SliceSkipped})
	tw.OnSliceComplete(Outcome{Index: 3, Status: SliceSkipped})
	if !tw.Deferred().Equal(d("2")) {
		t.Fatalf("deferred = %s, want 2", tw.Deferred())
	}

	fallback := tw.FallbackSlices()
	if len(fallback) != 2 {
		t.Fatalf("got %d fallback slices, want 2", len(fallback))
	}
	sum := decimal.Zero
	for i, s := range fallback {
		if s.PriceMode != types.PriceMarket {
			t.Errorf("fallback slice %d mode = %s, want MARKET", i, s.PriceMode)
		}
		if s.Index <= 3 {
			t.Errorf("fallback slice index %d collides with planned slices", s.Index)
		}
		sum = sum.Add(s.Size)
	}
	if !sum.Equal(d("2")) {
		t.Errorf("fallback sizes sum to %s, want 2", sum)
	}

	if again := tw.FallbackSlices(); again != nil {
		t.Errorf("second FallbackSlices call should return nil, got %d", len(again))
	}
}

func TestTWAPConfigValidate(t *testing.T) {
	bad := TWAPConfig{NumSlices: 0, JitterPct: 0.9}
	if err := bad.Validate(); !errors.Is(err, types.ErrInvalidParams) {
		t.Errorf("Validate should wrap ErrInvalidParams, got %v", err)
	}
}
