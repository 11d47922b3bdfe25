package strategy

import (
	"context"
	"testing"
	"time"

	"algoexec/internal/types"
)

func newTestConditional(t *testing.T, cfg ConditionalConfig) *Conditional {
	t.Helper()
	c, err := NewConditional(cfg, nil)
	if err != nil {
		t.Fatalf("NewConditional: %v", err)
	}
	return c
}

func TestConditionalSlicePlan(t *testing.T) {
	c := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("2"),
		TriggerPrice: d("105"),
		Direction:    CrossUp,
		Expiry:       time.Hour,
	})

	slices, err := c.CalculateSlices(context.Background())
	if err != nil {
		t.Fatalf("CalculateSlices: %v", err)
	}
	if len(slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(slices))
	}
	s := slices[0]
	if s.Trigger == nil {
		t.Fatal("slice must carry a trigger")
	}
	if s.Trigger.Direction != CrossUp || !s.Trigger.Threshold.Equal(d("105")) {
		t.Errorf("trigger = %+v, want cross up at 105", s.Trigger)
	}
	if s.Trigger.Expiry.IsZero() {
		t.Error("expiry should be set")
	}
	if s.PriceMode != types.PriceMarket {
		t.Errorf("mode = %s, want MARKET when no limit price is set", s.PriceMode)
	}
}

func TestConditionalLimitPriceMode(t *testing.T) {
	c := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("105"),
		LimitPrice:   d("106"),
	})
	slices, _ := c.CalculateSlices(context.Background())
	if slices[0].PriceMode != types.PriceLimit {
		t.Errorf("mode = %s, want LIMIT", slices[0].PriceMode)
	}
	if !slices[0].Trigger.Expiry.IsZero() {
		t.Error("zero config expiry should leave the trigger unbounded")
	}
}

func TestTriggerCrossedComparators(t *testing.T) {
	up := Trigger{Direction: CrossUp, Threshold: d("100")}
	if up.Crossed(d("99.99")) {
		t.Error("cross up should not fire below the threshold")
	}
	if !up.Crossed(d("100")) {
		t.Error("cross up should fire at the threshold")
	}
	if !up.Crossed(d("100.01")) {
		t.Error("cross up should fire above the threshold")
	}

	down := Trigger{Direction: CrossDown, Threshold: d("100")}
	if down.Crossed(d("100.01")) {
		t.Error("cross down should not fire above the threshold")
	}
	if !down.Crossed(d("100")) {
		t.Error("cross down should fire at the threshold")
	}
	if !down.Crossed(d("99.99")) {
		t.Error("cross down should fire below the threshold")
	}
}

func TestTriggerExpiredAt(t *testing.T) {
	now := time.Now()
	tr := Trigger{Direction: CrossUp, Threshold: d("100"), Expiry: now}
	if tr.ExpiredAt(now.Add(-time.Second)) {
		t.Error("should not be expired before the deadline")
	}
	if !tr.ExpiredAt(now.Add(time.Second)) {
		t.Error("should be expired after the deadline")
	}

	unbounded := Trigger{Direction: CrossUp, Threshold: d("100")}
	if unbounded.ExpiredAt(now.Add(24 * time.Hour)) {
		t.Error("zero expiry should never expire")
	}
}

func TestAutoDirection(t *testing.T) {
	if AutoDirection(d("110"), d("100")) != CrossUp {
		t.Error("trigger above the market should arm cross up")
	}
	if AutoDirection(d("90"), d("100")) != CrossDown {
		t.Error("trigger below the market should arm cross down")
	}
}

func TestConditionalStateMachine(t *testing.T) {
	c := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("105"),
	})
	if c.State() != StateArmed {
		t.Fatalf("initial state = %s, want ARMED", c.State())
	}

	c.OnSliceComplete(Outcome{Index: 1, Status: SliceTriggered})
	if c.State() != StateTriggered {
		t.Fatalf("state = %s, want TRIGGERED", c.State())
	}

	c.OnSliceComplete(Outcome{Index: 1, Status: SlicePlaced})
	if c.State() != StateFired {
		t.Fatalf("state = %s, want FIRED", c.State())
	}

	// Late and replayed events must not move a terminal state.
	c.OnSliceComplete(Outcome{Index: 1, Status: SliceTriggered})
	c.OnSliceComplete(Outcome{Index: 1, Status: SliceExpired})
	c.OnSliceComplete(Outcome{Index: 1, Status: SliceCancelled})
	if c.State() != StateFired {
		t.Errorf("state = %s, want FIRED to stick", c.State())
	}
}

func TestConditionalExpiryAndCancel(t *testing.T) {
	c := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideSell,
		TotalSize:    d("1"),
		TriggerPrice: d("95"),
	})
	c.OnSliceComplete(Outcome{Index: 1, Status: SliceExpired})
	if c.State() != StateExpired {
		t.Errorf("state = %s, want EXPIRED", c.State())
	}

	c2 := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideSell,
		TotalSize:    d("1"),
		TriggerPrice: d("95"),
	})
	c2.OnSliceComplete(Outcome{Index: 1, Status: SliceCancelled})
	if c2.State() != StateCancelled {
		t.Errorf("state = %s, want CANCELLED", c2.State())
	}

	// A placement failure after triggering abandons the order.
	c3 := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideSell,
		TotalSize:    d("1"),
		TriggerPrice: d("95"),
	})
	c3.OnSliceComplete(Outcome{Index: 1, Status: SliceTriggered})
	c3.OnSliceComplete(Outcome{Index: 1, Status: SliceFailed})
	if c3.State() != StateCancelled {
		t.Errorf("state = %s, want CANCELLED after failed placement", c3.State())
	}
}

func TestConditionalBracketLegs(t *testing.T) {
	c := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("2"),
		TriggerPrice: d("105"),
		Bracket: &BracketConfig{
			TakeProfit: d("120"),
			StopLoss:   d("95"),
		},
	})

	tp, sl, ok := c.BracketLegs()
	if !ok {
		t.Fatal("BracketLegs should report a bracket")
	}
	if !tp.LimitPrice.Equal(d("120")) || !tp.Size.Equal(d("2")) {
		t.Errorf("take-profit leg = %s @ %s, want 2 @ 120", tp.Size, tp.LimitPrice)
	}
	if !sl.LimitPrice.Equal(d("95")) || !sl.Size.Equal(d("2")) {
		t.Errorf("stop leg = %s @ %s, want 2 @ 95", sl.Size, sl.LimitPrice)
	}
	if tp.Trigger != nil {
		t.Error("take-profit leg rests immediately, it must not carry a trigger")
	}
	if sl.Trigger == nil {
		t.Fatal("stop leg must be held behind a trigger")
	}
	if sl.Trigger.Direction != CrossDown || !sl.Trigger.Threshold.Equal(d("95")) {
		t.Errorf("long stop trigger = %s @ %s, want CROSS_DOWN @ 95",
			sl.Trigger.Direction, sl.Trigger.Threshold)
	}

	short := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideSell,
		TotalSize:    d("1"),
		TriggerPrice: d("105"),
		Bracket: &BracketConfig{
			TakeProfit: d("90"),
			StopLoss:   d("115"),
		},
	})
	_, shortStop, ok := short.BracketLegs()
	if !ok {
		t.Fatal("BracketLegs should report a bracket")
	}
	if shortStop.Trigger.Direction != CrossUp {
		t.Errorf("short stop trigger direction = %s, want CROSS_UP", shortStop.Trigger.Direction)
	}

	plain := newTestConditional(t, ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("105"),
	})
	if _, _, ok := plain.BracketLegs(); ok {
		t.Error("BracketLegs without a bracket should report false")
	}
}
