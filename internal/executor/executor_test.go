package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange/paper"
	"algoexec/internal/monitor"
	"algoexec/internal/strategy"
	"algoexec/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	exch *paper.Exchange
	feed *paper.Feed
	adm  *admission.Controller
	mon  *monitor.Monitor
	exec *Executor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	feed := paper.NewFeed()
	pcfg := paper.DefaultConfig()
	pcfg.FillDelay = 0
	exch := paper.New(pcfg, feed, nil)
	t.Cleanup(exch.Close)

	adm := admission.New(1000, 1000, nil, nil)
	mon := monitor.New(monitor.Config{
		PollInterval:       10 * time.Millisecond,
		BackupPollInterval: 20 * time.Millisecond,
		MaxBatch:           50,
		Staleness:          time.Second,
	}, exch, adm, feed, nil, nil)
	mon.Start()
	t.Cleanup(mon.Stop)

	return &harness{
		exch: exch,
		feed: feed,
		adm:  adm,
		mon:  mon,
		exec: New(cfg, exch, adm, mon, nil, nil, nil),
	}
}

func settleConfig() Config {
	return Config{
		MaxRetries:          2,
		RetryDelay:          time.Millisecond,
		WaitForFills:        true,
		SettleTimeout:       5 * time.Second,
		TriggerPollInterval: 10 * time.Millisecond,
	}
}

func newTWAP(t *testing.T, h *harness, cfg strategy.TWAPConfig) *strategy.TWAP {
	t.Helper()
	tw, err := strategy.NewTWAP(cfg, h.exch, h.adm, nil)
	if err != nil {
		t.Fatalf("NewTWAP: %v", err)
	}
	return tw
}

func TestRunTWAPToCompletion(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	tw := newTWAP(t, h, strategy.TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("1.5"),
		Duration:   150 * time.Millisecond,
		NumSlices:  3,
		LimitPrice: d("101"),
	})

	res, err := h.exec.Run(context.Background(), tw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if !res.FilledSize.Equal(d("1.5")) {
		t.Errorf("filled = %s, want 1.5", res.FilledSize)
	}
	if res.NumSlices != 3 || res.NumFilled != 3 {
		t.Errorf("slices = %d filled = %d, want 3/3", res.NumSlices, res.NumFilled)
	}
	// Crossing the book fills as taker at the order price.
	if !res.AvgPrice.Equal(d("101")) {
		t.Errorf("avg price = %s, want 101", res.AvgPrice)
	}
	if res.Takers != 3 || res.Makers != 0 {
		t.Errorf("takers/makers = %d/%d, want 3/0", res.Takers, res.Makers)
	}
	if !res.Fees.IsPositive() {
		t.Error("taker fills should accrue fees")
	}
}

func TestRunLadderMakerFills(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	ld, err := strategy.NewLadder(strategy.LadderConfig{
		ProductID: "BTC-USD",
		Side:      types.SideBuy,
		TotalSize: d("2"),
		PriceLow:  d("98"),
		PriceHigh: d("99"),
		NumOrders: 2,
	}, nil)
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}

	// Both levels rest below the book; the market comes down to them while
	// Run waits for fills.
	go func() {
		time.Sleep(150 * time.Millisecond)
		h.exch.MovePrice("BTC-USD", d("97.9"), d("98"))
	}()

	res, err := h.exec.Run(context.Background(), ld)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if !res.FilledSize.Equal(d("2")) {
		t.Errorf("filled = %s, want 2", res.FilledSize)
	}
	if res.Makers != 2 || res.Takers != 0 {
		t.Errorf("makers/takers = %d/%d, want 2/0", res.Makers, res.Takers)
	}
}

func TestRunRetriesTransientPlacement(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))
	h.exch.FailNextPlacements(fmt.Errorf("gateway timeout: %w", types.ErrExchangeTransient))

	tw := newTWAP(t, h, strategy.TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("1"),
		Duration:   10 * time.Millisecond,
		NumSlices:  1,
		LimitPrice: d("101"),
	})

	res, err := h.exec.Run(context.Background(), tw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED after a transient retry", res.Status)
	}
	if !res.FilledSize.Equal(d("1")) {
		t.Errorf("filled = %s, want 1", res.FilledSize)
	}
}

func TestRunTerminalRejectionDoesNotRetry(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))
	h.exch.FailNextPlacements(fmt.Errorf("size too small: %w", types.ErrExchangeRejected))

	tw := newTWAP(t, h, strategy.TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("1"),
		Duration:   10 * time.Millisecond,
		NumSlices:  1,
		LimitPrice: d("101"),
	})

	res, err := h.exec.Run(context.Background(), tw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionFailed {
		t.Errorf("status = %s, want FAILED", res.Status)
	}
	if res.NumFailed != 1 {
		t.Errorf("failed slices = %d, want 1", res.NumFailed)
	}
	if !res.FilledSize.IsZero() {
		t.Errorf("filled = %s, want 0", res.FilledSize)
	}
}

func TestRunConditionalTriggerFires(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	cond, err := strategy.NewConditional(strategy.ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("100"),
		Direction:    strategy.CrossUp,
	}, nil)
	if err != nil {
		t.Fatalf("NewConditional: %v", err)
	}

	res, err := h.exec.Run(context.Background(), cond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if cond.State() != strategy.StateFired {
		t.Errorf("state = %s, want FIRED", cond.State())
	}
	// Market-mode buy crosses the ask.
	if !res.AvgPrice.Equal(d("100.1")) {
		t.Errorf("avg price = %s, want 100.1", res.AvgPrice)
	}
}

func TestRunConditionalExpires(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	cond, err := strategy.NewConditional(strategy.ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("200"),
		Direction:    strategy.CrossUp,
		Expiry:       50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewConditional: %v", err)
	}

	res, err := h.exec.Run(context.Background(), cond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionFailed {
		t.Errorf("status = %s, want FAILED for an expired trigger", res.Status)
	}
	if cond.State() != strategy.StateExpired {
		t.Errorf("state = %s, want EXPIRED", cond.State())
	}
	if !res.FilledSize.IsZero() {
		t.Errorf("filled = %s, want 0", res.FilledSize)
	}
}

func TestRunBracketStopFiresAndCancelsTakeProfit(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	// Long position bracket: the sell take-profit rests above the market and
	// the stop leg stays armed below it. The stop must not reach the
	// exchange while the market trades above the stop price.
	cond, err := strategy.NewConditional(strategy.ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("100"),
		Direction:    strategy.CrossUp,
		Bracket: &strategy.BracketConfig{
			TakeProfit: d("110"),
			StopLoss:   d("95"),
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewConditional: %v", err)
	}

	// Break down through the stop to fire it, then tick back up to the stop
	// limit so the placed sell fills as maker.
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.exch.MovePrice("BTC-USD", d("94.8"), d("94.9"))
		time.Sleep(300 * time.Millisecond)
		h.exch.MovePrice("BTC-USD", d("95"), d("95.1"))
	}()

	res, err := h.exec.Run(context.Background(), cond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if cond.State() != strategy.StateFired {
		t.Errorf("state = %s, want FIRED", cond.State())
	}
	if !res.FilledSize.Equal(d("1")) {
		t.Errorf("filled = %s, want the stop leg's full size", res.FilledSize)
	}
	if !res.AvgPrice.Equal(d("95")) {
		t.Errorf("avg price = %s, want the stop price 95", res.AvgPrice)
	}
	// The cancelled take-profit is the expected end of a bracket, not a
	// failure.
	if res.NumFilled != 1 || res.NumFailed != 0 || res.NumCancelled != 1 {
		t.Errorf("filled/failed/cancelled = %d/%d/%d, want 1/0/1",
			res.NumFilled, res.NumFailed, res.NumCancelled)
	}
}

func TestRunBracketTakeProfitDisarmsStop(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	cond, err := strategy.NewConditional(strategy.ConditionalConfig{
		ProductID:    "BTC-USD",
		Side:         types.SideBuy,
		TotalSize:    d("1"),
		TriggerPrice: d("100"),
		Direction:    strategy.CrossUp,
		Bracket: &strategy.BracketConfig{
			TakeProfit: d("110"),
			StopLoss:   d("95"),
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewConditional: %v", err)
	}

	// The market rallies through the take-profit; the armed stop leg must
	// disarm without ever being placed.
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.exch.MovePrice("BTC-USD", d("110"), d("110.1"))
	}()

	res, err := h.exec.Run(context.Background(), cond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != strategy.ExecutionCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if !res.FilledSize.Equal(d("1")) {
		t.Errorf("filled = %s, want the take-profit's full size", res.FilledSize)
	}
	if !res.AvgPrice.Equal(d("110")) {
		t.Errorf("avg price = %s, want 110", res.AvgPrice)
	}
	if res.NumFilled != 1 || res.NumSkipped != 1 || res.NumFailed != 0 {
		t.Errorf("filled/skipped/failed = %d/%d/%d, want 1/1/0",
			res.NumFilled, res.NumSkipped, res.NumFailed)
	}
	if h.mon.InFlight() != 0 {
		t.Errorf("monitor still tracks %d orders, want 0", h.mon.InFlight())
	}
}

func TestRunCancelledContext(t *testing.T) {
	h := newHarness(t, settleConfig())
	h.exch.SetBook("BTC-USD", d("100"), d("100.1"))

	tw := newTWAP(t, h, strategy.TWAPConfig{
		ProductID:  "BTC-USD",
		Side:       types.SideBuy,
		TotalSize:  d("10"),
		Duration:   time.Hour,
		NumSlices:  10,
		LimitPrice: d("101"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := h.exec.Run(ctx, tw)
	if err == nil {
		t.Fatal("Run should return the context error when cancelled")
	}
	if res == nil {
		t.Fatal("Run should still return the partial result")
	}
	if res.Status != strategy.ExecutionCancelled {
		t.Errorf("status = %s, want CANCELLED", res.Status)
	}
}

func TestCheckPlan(t *testing.T) {
	good := []strategy.SliceSpec{
		{Index: 1, Size: d("0.5")},
		{Index: 2, Size: d("0.5")},
	}
	if err := checkPlan(good, d("1")); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}

	if err := checkPlan(nil, d("1")); err == nil {
		t.Error("empty plan should fail")
	}

	badIndex := []strategy.SliceSpec{{Index: 2, Size: d("1")}}
	if err := checkPlan(badIndex, d("1")); err == nil {
		t.Error("non-contiguous indices should fail")
	}

	badSum := []strategy.SliceSpec{
		{Index: 1, Size: d("0.5")},
		{Index: 2, Size: d("0.4")},
	}
	if err := checkPlan(badSum, d("1")); err == nil {
		t.Error("sizes not summing to the total should fail")
	}

	badSize := []strategy.SliceSpec{
		{Index: 1, Size: d("1")},
		{Index: 2, Size: d("0")},
	}
	if err := checkPlan(badSize, d("1")); err == nil {
		t.Error("zero-size slice should fail")
	}
}

func TestSnapPrice(t *testing.T) {
	inc := d("0.01")
	if got := snapPrice(d("100.567"), inc, types.SideBuy); !got.Equal(d("100.56")) {
		t.Errorf("buy snap = %s, want 100.56", got)
	}
	if got := snapPrice(d("100.561"), inc, types.SideSell); !got.Equal(d("100.57")) {
		t.Errorf("sell snap = %s, want 100.57", got)
	}
	if got := snapPrice(d("100.5"), decimal.Zero, types.SideBuy); !got.Equal(d("100.5")) {
		t.Errorf("zero increment should pass prices through, got %s", got)
	}
}
