// Package executor drives any Strategy through its slice plan: scheduling,
// pre-flight checks, placement with retries, adaptive cancel/replace, and
// final result assembly. Fill tracking is delegated to the monitor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange"
	"algoexec/internal/metrics"
	"algoexec/internal/monitor"
	"algoexec/internal/persistence"
	"algoexec/internal/strategy"
	"algoexec/internal/types"
)

// Config holds executor tuning.
type Config struct {
	// MaxRetries bounds placement retries on transient errors. Backoff is
	// linear: RetryDelay * attempt.
	MaxRetries int
	RetryDelay time.Duration

	// WaitForFills blocks Run until every registered order resolves or
	// SettleTimeout elapses. Disabled, Run returns right after dispatch.
	WaitForFills  bool
	SettleTimeout time.Duration

	// Adaptive cancels a pegged slice unfilled after AdaptiveTimeout and
	// replaces it at a fresh price, up to AdaptiveMaxRetries times. The
	// last attempt is left resting for the monitor.
	AdaptiveEnabled    bool
	AdaptiveTimeout    time.Duration
	AdaptiveMaxRetries int

	// TriggerPollInterval is how often armed conditional slices sample
	// the market.
	TriggerPollInterval time.Duration
}

// DefaultConfig returns default executor tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          time.Second,
		WaitForFills:        true,
		SettleTimeout:       2 * time.Minute,
		AdaptiveTimeout:     30 * time.Second,
		AdaptiveMaxRetries:  3,
		TriggerPollInterval: 500 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = d.SettleTimeout
	}
	if c.AdaptiveTimeout <= 0 {
		c.AdaptiveTimeout = d.AdaptiveTimeout
	}
	if c.AdaptiveMaxRetries <= 0 {
		c.AdaptiveMaxRetries = d.AdaptiveMaxRetries
	}
	if c.TriggerPollInterval <= 0 {
		c.TriggerPollInterval = d.TriggerPollInterval
	}
}

// Executor runs strategies against an exchange.
type Executor struct {
	cfg    Config
	exch   exchange.Exchange
	adm    *admission.Controller
	mon    *monitor.Monitor
	repo   persistence.Repository
	rec    *metrics.Recorder
	logger *slog.Logger
}

// New creates an executor. repo and rec may be nil.
func New(cfg Config, exch exchange.Exchange, adm *admission.Controller, mon *monitor.Monitor, repo persistence.Repository, rec *metrics.Recorder, logger *slog.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		exch:   exch,
		adm:    adm,
		mon:    mon,
		repo:   repo,
		rec:    rec,
		logger: logger,
	}
}

// Run executes a strategy to completion. Cancellation stops dispatching new
// slices and returns the partial result alongside the context error;
// already-placed orders stay with the monitor.
func (e *Executor) Run(ctx context.Context, strat strategy.Strategy) (*strategy.Result, error) {
	slices, err := strat.CalculateSlices(ctx)
	if err != nil {
		return nil, fmt.Errorf("calculate slices: %w", err)
	}
	if err := checkPlan(slices, strat.TotalSize()); err != nil {
		return nil, err
	}

	executionID := uuid.NewString()
	state := newExecutionState(executionID, strat)
	logger := e.logger.With("execution_id", executionID, "strategy", strat.Name())

	logger.Info("execution starting",
		"product", strat.ProductID(),
		"side", strat.Side().String(),
		"total_size", strat.TotalSize(),
		"slices", len(slices),
	)
	if e.rec != nil {
		e.rec.RecordExecutionStarted(strat.Name())
	}
	e.checkpoint(ctx, state, strategy.ExecutionRunning, len(slices))

	quote := e.quoteIncrement(ctx, strat.ProductID())

	start := time.Now()
	cancelled := false
	for _, spec := range slices {
		if err := sleepUntil(ctx, start.Add(spec.Offset)); err != nil {
			cancelled = true
			break
		}
		if spec.Trigger != nil {
			e.runTriggered(ctx, strat, state, spec, quote, logger)
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			continue
		}
		e.runSlice(ctx, strat, state, spec, quote, sliceOpts{skipCheck: true, adaptive: true}, logger)
		if ctx.Err() != nil {
			cancelled = true
			break
		}
	}

	if !cancelled {
		if fb, ok := strat.(strategy.MarketFallbacker); ok {
			for _, spec := range fb.FallbackSlices() {
				e.runSlice(ctx, strat, state, spec, quote, sliceOpts{}, logger)
			}
		}
		if e.cfg.WaitForFills {
			if !e.mon.WaitExecution(ctx, executionID, e.cfg.SettleTimeout) {
				logger.Warn("orders still outstanding after settle timeout",
					"outstanding", e.mon.Outstanding(executionID))
			}
		}
	}

	status := e.finalStatus(state, strat, executionID, cancelled)
	res := state.Result(status, len(slices))
	if fin, ok := strat.(strategy.Finalizer); ok {
		fin.Finalize(res)
	}
	e.checkpoint(context.WithoutCancel(ctx), state, status, len(slices))
	if e.rec != nil {
		e.rec.RecordExecutionCompleted(strat.Name(), status.String())
	}

	logger.Info("execution finished",
		"status", status.String(),
		"filled", res.FilledSize,
		"avg_price", res.AvgPrice,
		"fees", res.Fees,
	)

	if cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

// checkPlan validates the slice plan: positive sizes, unique increasing
// indices, sizes summing exactly to the total.
func checkPlan(slices []strategy.SliceSpec, total decimal.Decimal) error {
	if len(slices) == 0 {
		return fmt.Errorf("%w: empty slice plan", types.ErrInvalidParams)
	}
	sum := decimal.Zero
	for i, s := range slices {
		if s.Index != i+1 {
			return fmt.Errorf("%w: slice indices must be 1..n", types.ErrInvalidParams)
		}
		if !s.Size.IsPositive() {
			return fmt.Errorf("%w: slice %d has non-positive size", types.ErrInvalidParams, s.Index)
		}
		sum = sum.Add(s.Size)
	}
	if !sum.Equal(total) {
		return fmt.Errorf("%w: slice sizes sum to %s, want %s", types.ErrInvalidParams, sum, total)
	}
	return nil
}

type sliceOpts struct {
	skipCheck bool
	adaptive  bool
}

// runSlice takes one spec through pre-flight, pricing and placement.
func (e *Executor) runSlice(ctx context.Context, strat strategy.Strategy, state *ExecutionState, spec strategy.SliceSpec, quote decimal.Decimal, opts sliceOpts, logger *slog.Logger) {
	snap := e.snapshot(ctx, strat.ProductID())

	if opts.skipCheck {
		if skip, reason := strat.ShouldSkip(ctx, spec.Index, snap); skip {
			logger.Info("slice skipped", "slice", spec.Index, "reason", reason)
			e.reportOutcome(ctx, strat, state, strategy.Outcome{
				Index:  spec.Index,
				Status: strategy.SliceSkipped,
				Reason: reason,
			})
			return
		}
	}

	price, err := strat.ResolvePrice(ctx, spec, snap)
	if err != nil {
		status := strategy.SliceFailed
		if errors.Is(err, types.ErrSliceRejected) || errors.Is(err, types.ErrDataUnavailable) {
			status = strategy.SliceSkipped
		}
		logger.Info("slice held back at pricing", "slice", spec.Index, "status", status.String(), "err", err)
		e.reportOutcome(ctx, strat, state, strategy.Outcome{
			Index:  spec.Index,
			Status: status,
			Reason: err.Error(),
		})
		return
	}
	price = snapPrice(price, quote, strat.Side())

	orderID, err := e.place(ctx, strat, strat.Side(), spec.Size, price, logger)
	if err != nil {
		logger.Error("slice placement failed", "slice", spec.Index, "err", err)
		e.reportOutcome(ctx, strat, state, strategy.Outcome{
			Index:  spec.Index,
			Status: strategy.SliceFailed,
			Reason: err.Error(),
		})
		return
	}

	e.track(ctx, strat, state, spec.Index, orderID, spec.Size, logger)
	strat.OnSliceComplete(strategy.Outcome{Index: spec.Index, OrderID: orderID, Status: strategy.SlicePlaced})
	if e.rec != nil {
		e.rec.RecordSlice(strat.Name(), "placed")
	}

	if opts.adaptive && e.cfg.AdaptiveEnabled && pegged(spec.PriceMode) {
		e.adaptiveReplace(ctx, strat, state, spec, orderID, quote, logger)
	}
}

func pegged(mode types.PriceMode) bool {
	switch mode {
	case types.PriceBid, types.PriceMid, types.PriceAsk:
		return true
	default:
		return false
	}
}

// adaptiveReplace cancels an unfilled pegged order and re-places the
// remainder at a fresh price. The final attempt is left resting.
func (e *Executor) adaptiveReplace(ctx context.Context, strat strategy.Strategy, state *ExecutionState, spec strategy.SliceSpec, orderID string, quote decimal.Decimal, logger *slog.Logger) {
	remaining := spec.Size
	for attempt := 1; attempt <= e.cfg.AdaptiveMaxRetries; attempt++ {
		if _, done := e.mon.WaitOrder(ctx, orderID, e.cfg.AdaptiveTimeout); done {
			return
		}
		if ctx.Err() != nil {
			return
		}

		logger.Info("adaptive replace: cancelling stale order",
			"slice", spec.Index, "order_id", orderID, "attempt", attempt)
		if err := e.cancel(ctx, orderID); err != nil {
			logger.Warn("adaptive cancel failed", "order_id", orderID, "err", err)
			return
		}
		ev, done := e.mon.WaitOrder(ctx, orderID, 5*time.Second)
		if !done {
			return
		}
		if ev.Status == types.OrderStatusFilled {
			return
		}
		remaining = remaining.Sub(ev.FilledSize)
		if !remaining.IsPositive() {
			return
		}

		snap := e.snapshot(ctx, strat.ProductID())
		price, err := strat.ResolvePrice(ctx, spec, snap)
		if err != nil {
			logger.Warn("adaptive replace: repricing failed", "slice", spec.Index, "err", err)
			e.reportOutcome(ctx, strat, state, strategy.Outcome{
				Index:      spec.Index,
				OrderID:    orderID,
				Status:     strategy.SliceFailed,
				Reason:     fmt.Sprintf("adaptive repricing: %v", err),
				FilledSize: spec.Size.Sub(remaining),
			})
			return
		}
		price = snapPrice(price, quote, strat.Side())

		newID, err := e.place(ctx, strat, strat.Side(), remaining, price, logger)
		if err != nil {
			e.reportOutcome(ctx, strat, state, strategy.Outcome{
				Index:      spec.Index,
				OrderID:    orderID,
				Status:     strategy.SliceFailed,
				Reason:     fmt.Sprintf("adaptive replace: %v", err),
				FilledSize: spec.Size.Sub(remaining),
			})
			return
		}
		logger.Info("adaptive replace: order replaced",
			"slice", spec.Index, "old_order_id", orderID, "order_id", newID, "remaining", remaining, "price", price)
		orderID = newID
		e.track(ctx, strat, state, spec.Index, orderID, remaining, logger)
	}
	logger.Info("adaptive replace budget exhausted, leaving order resting",
		"slice", spec.Index, "order_id", orderID)
}

// runTriggered waits for a conditional slice's trigger, then fires the
// order (or both bracket legs).
func (e *Executor) runTriggered(ctx context.Context, strat strategy.Strategy, state *ExecutionState, spec strategy.SliceSpec, quote decimal.Decimal, logger *slog.Logger) {
	trig := spec.Trigger
	logger.Info("trigger armed",
		"slice", spec.Index,
		"direction", trig.Direction.String(),
		"threshold", trig.Threshold,
	)

	for {
		now := time.Now()
		if trig.ExpiredAt(now) {
			logger.Info("trigger expired", "slice", spec.Index)
			e.reportOutcome(ctx, strat, state, strategy.Outcome{
				Index:  spec.Index,
				Status: strategy.SliceExpired,
				Reason: "trigger expired while armed",
			})
			return
		}

		snap := e.snapshot(ctx, strat.ProductID())
		if snap.Valid() && trig.Crossed(snap.Mid()) {
			logger.Info("trigger fired", "slice", spec.Index, "mid", snap.Mid())
			strat.OnSliceComplete(strategy.Outcome{Index: spec.Index, Status: strategy.SliceTriggered})
			break
		}

		select {
		case <-ctx.Done():
			e.reportOutcome(context.WithoutCancel(ctx), strat, state, strategy.Outcome{
				Index:  spec.Index,
				Status: strategy.SliceCancelled,
				Reason: "cancelled while armed",
			})
			return
		case <-time.After(e.cfg.TriggerPollInterval):
		}
	}

	if br, ok := strat.(strategy.Bracketer); ok {
		if tp, sl, set := br.BracketLegs(); set {
			e.placeBracket(ctx, strat, state, tp, sl, quote, logger)
			return
		}
	}
	e.runSlice(ctx, strat, state, spec, quote, sliceOpts{}, logger)
}

// placeBracket rests the take-profit leg and arms the stop leg behind its
// trigger. Legs close the position, so they go on the opposite side of the
// entry. The stop is not sent to the exchange up front: a closing limit at
// the stop price would cross the book and execute immediately, so it only
// goes out once the market breaks through the stop level.
func (e *Executor) placeBracket(ctx context.Context, strat strategy.Strategy, state *ExecutionState, tp, sl strategy.SliceSpec, quote decimal.Decimal, logger *slog.Logger) {
	closing := strat.Side().Opposite()
	tpPrice := snapPrice(tp.LimitPrice, quote, closing)

	tpID, err := e.place(ctx, strat, closing, tp.Size, tpPrice, logger)
	if err != nil {
		e.reportOutcome(ctx, strat, state, strategy.Outcome{
			Index:  tp.Index,
			Status: strategy.SliceFailed,
			Reason: fmt.Sprintf("take-profit leg: %v", err),
		})
		return
	}
	e.track(ctx, strat, state, tp.Index, tpID, tp.Size, logger)
	strat.OnSliceComplete(strategy.Outcome{Index: tp.Index, OrderID: tpID, Status: strategy.SlicePlaced})
	logger.Info("bracket take-profit resting", "take_profit", tpID, "price", tpPrice)

	e.watchStopLeg(ctx, strat, state, sl, tpID, quote, logger)
}

// watchStopLeg holds the stop order behind its trigger. The take-profit
// resolving first disarms the stop; the trigger firing places the stop and
// links the pair so whichever leg fills cancels the other.
func (e *Executor) watchStopLeg(ctx context.Context, strat strategy.Strategy, state *ExecutionState, sl strategy.SliceSpec, tpID string, quote decimal.Decimal, logger *slog.Logger) {
	trig := sl.Trigger
	logger.Info("stop leg armed",
		"threshold", trig.Threshold,
		"direction", trig.Direction.String(),
	)

	for {
		if ev, done := e.mon.WaitOrder(ctx, tpID, e.cfg.TriggerPollInterval); done {
			logger.Info("stop leg disarmed, take-profit resolved first",
				"take_profit_status", ev.Status.String())
			e.reportOutcome(ctx, strat, state, strategy.Outcome{
				Index:  sl.Index,
				Status: strategy.SliceSkipped,
				Reason: "stop disarmed: take-profit leg resolved first",
			})
			return
		}
		if ctx.Err() != nil {
			e.reportOutcome(context.WithoutCancel(ctx), strat, state, strategy.Outcome{
				Index:  sl.Index,
				Status: strategy.SliceCancelled,
				Reason: "cancelled while stop leg armed",
			})
			return
		}
		snap := e.snapshot(ctx, strat.ProductID())
		if snap.Valid() && trig.Crossed(snap.Mid()) {
			logger.Info("stop leg triggered", "mid", snap.Mid())
			break
		}
	}

	closing := strat.Side().Opposite()
	slPrice := snapPrice(sl.LimitPrice, quote, closing)
	slID, err := e.place(ctx, strat, closing, sl.Size, slPrice, logger)
	if err != nil {
		// The pair is broken; pull the take-profit rather than leave a
		// naked order resting.
		_ = e.cancel(ctx, tpID)
		e.reportOutcome(ctx, strat, state, strategy.Outcome{
			Index:  sl.Index,
			Status: strategy.SliceFailed,
			Reason: fmt.Sprintf("stop leg: %v", err),
		})
		return
	}
	e.track(ctx, strat, state, sl.Index, slID, sl.Size, logger)
	e.mon.LinkOCO(tpID, slID)
	if e.repo != nil {
		if err := e.repo.SaveOCOPair(ctx, state.executionID, tpID, slID); err != nil {
			logger.Warn("persist oco pair", "err", err)
		}
	}
	logger.Info("stop leg placed", "take_profit", tpID, "stop", slID, "price", slPrice)
}

// place submits one order through admission, retrying transient failures
// with linear backoff. Terminal rejections are returned immediately.
func (e *Executor) place(ctx context.Context, strat strategy.Strategy, side types.Side, size, price decimal.Decimal, logger *slog.Logger) (string, error) {
	req := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     strat.ProductID(),
		Side:          side,
		Size:          size,
		Price:         price,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		if err := e.adm.Acquire(ctx, 1); err != nil {
			return "", err
		}
		orderID, err := e.exch.PlaceLimitOrder(ctx, req)
		if err == nil {
			if e.rec != nil {
				e.rec.RecordOrderPlaced(req.ProductID, req.Side.String())
			}
			return orderID, nil
		}
		lastErr = err
		if e.rec != nil {
			kind := "terminal"
			if types.IsTransient(err) {
				kind = "transient"
			}
			e.rec.RecordExchangeError(kind)
		}
		if !types.IsTransient(err) {
			return "", err
		}
		logger.Warn("placement failed, retrying",
			"attempt", attempt, "max", e.cfg.MaxRetries+1, "err", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
	return "", fmt.Errorf("placement retries exhausted: %w", lastErr)
}

func (e *Executor) cancel(ctx context.Context, orderID string) error {
	if err := e.adm.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := e.exch.CancelOrders(ctx, []string{orderID}); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if e.rec != nil {
		e.rec.RecordOrderCancelled()
	}
	return nil
}

// track registers an order with the monitor, wiring fills into the
// execution state and terminal events back to the strategy.
func (e *Executor) track(ctx context.Context, strat strategy.Strategy, state *ExecutionState, index int, orderID string, size decimal.Decimal, logger *slog.Logger) {
	bg := context.WithoutCancel(ctx)
	e.mon.Register(monitor.Registration{
		ExecutionID: state.executionID,
		SliceIndex:  index,
		OrderID:     orderID,
		Size:        size,
		OnFill: func(f types.Fill) {
			state.ApplyFill(f)
		},
		OnTerminal: func(ev monitor.TerminalEvent) {
			outcome := strategy.Outcome{
				Index:      index,
				OrderID:    ev.OrderID,
				Status:     terminalStatus(ev.Status),
				FilledSize: ev.FilledSize,
				AvgPrice:   ev.AvgPrice(),
				Fees:       ev.Fees,
				Makers:     ev.Makers,
				Takers:     ev.Takers,
			}
			logger.Info("slice resolved",
				"slice", index,
				"order_id", ev.OrderID,
				"status", outcome.Status.String(),
				"filled", ev.FilledSize,
			)
			e.reportOutcome(bg, strat, state, outcome)
		},
	})
}

func terminalStatus(s types.OrderStatus) strategy.SliceStatus {
	switch s {
	case types.OrderStatusFilled:
		return strategy.SliceFilled
	case types.OrderStatusRejected:
		return strategy.SliceFailed
	default:
		return strategy.SliceCancelled
	}
}

// reportOutcome fans a terminal outcome out to state, strategy, metrics and
// the checkpoint store.
func (e *Executor) reportOutcome(ctx context.Context, strat strategy.Strategy, state *ExecutionState, outcome strategy.Outcome) {
	state.RecordOutcome(outcome)
	strat.OnSliceComplete(outcome)
	if e.rec != nil {
		switch outcome.Status {
		case strategy.SliceSkipped:
			e.rec.RecordSlice(strat.Name(), "skipped")
		case strategy.SliceFailed, strategy.SliceExpired:
			e.rec.RecordSlice(strat.Name(), "failed")
		case strategy.SliceFilled:
			e.rec.RecordSlice(strat.Name(), "filled")
		case strategy.SliceCancelled:
			e.rec.RecordSlice(strat.Name(), "cancelled")
		}
	}
	if e.repo != nil {
		rec := persistence.SliceRecord{
			ExecutionID: state.executionID,
			SliceIndex:  outcome.Index,
			OrderID:     outcome.OrderID,
			Status:      outcome.Status.String(),
			Reason:      outcome.Reason,
			FilledSize:  outcome.FilledSize,
			AvgPrice:    outcome.AvgPrice,
			Fees:        outcome.Fees,
			UpdatedAt:   time.Now(),
		}
		if err := e.repo.SaveSliceOutcome(ctx, rec); err != nil {
			e.logger.Warn("persist slice outcome", "slice", outcome.Index, "err", err)
		}
	}
}

// checkpoint persists the execution's running totals.
func (e *Executor) checkpoint(ctx context.Context, state *ExecutionState, status strategy.ExecutionStatus, numSlices int) {
	if e.repo == nil {
		return
	}
	res := state.Result(status, numSlices)
	rec := persistence.ExecutionRecord{
		ExecutionID: res.ExecutionID,
		Strategy:    res.Strategy,
		ProductID:   res.ProductID,
		Side:        res.Side,
		Status:      status.String(),
		TotalSize:   res.TotalSize,
		FilledSize:  res.FilledSize,
		AvgPrice:    res.AvgPrice,
		Fees:        res.Fees,
		StartedAt:   res.StartedAt,
	}
	var err error
	if status == strategy.ExecutionRunning {
		err = e.repo.SaveExecution(ctx, rec)
	} else {
		finished := res.FinishedAt
		rec.FinishedAt = &finished
		err = e.repo.FinishExecution(ctx, rec)
	}
	if err != nil {
		e.logger.Warn("persist execution", "execution_id", res.ExecutionID, "err", err)
	}
}

// finalStatus classifies the run.
func (e *Executor) finalStatus(state *ExecutionState, strat strategy.Strategy, executionID string, cancelled bool) strategy.ExecutionStatus {
	if cancelled {
		return strategy.ExecutionCancelled
	}
	filled := state.FilledSize()
	switch {
	case filled.GreaterThanOrEqual(strat.TotalSize()):
		return strategy.ExecutionCompleted
	case filled.IsPositive() || e.mon.Outstanding(executionID) > 0:
		return strategy.ExecutionPartial
	default:
		res := state.Result(strategy.ExecutionRunning, 0)
		if res.NumSkipped > 0 && res.NumFailed == 0 {
			return strategy.ExecutionPartial
		}
		return strategy.ExecutionFailed
	}
}

// snapshot fetches the current book through admission. Errors produce a
// zero snapshot; callers decide whether that is fatal for the slice.
func (e *Executor) snapshot(ctx context.Context, productID string) types.MarketSnapshot {
	if err := e.adm.Acquire(ctx, 1); err != nil {
		return types.MarketSnapshot{}
	}
	snap, err := e.exch.GetSnapshot(ctx, productID)
	if err != nil {
		e.logger.Debug("snapshot unavailable", "product", productID, "err", err)
		return types.MarketSnapshot{}
	}
	return snap
}

// quoteIncrement fetches the product's price increment, zero when unknown.
func (e *Executor) quoteIncrement(ctx context.Context, productID string) decimal.Decimal {
	if err := e.adm.Acquire(ctx, 1); err != nil {
		return decimal.Zero
	}
	info, err := e.exch.GetProduct(ctx, productID)
	if err != nil {
		e.logger.Warn("product info unavailable", "product", productID, "err", err)
		return decimal.Zero
	}
	return info.QuoteIncrement
}

// snapPrice aligns a price to the quote increment, rounding toward the
// passive side so the aligned price is never more aggressive than asked.
func snapPrice(price, increment decimal.Decimal, side types.Side) decimal.Decimal {
	if !increment.IsPositive() {
		return price
	}
	steps := price.Div(increment)
	if side == types.SideBuy {
		return steps.Floor().Mul(increment)
	}
	return steps.Ceil().Mul(increment)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
