// Package monitor tracks in-flight orders in the background, reconciling
// batched status polls with pushed fill events. Fill application is
// idempotent on fill ID, so a fill seen on both paths counts once.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/admission"
	"algoexec/internal/exchange"
	"algoexec/internal/metrics"
	"algoexec/internal/types"
)

// Config holds monitor tuning.
type Config struct {
	// PollInterval is used when no fresh push feed is available.
	PollInterval time.Duration
	// BackupPollInterval is used while the push feed is healthy.
	BackupPollInterval time.Duration
	// MaxBatch caps order IDs per status request.
	MaxBatch int
	// Staleness is how quiet the feed may go before polling tightens.
	Staleness time.Duration
}

// DefaultConfig returns default monitor tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:       500 * time.Millisecond,
		BackupPollInterval: 30 * time.Second,
		MaxBatch:           50,
		Staleness:          5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BackupPollInterval <= 0 {
		c.BackupPollInterval = d.BackupPollInterval
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.MaxBatch
	}
	if c.Staleness <= 0 {
		c.Staleness = d.Staleness
	}
}

// TerminalEvent describes an order reaching a terminal state, with its
// aggregated fills.
type TerminalEvent struct {
	ExecutionID string
	SliceIndex  int
	OrderID     string
	Status      types.OrderStatus
	FilledSize  decimal.Decimal
	Notional    decimal.Decimal
	Fees        decimal.Decimal
	Makers      int
	Takers      int
}

// AvgPrice returns notional / filled size, zero when unfilled.
func (e TerminalEvent) AvgPrice() decimal.Decimal {
	if !e.FilledSize.IsPositive() {
		return decimal.Zero
	}
	return e.Notional.Div(e.FilledSize)
}

// Registration subscribes an order to monitoring. OnFill fires once per new
// fill; OnTerminal fires exactly once when the order leaves the in-flight
// set. Both are called without monitor locks held.
type Registration struct {
	ExecutionID string
	SliceIndex  int
	OrderID     string
	Size        decimal.Decimal
	OnFill      func(types.Fill)
	OnTerminal  func(TerminalEvent)
}

type entry struct {
	reg     Registration
	applied map[string]struct{}
	filled  decimal.Decimal
	value   decimal.Decimal
	fees    decimal.Decimal
	makers  int
	takers  int
	pushed  bool
	sibling string
}

func (e *entry) event(status types.OrderStatus) TerminalEvent {
	return TerminalEvent{
		ExecutionID: e.reg.ExecutionID,
		SliceIndex:  e.reg.SliceIndex,
		OrderID:     e.reg.OrderID,
		Status:      status,
		FilledSize:  e.filled,
		Notional:    e.value,
		Fees:        e.fees,
		Makers:      e.makers,
		Takers:      e.takers,
	}
}

// Monitor is the background fill monitor.
type Monitor struct {
	cfg    Config
	exch   exchange.Exchange
	adm    *admission.Controller
	feed   exchange.Feed
	rec    *metrics.Recorder
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	execCounts map[string]int
	results    map[string]TerminalEvent
	buffered   map[string][]types.Fill
	lastPoll   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. feed and rec may be nil.
func New(cfg Config, exch exchange.Exchange, adm *admission.Controller, feed exchange.Feed, rec *metrics.Recorder, logger *slog.Logger) *Monitor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:        cfg,
		exch:       exch,
		adm:        adm,
		feed:       feed,
		rec:        rec,
		logger:     logger,
		entries:    make(map[string]*entry),
		execCounts: make(map[string]int),
		results:    make(map[string]TerminalEvent),
		buffered:   make(map[string][]types.Fill),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the feed and begins polling.
func (m *Monitor) Start() {
	if m.feed != nil {
		m.feed.SubscribeFills(m.HandleFill)
	}
	m.wg.Add(1)
	go m.pollLoop()
	m.logger.Info("fill monitor started",
		"poll_interval", m.cfg.PollInterval,
		"backup_poll_interval", m.cfg.BackupPollInterval,
		"max_batch", m.cfg.MaxBatch,
	)
}

// Stop halts polling. Orders still in flight stay unresolved.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("fill monitor stopped")
}

// Register begins tracking an order. Fills pushed before registration were
// buffered and are applied immediately.
func (m *Monitor) Register(reg Registration) {
	m.mu.Lock()
	if _, ok := m.entries[reg.OrderID]; ok {
		m.mu.Unlock()
		return
	}
	e := &entry{
		reg:     reg,
		applied: make(map[string]struct{}),
		filled:  decimal.Zero,
		value:   decimal.Zero,
		fees:    decimal.Zero,
	}
	m.entries[reg.OrderID] = e
	m.execCounts[reg.ExecutionID]++

	early := m.buffered[reg.OrderID]
	delete(m.buffered, reg.OrderID)

	var newFills []types.Fill
	for _, f := range early {
		if m.applyFillLocked(e, f) {
			newFills = append(newFills, f)
		}
	}
	var after []func()
	if e.filled.GreaterThanOrEqual(e.reg.Size) {
		after = m.finalizeLocked(e, types.OrderStatusFilled)
	}
	inflight := len(m.entries)
	m.mu.Unlock()

	if m.rec != nil {
		m.rec.RecordInFlight(inflight)
	}
	m.dispatch(e.reg.OnFill, newFills)
	for _, fn := range after {
		fn()
	}
}

// LinkOCO marks two orders as an order-cancels-order pair: when either leg
// fills, the monitor cancels the survivor. A leg that already filled before
// the link cancels the other immediately.
func (m *Monitor) LinkOCO(aID, bID string) {
	m.mu.Lock()
	a, aLive := m.entries[aID]
	b, bLive := m.entries[bID]
	if aLive {
		a.sibling = bID
	}
	if bLive {
		b.sibling = aID
	}
	var cancelID string
	if !aLive && bLive {
		if res, ok := m.results[aID]; ok && res.Status == types.OrderStatusFilled {
			cancelID = bID
		}
	}
	if !bLive && aLive {
		if res, ok := m.results[bID]; ok && res.Status == types.OrderStatusFilled {
			cancelID = aID
		}
	}
	m.mu.Unlock()

	if cancelID != "" {
		m.cancelSibling(cancelID)
	}
}

// Outstanding returns the number of in-flight orders for an execution.
func (m *Monitor) Outstanding(executionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCounts[executionID]
}

// InFlight returns the total number of tracked orders.
func (m *Monitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// LastPoll returns the completion time of the most recent poll cycle, for
// health checks.
func (m *Monitor) LastPoll() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPoll
}

// FilledSize returns the size filled so far on a tracked or resolved order.
func (m *Monitor) FilledSize(orderID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[orderID]; ok {
		return e.filled
	}
	if res, ok := m.results[orderID]; ok {
		return res.FilledSize
	}
	return decimal.Zero
}

// WaitOrder blocks until the order is terminal, the timeout elapses or ctx
// is done. The second return is false on timeout or cancellation.
func (m *Monitor) WaitOrder(ctx context.Context, orderID string, timeout time.Duration) (TerminalEvent, bool) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		res, done := m.results[orderID]
		_, tracked := m.entries[orderID]
		m.mu.Unlock()
		if done {
			return res, true
		}
		if !tracked {
			return TerminalEvent{}, false
		}
		if time.Now().After(deadline) {
			return TerminalEvent{}, false
		}
		select {
		case <-ctx.Done():
			return TerminalEvent{}, false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// WaitExecution blocks until the execution has no outstanding orders or the
// timeout elapses. Returns true when everything settled.
func (m *Monitor) WaitExecution(ctx context.Context, executionID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.Outstanding(executionID) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// HandleFill is the push-feed entry point. Fills for unknown orders are
// buffered briefly in case registration races the push.
func (m *Monitor) HandleFill(f types.Fill) {
	if m.rec != nil {
		m.rec.RecordPushEvent()
	}

	m.mu.Lock()
	e, ok := m.entries[f.OrderID]
	if !ok {
		if len(m.buffered) < 1024 {
			m.buffered[f.OrderID] = append(m.buffered[f.OrderID], f)
		}
		m.mu.Unlock()
		return
	}
	fresh := m.applyFillLocked(e, f)
	e.pushed = true
	var after []func()
	if e.filled.GreaterThanOrEqual(e.reg.Size) {
		after = m.finalizeLocked(e, types.OrderStatusFilled)
	}
	m.mu.Unlock()

	if fresh {
		m.dispatch(e.reg.OnFill, []types.Fill{f})
	}
	for _, fn := range after {
		fn()
	}
}

// applyFillLocked applies one fill idempotently. Returns false for
// duplicates.
func (m *Monitor) applyFillLocked(e *entry, f types.Fill) bool {
	if _, seen := e.applied[f.FillID]; seen {
		if m.rec != nil {
			m.rec.RecordFill(true)
		}
		return false
	}
	e.applied[f.FillID] = struct{}{}
	e.filled = e.filled.Add(f.Size)
	e.value = e.value.Add(f.Notional())
	e.fees = e.fees.Add(f.Fee)
	if f.IsMaker {
		e.makers++
	} else {
		e.takers++
	}
	if m.rec != nil {
		m.rec.RecordFill(false)
	}
	return true
}

// finalizeLocked removes the entry and returns the callbacks to run after
// the lock is released: the terminal notification and any sibling cancel.
func (m *Monitor) finalizeLocked(e *entry, status types.OrderStatus) []func() {
	if _, ok := m.entries[e.reg.OrderID]; !ok {
		return nil
	}
	delete(m.entries, e.reg.OrderID)
	m.execCounts[e.reg.ExecutionID]--
	if m.execCounts[e.reg.ExecutionID] <= 0 {
		delete(m.execCounts, e.reg.ExecutionID)
	}
	ev := e.event(status)
	m.results[e.reg.OrderID] = ev

	var after []func()
	if e.reg.OnTerminal != nil {
		cb := e.reg.OnTerminal
		after = append(after, func() { cb(ev) })
	}
	if status == types.OrderStatusFilled && e.sibling != "" {
		if _, live := m.entries[e.sibling]; live {
			sibling := e.sibling
			after = append(after, func() { m.cancelSibling(sibling) })
		}
	}
	return after
}

func (m *Monitor) cancelSibling(orderID string) {
	m.logger.Info("cancelling OCO sibling", "order_id", orderID)
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()
	if err := m.adm.Acquire(ctx, 1); err != nil {
		m.logger.Error("sibling cancel admission", "order_id", orderID, "err", err)
		return
	}
	if err := m.exch.CancelOrders(ctx, []string{orderID}); err != nil {
		m.logger.Error("sibling cancel failed", "order_id", orderID, "err", err)
		return
	}
	if m.rec != nil {
		m.rec.RecordOrderCancelled()
	}
}

func (m *Monitor) dispatch(onFill func(types.Fill), fills []types.Fill) {
	if onFill == nil {
		return
	}
	for _, f := range fills {
		onFill(f)
	}
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()
	for {
		interval := m.cfg.PollInterval
		if !exchange.FeedStale(m.feed, m.cfg.Staleness, time.Now()) {
			interval = m.cfg.BackupPollInterval
		}
		if m.rec != nil {
			m.rec.RecordFeedStatus(interval == m.cfg.BackupPollInterval && m.feed != nil)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(interval):
		}
		m.pollOnce()
	}
}

// pollOnce queries one batch of in-flight orders. Orders touched by a push
// since the last cycle are left out of this batch.
func (m *Monitor) pollOnce() {
	m.mu.Lock()
	batch := make([]string, 0, m.cfg.MaxBatch)
	for id, e := range m.entries {
		if e.pushed {
			e.pushed = false
			continue
		}
		batch = append(batch, id)
		if len(batch) >= m.cfg.MaxBatch {
			break
		}
	}
	m.mu.Unlock()

	if m.rec != nil {
		m.rec.RecordHeartbeat()
		m.rec.RecordPollCycle(len(batch))
	}
	defer func() {
		m.mu.Lock()
		m.lastPoll = time.Now()
		inflight := len(m.entries)
		m.mu.Unlock()
		if m.rec != nil {
			m.rec.RecordInFlight(inflight)
		}
	}()

	if len(batch) == 0 {
		return
	}

	if err := m.adm.Acquire(m.ctx, 1); err != nil {
		return
	}
	states, err := m.exch.GetOrders(m.ctx, batch)
	if err != nil {
		m.logger.Warn("order status poll failed", "batch", len(batch), "err", err)
		if m.rec != nil {
			kind := "transient"
			if !types.IsTransient(err) {
				kind = "terminal"
			}
			m.rec.RecordExchangeError(kind)
		}
		return
	}

	var after []func()
	m.mu.Lock()
	for id, st := range states {
		e, ok := m.entries[id]
		if !ok {
			continue
		}
		var newFills []types.Fill
		for _, f := range st.Fills {
			if m.applyFillLocked(e, f) {
				newFills = append(newFills, f)
			}
		}
		if len(newFills) > 0 && e.reg.OnFill != nil {
			cb := e.reg.OnFill
			fills := newFills
			after = append(after, func() { m.dispatch(cb, fills) })
		}

		switch {
		case st.Status.IsFinal():
			after = append(after, m.finalizeLocked(e, st.Status)...)
		case e.filled.GreaterThanOrEqual(e.reg.Size):
			after = append(after, m.finalizeLocked(e, types.OrderStatusFilled)...)
		}
	}
	m.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// ReconcileOCO resolves a persisted bracket pair after a restart: if one
// leg has filled and the other is still open, the survivor is cancelled.
// Safe to call repeatedly.
func (m *Monitor) ReconcileOCO(ctx context.Context, aID, bID string) error {
	if err := m.adm.Acquire(ctx, 1); err != nil {
		return err
	}
	states, err := m.exch.GetOrders(ctx, []string{aID, bID})
	if err != nil {
		return err
	}

	a, b := states[aID], states[bID]
	cancelIfOpen := func(leg exchange.OrderState) error {
		if leg.OrderID == "" || leg.Status.IsFinal() {
			return nil
		}
		if err := m.adm.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := m.exch.CancelOrders(ctx, []string{leg.OrderID}); err != nil {
			return err
		}
		if m.rec != nil {
			m.rec.RecordOrderCancelled()
		}
		return nil
	}

	if a.Status == types.OrderStatusFilled {
		return cancelIfOpen(b)
	}
	if b.Status == types.OrderStatusFilled {
		return cancelIfOpen(a)
	}
	return nil
}
