package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

// CondState is the lifecycle state of a conditional order. Transitions are
// monotonic: Armed is the only state anything can move out of, and Fired,
// Expired and Cancelled are terminal.
type CondState int

const (
	StateArmed CondState = iota
	StateTriggered
	StateFired
	StateExpired
	StateCancelled
)

func (s CondState) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateTriggered:
		return "TRIGGERED"
	case StateFired:
		return "FIRED"
	case StateExpired:
		return "EXPIRED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// BracketConfig turns a fired trigger into an OCO pair: a take-profit limit
// and a stop leg, each for the full size.
type BracketConfig struct {
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// ConditionalConfig configures a triggered order.
type ConditionalConfig struct {
	ProductID string
	Side      types.Side
	TotalSize decimal.Decimal

	// TriggerPrice is the threshold the market must cross.
	TriggerPrice decimal.Decimal
	// Direction may be left to AutoDirection against a reference price.
	Direction TriggerDirection
	// LimitPrice is the order price once fired. Zero crosses the touch.
	LimitPrice decimal.Decimal
	// Expiry bounds the armed phase. Zero means wait indefinitely.
	Expiry time.Duration

	Bracket *BracketConfig
}

// Validate checks the configuration.
func (c *ConditionalConfig) Validate() error {
	var errs []string
	if c.ProductID == "" {
		errs = append(errs, "product_id is required")
	}
	if !c.TotalSize.IsPositive() {
		errs = append(errs, "total_size must be positive")
	}
	if !c.TriggerPrice.IsPositive() {
		errs = append(errs, "trigger_price must be positive")
	}
	if c.Bracket != nil {
		if !c.Bracket.TakeProfit.IsPositive() || !c.Bracket.StopLoss.IsPositive() {
			errs = append(errs, "bracket prices must be positive")
		}
	}
	return joinParamErrs(errs)
}

// AutoDirection infers the crossing direction from where the trigger sits
// relative to the current price: above means cross up, below cross down.
func AutoDirection(trigger, current decimal.Decimal) TriggerDirection {
	if trigger.GreaterThan(current) {
		return CrossUp
	}
	return CrossDown
}

// Conditional holds a single order behind a price trigger, with optional
// expiry and an optional bracket pair placed on fire.
type Conditional struct {
	id     string
	cfg    ConditionalConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    CondState
	outcomes []Outcome
}

// NewConditional validates cfg and builds the strategy armed.
func NewConditional(cfg ConditionalConfig, logger *slog.Logger) (*Conditional, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conditional{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: logger,
		state:  StateArmed,
	}, nil
}

func (c *Conditional) ID() string                 { return c.id }
func (c *Conditional) Name() string               { return "conditional" }
func (c *Conditional) ProductID() string          { return c.cfg.ProductID }
func (c *Conditional) Side() types.Side           { return c.cfg.Side }
func (c *Conditional) TotalSize() decimal.Decimal { return c.cfg.TotalSize }

// State returns the current lifecycle state.
func (c *Conditional) State() CondState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CalculateSlices returns the single triggered slice.
func (c *Conditional) CalculateSlices(_ context.Context) ([]SliceSpec, error) {
	mode := types.PriceMarket
	if c.cfg.LimitPrice.IsPositive() {
		mode = types.PriceLimit
	}
	var expiry time.Time
	if c.cfg.Expiry > 0 {
		expiry = time.Now().Add(c.cfg.Expiry)
	}
	return []SliceSpec{{
		Index:      1,
		Size:       c.cfg.TotalSize,
		PriceMode:  mode,
		LimitPrice: c.cfg.LimitPrice,
		Trigger: &Trigger{
			Direction: c.cfg.Direction,
			Threshold: c.cfg.TriggerPrice,
			Expiry:    expiry,
		},
	}}, nil
}

// ShouldSkip never skips; the trigger is the gate.
func (c *Conditional) ShouldSkip(_ context.Context, _ int, _ types.MarketSnapshot) (bool, string) {
	return false, ""
}

// ResolvePrice prices the fired order.
func (c *Conditional) ResolvePrice(_ context.Context, spec SliceSpec, snap types.MarketSnapshot) (decimal.Decimal, error) {
	return ResolveModePrice(spec.PriceMode, c.cfg.Side, spec.LimitPrice, snap)
}

// OnSliceComplete advances the state machine. Illegal transitions are
// dropped, which keeps replayed or late events harmless.
func (c *Conditional) OnSliceComplete(outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)

	switch outcome.Status {
	case SliceTriggered:
		if c.state == StateArmed {
			c.state = StateTriggered
		}
	case SlicePlaced:
		if c.state == StateTriggered {
			c.state = StateFired
		}
	case SliceExpired:
		if c.state == StateArmed {
			c.state = StateExpired
		}
	case SliceCancelled:
		// Cancelling the armed trigger is allowed; a cancelled child
		// order after fire leaves the state at Fired.
		if c.state == StateArmed {
			c.state = StateCancelled
		}
	case SliceFailed:
		if c.state == StateArmed || c.state == StateTriggered {
			c.state = StateCancelled
		}
	}
}

// BracketLegs implements Bracketer. Legs close the position opposite to the
// entry side: a take-profit limit that rests immediately, and a stop leg
// held behind its own trigger at the stop price. Placing the stop as a plain
// limit would cross the book the moment the bracket goes up, so it carries
// the trigger and only reaches the exchange once the market breaks through.
func (c *Conditional) BracketLegs() (SliceSpec, SliceSpec, bool) {
	if c.cfg.Bracket == nil {
		return SliceSpec{}, SliceSpec{}, false
	}
	tp := SliceSpec{
		Index:      1,
		Size:       c.cfg.TotalSize,
		PriceMode:  types.PriceLimit,
		LimitPrice: c.cfg.Bracket.TakeProfit,
	}
	// Long positions stop out on the way down, shorts on the way up.
	stopDir := CrossDown
	if c.cfg.Side == types.SideSell {
		stopDir = CrossUp
	}
	sl := SliceSpec{
		Index:      2,
		Size:       c.cfg.TotalSize,
		PriceMode:  types.PriceLimit,
		LimitPrice: c.cfg.Bracket.StopLoss,
		Trigger: &Trigger{
			Direction: stopDir,
			Threshold: c.cfg.Bracket.StopLoss,
		},
	}
	return tp, sl, true
}

var (
	_ Strategy  = (*Conditional)(nil)
	_ Bracketer = (*Conditional)(nil)
)
