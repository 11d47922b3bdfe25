package executor

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/strategy"
	"algoexec/internal/types"
)

// ExecutionState aggregates fills and slice outcomes for one execution.
// Fill application is idempotent on fill ID; the monitor already dedupes,
// this is the second line of defense since the aggregates here are the
// numbers that get reported and persisted.
type ExecutionState struct {
	mu sync.Mutex

	executionID string
	name        string
	productID   string
	side        types.Side
	totalSize   decimal.Decimal
	startedAt   time.Time

	applied map[string]struct{}
	filled  decimal.Decimal
	value   decimal.Decimal
	fees    decimal.Decimal
	makers  int
	takers  int

	// outcomes holds the latest terminal disposition per slice index.
	outcomes map[int]strategy.Outcome
}

func newExecutionState(executionID string, strat strategy.Strategy) *ExecutionState {
	return &ExecutionState{
		executionID: executionID,
		name:        strat.Name(),
		productID:   strat.ProductID(),
		side:        strat.Side(),
		totalSize:   strat.TotalSize(),
		startedAt:   time.Now(),
		applied:     make(map[string]struct{}),
		filled:      decimal.Zero,
		value:       decimal.Zero,
		fees:        decimal.Zero,
		outcomes:    make(map[int]strategy.Outcome),
	}
}

// ApplyFill applies a fill once. Returns false for duplicates.
func (s *ExecutionState) ApplyFill(f types.Fill) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.applied[f.FillID]; seen {
		return false
	}
	s.applied[f.FillID] = struct{}{}
	s.filled = s.filled.Add(f.Size)
	s.value = s.value.Add(f.Notional())
	s.fees = s.fees.Add(f.Fee)
	if f.IsMaker {
		s.makers++
	} else {
		s.takers++
	}
	return true
}

// RecordOutcome records a terminal disposition for a slice. A later
// disposition for the same index (an adaptive replacement resolving after
// its predecessor was cancelled) supersedes the earlier one.
func (s *ExecutionState) RecordOutcome(o strategy.Outcome) {
	s.mu.Lock()
	s.outcomes[o.Index] = o
	s.mu.Unlock()
}

// FilledSize returns the aggregate filled size so far.
func (s *ExecutionState) FilledSize() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filled
}

// Result builds the final summary with the given status. numSlices is the
// planned slice count; non-positive values fall back to the outcomes seen.
func (s *ExecutionState) Result(status strategy.ExecutionStatus, numSlices int) *strategy.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := decimal.Zero
	if s.filled.IsPositive() {
		avg = s.value.Div(s.filled)
	}

	var numFilled, numSkipped, numFailed, numCancelled int
	outcomes := make([]strategy.Outcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		outcomes = append(outcomes, o)
		switch o.Status {
		case strategy.SliceFilled:
			numFilled++
		case strategy.SliceSkipped:
			numSkipped++
		case strategy.SliceFailed, strategy.SliceExpired:
			numFailed++
		case strategy.SliceCancelled:
			// A cancel that caught a partial fill still moved size; a clean
			// cancel is neither a fill nor a failure (an OCO sibling cancel
			// is the normal end of a successful bracket).
			if o.FilledSize.IsPositive() {
				numFilled++
			} else {
				numCancelled++
			}
		}
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })

	if numSlices <= 0 {
		numSlices = len(s.outcomes)
	}

	return &strategy.Result{
		ExecutionID:  s.executionID,
		Strategy:     s.name,
		ProductID:    s.productID,
		Side:         s.side,
		Status:       status,
		TotalSize:    s.totalSize,
		FilledSize:   s.filled,
		Notional:     s.value,
		AvgPrice:     avg,
		Fees:         s.fees,
		Makers:       s.makers,
		Takers:       s.takers,
		NumSlices:    numSlices,
		NumFilled:    numFilled,
		NumSkipped:   numSkipped,
		NumFailed:    numFailed,
		NumCancelled: numCancelled,
		StartedAt:    s.startedAt,
		FinishedAt:   time.Now(),
		Outcomes:     outcomes,
	}
}
