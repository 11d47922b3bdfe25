package executor

import (
	"testing"

	"algoexec/internal/strategy"
	"algoexec/internal/types"
)

func newTestState() *ExecutionState {
	return &ExecutionState{
		executionID: "exec-1",
		name:        "test",
		productID:   "BTC-USD",
		side:        types.SideBuy,
		totalSize:   d("1"),
		applied:     make(map[string]struct{}),
		filled:      d("0"),
		value:       d("0"),
		fees:        d("0"),
		outcomes:    make(map[int]strategy.Outcome),
	}
}

func TestStateApplyFillIdempotent(t *testing.T) {
	s := newTestState()

	f := types.Fill{FillID: "F1", Size: d("0.5"), Price: d("100"), Fee: d("0.1")}
	if !s.ApplyFill(f) {
		t.Fatal("first application should succeed")
	}
	if s.ApplyFill(f) {
		t.Fatal("duplicate application should be rejected")
	}
	if !s.FilledSize().Equal(d("0.5")) {
		t.Errorf("filled = %s, want 0.5", s.FilledSize())
	}
}

func TestStateResultCounts(t *testing.T) {
	s := newTestState()
	s.ApplyFill(types.Fill{FillID: "F1", Size: d("0.5"), Price: d("100")})
	s.ApplyFill(types.Fill{FillID: "F2", Size: d("0.3"), Price: d("102"), IsMaker: true})

	s.RecordOutcome(strategy.Outcome{Index: 1, Status: strategy.SliceFilled, FilledSize: d("0.8")})
	s.RecordOutcome(strategy.Outcome{Index: 2, Status: strategy.SliceSkipped, Reason: "participation cap"})
	s.RecordOutcome(strategy.Outcome{Index: 3, Status: strategy.SliceFailed})
	// A partially filled cancel counts as filled.
	s.RecordOutcome(strategy.Outcome{Index: 4, Status: strategy.SliceCancelled, FilledSize: d("0.1")})
	// A clean cancel is neither a fill nor a failure.
	s.RecordOutcome(strategy.Outcome{Index: 5, Status: strategy.SliceCancelled})

	res := s.Result(strategy.ExecutionPartial, 5)
	if res.NumSlices != 5 {
		t.Errorf("slices = %d, want 5", res.NumSlices)
	}
	if res.NumFilled != 2 || res.NumSkipped != 1 || res.NumFailed != 1 || res.NumCancelled != 1 {
		t.Errorf("counts = %d/%d/%d/%d (filled/skipped/failed/cancelled), want 2/1/1/1",
			res.NumFilled, res.NumSkipped, res.NumFailed, res.NumCancelled)
	}
	if len(res.Outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if o.Index != i+1 {
			t.Fatalf("outcome %d has index %d, want ordered by index", i, o.Index)
		}
	}
	if res.Outcomes[1].Reason != "participation cap" {
		t.Errorf("skip reason = %q, want it carried through", res.Outcomes[1].Reason)
	}
	if !res.FilledSize.Equal(d("0.8")) {
		t.Errorf("filled = %s, want 0.8", res.FilledSize)
	}
	// (0.5*100 + 0.3*102) / 0.8 = 100.75
	if !res.AvgPrice.Equal(d("100.75")) {
		t.Errorf("avg price = %s, want 100.75", res.AvgPrice)
	}
	if res.Makers != 1 || res.Takers != 1 {
		t.Errorf("makers/takers = %d/%d, want 1/1", res.Makers, res.Takers)
	}
}

func TestStateLatestOutcomeSupersedes(t *testing.T) {
	s := newTestState()
	s.RecordOutcome(strategy.Outcome{Index: 1, Status: strategy.SliceCancelled})
	s.RecordOutcome(strategy.Outcome{Index: 1, Status: strategy.SliceFilled, FilledSize: d("1")})

	res := s.Result(strategy.ExecutionCompleted, 1)
	if res.NumFilled != 1 || res.NumFailed != 0 {
		t.Errorf("counts = %d filled %d failed, want the later outcome to win",
			res.NumFilled, res.NumFailed)
	}
}
