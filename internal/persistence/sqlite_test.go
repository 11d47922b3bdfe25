package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestExecutionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := ExecutionRecord{
		ExecutionID: "exec-1",
		Strategy:    "twap",
		ProductID:   "BTC-USD",
		Side:        types.SideBuy,
		Status:      "RUNNING",
		TotalSize:   d("1.5"),
		FilledSize:  d("0"),
		AvgPrice:    d("0"),
		Fees:        d("0"),
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.SaveExecution(ctx, rec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	got, err := repo.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got == nil {
		t.Fatal("execution not found")
	}
	if got.Strategy != "twap" || got.Side != types.SideBuy || !got.TotalSize.Equal(d("1.5")) {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("running execution should have no finish time")
	}

	open, err := repo.GetOpenExecutions(ctx)
	if err != nil {
		t.Fatalf("GetOpenExecutions: %v", err)
	}
	if len(open) != 1 || open[0].ExecutionID != "exec-1" {
		t.Errorf("open executions = %+v, want exec-1", open)
	}

	finished := time.Now().UTC()
	rec.Status = "COMPLETED"
	rec.FilledSize = d("1.5")
	rec.AvgPrice = d("101.25")
	rec.Fees = d("0.91")
	rec.FinishedAt = &finished
	if err := repo.FinishExecution(ctx, rec); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	got, err = repo.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != "COMPLETED" || !got.FilledSize.Equal(d("1.5")) || !got.AvgPrice.Equal(d("101.25")) {
		t.Errorf("finish not persisted: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("finished execution should carry a finish time")
	}

	open, err = repo.GetOpenExecutions(ctx)
	if err != nil {
		t.Fatalf("GetOpenExecutions: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("finished execution still listed open: %+v", open)
	}
}

func TestGetExecutionMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetExecution(context.Background(), "no-such")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got != nil {
		t.Errorf("missing execution should be nil, got %+v", got)
	}
}

func TestSliceOutcomeReplaceOnSave(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := SliceRecord{
		ExecutionID: "exec-2",
		SliceIndex:  1,
		OrderID:     "ORD-1",
		Status:      "CANCELLED",
		FilledSize:  d("0.2"),
		AvgPrice:    d("100"),
		Fees:        d("0.05"),
	}
	if err := repo.SaveSliceOutcome(ctx, first); err != nil {
		t.Fatalf("SaveSliceOutcome: %v", err)
	}

	// An adaptive replacement resolving later supersedes the row.
	second := first
	second.OrderID = "ORD-2"
	second.Status = "FILLED"
	second.FilledSize = d("1")
	if err := repo.SaveSliceOutcome(ctx, second); err != nil {
		t.Fatalf("SaveSliceOutcome replace: %v", err)
	}

	if err := repo.SaveSliceOutcome(ctx, SliceRecord{
		ExecutionID: "exec-2",
		SliceIndex:  2,
		Status:      "SKIPPED",
		Reason:      "participation cap",
		FilledSize:  d("0"),
		AvgPrice:    d("0"),
		Fees:        d("0"),
	}); err != nil {
		t.Fatalf("SaveSliceOutcome skip: %v", err)
	}

	recs, err := repo.GetSliceOutcomes(ctx, "exec-2")
	if err != nil {
		t.Fatalf("GetSliceOutcomes: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d slice rows, want 2", len(recs))
	}
	if recs[0].OrderID != "ORD-2" || recs[0].Status != "FILLED" || !recs[0].FilledSize.Equal(d("1")) {
		t.Errorf("slice 1 not superseded: %+v", recs[0])
	}
	if recs[1].Status != "SKIPPED" || recs[1].Reason != "participation cap" {
		t.Errorf("slice 2 mismatch: %+v", recs[1])
	}
}

func TestOCOPairLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveOCOPair(ctx, "exec-3", "TP-1", "SL-1"); err != nil {
		t.Fatalf("SaveOCOPair: %v", err)
	}
	if err := repo.SaveOCOPair(ctx, "exec-3", "TP-2", "SL-2"); err != nil {
		t.Fatalf("SaveOCOPair: %v", err)
	}

	pairs, err := repo.GetOpenOCOPairs(ctx)
	if err != nil {
		t.Fatalf("GetOpenOCOPairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d open pairs, want 2", len(pairs))
	}

	if err := repo.ResolveOCOPair(ctx, "exec-3", "TP-1"); err != nil {
		t.Fatalf("ResolveOCOPair: %v", err)
	}
	pairs, err = repo.GetOpenOCOPairs(ctx)
	if err != nil {
		t.Fatalf("GetOpenOCOPairs: %v", err)
	}
	if len(pairs) != 1 || pairs[0].AOrderID != "TP-2" {
		t.Errorf("open pairs after resolve = %+v, want only TP-2", pairs)
	}

	// Resolving again is harmless.
	if err := repo.ResolveOCOPair(ctx, "exec-3", "TP-1"); err != nil {
		t.Errorf("repeat ResolveOCOPair: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
