// Package persistence provides checkpoint/resume storage for executions.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"algoexec/internal/types"
)

// Repository defines the interface for execution persistence.
type Repository interface {
	// Execution operations
	SaveExecution(ctx context.Context, rec ExecutionRecord) error
	FinishExecution(ctx context.Context, rec ExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	GetOpenExecutions(ctx context.Context) ([]ExecutionRecord, error)

	// Slice operations
	SaveSliceOutcome(ctx context.Context, rec SliceRecord) error
	GetSliceOutcomes(ctx context.Context, executionID string) ([]SliceRecord, error)

	// Bracket pairs, for restart reconciliation
	SaveOCOPair(ctx context.Context, executionID, aOrderID, bOrderID string) error
	GetOpenOCOPairs(ctx context.Context) ([]OCOPair, error)
	ResolveOCOPair(ctx context.Context, executionID, aOrderID string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionRecord is a persisted execution checkpoint.
type ExecutionRecord struct {
	ExecutionID string
	Strategy    string
	ProductID   string
	Side        types.Side
	Status      string
	TotalSize   decimal.Decimal
	FilledSize  decimal.Decimal
	AvgPrice    decimal.Decimal
	Fees        decimal.Decimal
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// SliceRecord is a persisted slice disposition. Re-saving the same
// (execution, slice) pair replaces the previous row, so adaptive
// replacements end with the final disposition on record.
type SliceRecord struct {
	ExecutionID string
	SliceIndex  int
	OrderID     string
	Status      string
	Reason      string
	FilledSize  decimal.Decimal
	AvgPrice    decimal.Decimal
	Fees        decimal.Decimal
	UpdatedAt   time.Time
}

// OCOPair is a persisted bracket pair awaiting resolution.
type OCOPair struct {
	ExecutionID string
	AOrderID    string
	BOrderID    string
}
