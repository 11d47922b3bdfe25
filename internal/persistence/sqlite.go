package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and migrates) a SQLite-backed repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			product_id TEXT NOT NULL,
			side INTEGER NOT NULL,
			status TEXT NOT NULL,
			total_size TEXT NOT NULL,
			filled_size TEXT NOT NULL DEFAULT '0',
			avg_price TEXT NOT NULL DEFAULT '0',
			fees TEXT NOT NULL DEFAULT '0',
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,

		`CREATE TABLE IF NOT EXISTS slice_outcomes (
			execution_id TEXT NOT NULL,
			slice_index INTEGER NOT NULL,
			order_id TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			filled_size TEXT NOT NULL DEFAULT '0',
			avg_price TEXT NOT NULL DEFAULT '0',
			fees TEXT NOT NULL DEFAULT '0',
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (execution_id, slice_index)
		)`,

		`CREATE TABLE IF NOT EXISTS oco_pairs (
			execution_id TEXT NOT NULL,
			a_order_id TEXT NOT NULL,
			b_order_id TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (execution_id, a_order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oco_resolved ON oco_pairs(resolved)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveExecution inserts or replaces an execution checkpoint.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	query := `INSERT OR REPLACE INTO executions
		(execution_id, strategy, product_id, side, status, total_size, filled_size, avg_price, fees, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ExecutionID,
		rec.Strategy,
		rec.ProductID,
		rec.Side,
		rec.Status,
		rec.TotalSize.String(),
		rec.FilledSize.String(),
		rec.AvgPrice.String(),
		rec.Fees.String(),
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// FinishExecution records an execution's final totals and status.
func (r *SQLiteRepository) FinishExecution(ctx context.Context, rec ExecutionRecord) error {
	query := `UPDATE executions
		SET status = ?, filled_size = ?, avg_price = ?, fees = ?, finished_at = ?
		WHERE execution_id = ?`

	_, err := r.db.ExecContext(ctx, query,
		rec.Status,
		rec.FilledSize.String(),
		rec.AvgPrice.String(),
		rec.Fees.String(),
		rec.FinishedAt,
		rec.ExecutionID,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}

	return nil
}

// GetExecution returns one execution, or nil when absent.
func (r *SQLiteRepository) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	query := `SELECT execution_id, strategy, product_id, side, status, total_size, filled_size, avg_price, fees, started_at, finished_at
		FROM executions WHERE execution_id = ?`

	rec, err := scanExecution(r.db.QueryRowContext(ctx, query, executionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return rec, nil
}

// GetOpenExecutions returns executions still marked running, for recovery.
func (r *SQLiteRepository) GetOpenExecutions(ctx context.Context) ([]ExecutionRecord, error) {
	query := `SELECT execution_id, strategy, product_id, side, status, total_size, filled_size, avg_price, fees, started_at, finished_at
		FROM executions WHERE status = 'RUNNING' ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query open executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		recs = append(recs, *rec)
	}

	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var totalSize, filledSize, avgPrice, fees string
	var finishedAt sql.NullTime

	if err := row.Scan(
		&rec.ExecutionID,
		&rec.Strategy,
		&rec.ProductID,
		&rec.Side,
		&rec.Status,
		&totalSize,
		&filledSize,
		&avgPrice,
		&fees,
		&rec.StartedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	rec.TotalSize, _ = decimal.NewFromString(totalSize)
	rec.FilledSize, _ = decimal.NewFromString(filledSize)
	rec.AvgPrice, _ = decimal.NewFromString(avgPrice)
	rec.Fees, _ = decimal.NewFromString(fees)
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}

	return &rec, nil
}

// SaveSliceOutcome inserts or replaces a slice disposition.
func (r *SQLiteRepository) SaveSliceOutcome(ctx context.Context, rec SliceRecord) error {
	query := `INSERT OR REPLACE INTO slice_outcomes
		(execution_id, slice_index, order_id, status, reason, filled_size, avg_price, fees, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ExecutionID,
		rec.SliceIndex,
		rec.OrderID,
		rec.Status,
		rec.Reason,
		rec.FilledSize.String(),
		rec.AvgPrice.String(),
		rec.Fees.String(),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert slice outcome: %w", err)
	}

	return nil
}

// GetSliceOutcomes returns all slice dispositions for an execution.
func (r *SQLiteRepository) GetSliceOutcomes(ctx context.Context, executionID string) ([]SliceRecord, error) {
	query := `SELECT execution_id, slice_index, order_id, status, reason, filled_size, avg_price, fees, updated_at
		FROM slice_outcomes WHERE execution_id = ? ORDER BY slice_index`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("query slice outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []SliceRecord
	for rows.Next() {
		var rec SliceRecord
		var orderID, reason sql.NullString
		var filledSize, avgPrice, fees string

		if err := rows.Scan(&rec.ExecutionID, &rec.SliceIndex, &orderID, &rec.Status, &reason, &filledSize, &avgPrice, &fees, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rec.OrderID = orderID.String
		rec.Reason = reason.String
		rec.FilledSize, _ = decimal.NewFromString(filledSize)
		rec.AvgPrice, _ = decimal.NewFromString(avgPrice)
		rec.Fees, _ = decimal.NewFromString(fees)

		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// SaveOCOPair records a bracket pair as unresolved.
func (r *SQLiteRepository) SaveOCOPair(ctx context.Context, executionID, aOrderID, bOrderID string) error {
	query := `INSERT OR REPLACE INTO oco_pairs (execution_id, a_order_id, b_order_id, resolved)
		VALUES (?, ?, ?, 0)`

	if _, err := r.db.ExecContext(ctx, query, executionID, aOrderID, bOrderID); err != nil {
		return fmt.Errorf("insert oco pair: %w", err)
	}
	return nil
}

// GetOpenOCOPairs returns unresolved bracket pairs, for restart
// reconciliation.
func (r *SQLiteRepository) GetOpenOCOPairs(ctx context.Context) ([]OCOPair, error) {
	query := `SELECT execution_id, a_order_id, b_order_id FROM oco_pairs WHERE resolved = 0`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query oco pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []OCOPair
	for rows.Next() {
		var p OCOPair
		if err := rows.Scan(&p.ExecutionID, &p.AOrderID, &p.BOrderID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

// ResolveOCOPair marks a bracket pair resolved.
func (r *SQLiteRepository) ResolveOCOPair(ctx context.Context, executionID, aOrderID string) error {
	query := `UPDATE oco_pairs SET resolved = 1 WHERE execution_id = ? AND a_order_id = ?`

	if _, err := r.db.ExecContext(ctx, query, executionID, aOrderID); err != nil {
		return fmt.Errorf("resolve oco pair: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
