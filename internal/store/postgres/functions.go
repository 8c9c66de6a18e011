package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/narvanalabs/functions/internal/models"
)

// FunctionStore implements store.FunctionStore using PostgreSQL.
type FunctionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *FunctionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const functionColumns = `id, name, description, code, runtime, tags, is_public, is_active, created_by,
	execution_count, last_executed_at, average_execution_time, success_rate,
	version, created_at, updated_at`

// Create creates a new function record.
func (s *FunctionStore) Create(ctx context.Context, fn *models.Function) error {
	query := `
		INSERT INTO functions (id, name, description, code, runtime, tags, is_public, is_active, created_by,
			execution_count, last_executed_at, average_execution_time, success_rate, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING created_at, updated_at`

	if fn.ID == "" {
		fn.ID = uuid.New().String()
	}
	if fn.Version == 0 {
		fn.Version = 1
	}
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = time.Now().UTC()
	}
	tags := fn.Tags
	if tags == nil {
		tags = []string{}
	}

	err := s.conn().QueryRowContext(ctx, query,
		fn.ID,
		fn.Name,
		fn.Description,
		fn.Code,
		fn.Runtime,
		pq.Array(tags),
		fn.IsPublic,
		fn.IsActive,
		fn.CreatedBy,
		fn.ExecutionCount,
		fn.LastExecutedAt,
		fn.AverageExecutionTime,
		fn.SuccessRate,
		fn.Version,
		fn.CreatedAt,
	).Scan(&fn.CreatedAt, &fn.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting function: %w", err)
	}

	return nil
}

// Get retrieves a function by ID.
func (s *FunctionStore) Get(ctx context.Context, id string) (*models.Function, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `SELECT ` + functionColumns + ` FROM functions WHERE id = $1`
	fn, err := scanFunction(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying function: %w", err)
	}
	return fn, nil
}

// UpdateStats locks the function row, applies fn to its statistics and
// writes them back in one transaction. Concurrent updates of the same
// function across processes are serialized by the row lock.
func (s *FunctionStore) UpdateStats(ctx context.Context, id string, fn func(models.FunctionStats) models.FunctionStats) (*models.FunctionStats, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var result *models.FunctionStats
	err := s.withTx(ctx, func(q queryable) error {
		var current models.FunctionStats
		var last sql.NullTime
		err := q.QueryRowContext(ctx, `
			SELECT execution_count, last_executed_at, average_execution_time, success_rate
			FROM functions
			WHERE id = $1
			FOR UPDATE`, id).Scan(
			&current.ExecutionCount,
			&last,
			&current.AverageExecutionTime,
			&current.SuccessRate,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("locking function: %w", err)
		}
		if last.Valid {
			t := last.Time
			current.LastExecutedAt = &t
		}

		next := fn(current)
		_, err = q.ExecContext(ctx, `
			UPDATE functions
			SET execution_count = $2, last_executed_at = $3, average_execution_time = $4,
				success_rate = $5, updated_at = NOW()
			WHERE id = $1`,
			id,
			next.ExecutionCount,
			next.LastExecutedAt,
			next.AverageExecutionTime,
			next.SuccessRate,
		)
		if err != nil {
			return fmt.Errorf("updating function stats: %w", err)
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withTx runs fn in a transaction, or directly when already inside one.
func (s *FunctionStore) withTx(ctx context.Context, fn func(queryable) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(row rowScanner) (*models.Function, error) {
	fn := &models.Function{}
	var last sql.NullTime

	err := row.Scan(
		&fn.ID,
		&fn.Name,
		&fn.Description,
		&fn.Code,
		&fn.Runtime,
		pq.Array(&fn.Tags),
		&fn.IsPublic,
		&fn.IsActive,
		&fn.CreatedBy,
		&fn.ExecutionCount,
		&last,
		&fn.AverageExecutionTime,
		&fn.SuccessRate,
		&fn.Version,
		&fn.CreatedAt,
		&fn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		fn.LastExecutedAt = &t
	}
	return fn, nil
}
