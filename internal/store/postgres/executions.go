package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/store"
)

// ExecutionStore implements store.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *ExecutionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const executionColumns = `id, function_id, input, output, status, execution_time, invoked_by,
	error_details, metadata, function_snapshot, created_at`

// Create appends an execution log entry.
func (s *ExecutionStore) Create(ctx context.Context, entry *models.ExecutionLog) error {
	query := `
		INSERT INTO execution_logs (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	errorDetails, err := marshalNullable(entry.Error)
	if err != nil {
		return fmt.Errorf("marshaling error details: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	snapshot, err := marshalNullable(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshaling function snapshot: %w", err)
	}

	_, err = s.conn().ExecContext(ctx, query,
		entry.ID,
		entry.FunctionID,
		rawOrNull(entry.Input),
		rawOrNull(entry.Output),
		string(entry.Status),
		entry.DurationMs,
		entry.InvokedBy,
		errorDetails,
		string(metadata),
		snapshot,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting execution log: %w", err)
	}

	return nil
}

// Get retrieves an execution log entry by ID.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*models.ExecutionLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `SELECT ` + executionColumns + ` FROM execution_logs WHERE id = $1`
	entry, err := scanExecution(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying execution log: %w", err)
	}
	return entry, nil
}

// List returns a page of entries matching q and the total count.
func (s *ExecutionStore) List(ctx context.Context, q store.ExecutionQuery) ([]*models.ExecutionLog, int, error) {
	q = q.Normalize()

	where, args := buildExecutionFilter(q)

	var total int
	countQuery := `SELECT COUNT(*) FROM execution_logs` + where
	if err := s.conn().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting execution logs: %w", err)
	}

	column, desc, _ := store.ParseSort(q.Sort)
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf(`SELECT %s FROM execution_logs%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		executionColumns, where, column, direction, len(args)-1, len(args))

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	entries := []*models.ExecutionLog{}
	for rows.Next() {
		entry, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning execution log row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating execution log rows: %w", err)
	}

	return entries, total, nil
}

// buildExecutionFilter renders the WHERE clause for q with positional args.
func buildExecutionFilter(q store.ExecutionQuery) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.FunctionID != "" {
		add("function_id = $%d", q.FunctionID)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.From != nil {
		add("created_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("created_at <= $%d", *q.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanExecution(row rowScanner) (*models.ExecutionLog, error) {
	entry := &models.ExecutionLog{}
	var (
		functionID   sql.NullString
		invokedBy    sql.NullString
		input        []byte
		output       []byte
		errorDetails []byte
		metadata     []byte
		snapshot     []byte
	)

	err := row.Scan(
		&entry.ID,
		&functionID,
		&input,
		&output,
		&entry.Status,
		&entry.DurationMs,
		&invokedBy,
		&errorDetails,
		&metadata,
		&snapshot,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if functionID.Valid {
		entry.FunctionID = &functionID.String
	}
	if invokedBy.Valid {
		entry.InvokedBy = &invokedBy.String
	}
	if len(input) > 0 {
		entry.Input = json.RawMessage(input)
	}
	if len(output) > 0 {
		entry.Output = json.RawMessage(output)
	}
	if len(errorDetails) > 0 {
		entry.Error = &models.ErrorDetail{}
		if err := json.Unmarshal(errorDetails, entry.Error); err != nil {
			return nil, fmt.Errorf("unmarshaling error details: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if len(snapshot) > 0 {
		entry.Snapshot = &models.FunctionStats{}
		if err := json.Unmarshal(snapshot, entry.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshaling function snapshot: %w", err)
		}
	}

	return entry, nil
}

// marshalNullable encodes v as JSON text, or returns nil for a nil pointer.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// rawOrNull returns nil for an empty payload so the column stores NULL.
func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
