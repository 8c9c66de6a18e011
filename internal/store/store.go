// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/narvanalabs/functions/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// FunctionStore defines the function record operations execution needs.
type FunctionStore interface {
	// Create stores a new function, assigning an ID when empty.
	Create(ctx context.Context, fn *models.Function) error
	// Get retrieves a function by ID.
	Get(ctx context.Context, id string) (*models.Function, error)
	// UpdateStats applies fn to the current statistics of a function and
	// persists the result. The read and write are serialized per function.
	UpdateStats(ctx context.Context, id string, fn func(models.FunctionStats) models.FunctionStats) (*models.FunctionStats, error)
}

// ExecutionStore defines operations on the append-only execution history.
type ExecutionStore interface {
	// Create appends a new execution log entry.
	Create(ctx context.Context, entry *models.ExecutionLog) error
	// Get retrieves an execution log entry by ID.
	Get(ctx context.Context, id string) (*models.ExecutionLog, error)
	// List returns a page of entries matching q and the total match count.
	List(ctx context.Context, q ExecutionQuery) ([]*models.ExecutionLog, int, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Functions returns the FunctionStore.
	Functions() FunctionStore
	// Executions returns the ExecutionStore.
	Executions() ExecutionStore
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error
	// Close closes the database connection.
	Close() error
}

// Pagination limits.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// DefaultSort orders executions newest first.
const DefaultSort = "-created_at"

// sortColumns maps accepted sort keys to columns.
var sortColumns = map[string]string{
	"created_at":     "created_at",
	"createdAt":      "created_at",
	"execution_time": "execution_time",
	"executionTime":  "execution_time",
	"status":         "status",
}

// ExecutionQuery filters and pages the execution history.
type ExecutionQuery struct {
	FunctionID string
	Status     models.ExecutionStatus
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
	// Sort is a column key, prefixed with "-" for descending order.
	Sort string
}

// Normalize fills defaults and clamps the page window.
func (q ExecutionQuery) Normalize() ExecutionQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if _, _, ok := ParseSort(q.Sort); !ok {
		q.Sort = DefaultSort
	}
	return q
}

// Offset returns the number of rows skipped before the page.
func (q ExecutionQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ParseSort resolves a sort key into a column and direction.
func ParseSort(key string) (column string, desc bool, ok bool) {
	if strings.HasPrefix(key, "-") {
		desc = true
		key = key[1:]
	}
	column, ok = sortColumns[key]
	return column, desc, ok
}

// Pages returns the number of pages needed for total rows.
func Pages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
