// Package memory provides an in-process implementation of the store
// interfaces for development and tests.
package memory

import (
	"cmp"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	functions  *FunctionStore
	executions *ExecutionStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		functions:  &FunctionStore{records: make(map[string]*models.Function)},
		executions: &ExecutionStore{records: make(map[string]*models.ExecutionLog)},
	}
}

// Functions returns the FunctionStore.
func (s *Store) Functions() store.FunctionStore { return s.functions }

// Executions returns the ExecutionStore.
func (s *Store) Executions() store.ExecutionStore { return s.executions }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// FunctionStore implements store.FunctionStore in memory.
type FunctionStore struct {
	mu      sync.Mutex
	records map[string]*models.Function
}

// Create stores a copy of fn.
func (s *FunctionStore) Create(ctx context.Context, fn *models.Function) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn.ID == "" {
		fn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = now
	}
	fn.UpdatedAt = now
	if fn.Version == 0 {
		fn.Version = 1
	}
	s.records[fn.ID] = cloneFunction(fn)
	return nil
}

// Get returns a copy of the function.
func (s *FunctionStore) Get(ctx context.Context, id string) (*models.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneFunction(fn), nil
}

// UpdateStats applies fn under the store lock.
func (s *FunctionStore) UpdateStats(ctx context.Context, id string, fn func(models.FunctionStats) models.FunctionStats) (*models.FunctionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.FunctionStats = fn(rec.FunctionStats)
	rec.UpdatedAt = time.Now().UTC()
	return rec.Snapshot(), nil
}

func cloneFunction(fn *models.Function) *models.Function {
	c := *fn
	c.Tags = append([]string(nil), fn.Tags...)
	if fn.LastExecutedAt != nil {
		t := *fn.LastExecutedAt
		c.LastExecutedAt = &t
	}
	return &c
}

// ExecutionStore implements store.ExecutionStore in memory.
type ExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*models.ExecutionLog
}

// Create appends entry. Entries are never modified afterwards.
func (s *ExecutionStore) Create(ctx context.Context, entry *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c := *entry
	s.records[entry.ID] = &c
	return nil
}

// Get returns an entry by ID.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *entry
	return &c, nil
}

// List filters, sorts and pages the stored entries.
func (s *ExecutionStore) List(ctx context.Context, q store.ExecutionQuery) ([]*models.ExecutionLog, int, error) {
	q = q.Normalize()

	s.mu.RLock()
	var matched []*models.ExecutionLog
	for _, e := range s.records {
		if matches(e, q) {
			c := *e
			matched = append(matched, &c)
		}
	}
	s.mu.RUnlock()

	column, desc, _ := store.ParseSort(q.Sort)
	// Ties fall back to ascending id, as the postgres query orders them.
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if c := compareKey(column, a, b); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []*models.ExecutionLog{}, total, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(e *models.ExecutionLog, q store.ExecutionQuery) bool {
	if q.FunctionID != "" && (e.FunctionID == nil || *e.FunctionID != q.FunctionID) {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if q.From != nil && e.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && e.CreatedAt.After(*q.To) {
		return false
	}
	return true
}

func compareKey(column string, a, b *models.ExecutionLog) int {
	switch column {
	case "execution_time":
		return cmp.Compare(a.DurationMs, b.DurationMs)
	case "status":
		return cmp.Compare(a.Status, b.Status)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}
