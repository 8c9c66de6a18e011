package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/narvanalabs/functions/internal/models"
	fnerrors "github.com/narvanalabs/functions/internal/orchestrator/errors"
	"github.com/narvanalabs/functions/internal/store"
)

// QueryLogs returns one page of a function's execution history together
// with the live statistics of the function record. The caller must be
// allowed to execute the function.
func (e *Executor) QueryLogs(ctx context.Context, functionID string, q store.ExecutionQuery, actor string) (*models.ExecutionPage, error) {
	fn, err := e.loadVisible(ctx, functionID, actor)
	if err != nil {
		return nil, err
	}

	if q.Status != "" && !q.Status.Valid() {
		return nil, fnerrors.Validation("unknown status %q", q.Status)
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return nil, fnerrors.Validation("start date is after end date")
	}
	q.FunctionID = fn.ID
	q = q.Normalize()

	logs, total, err := e.store.Executions().List(ctx, q)
	if err != nil {
		return nil, fnerrors.New(fnerrors.KindInternal, "query", err)
	}

	return &models.ExecutionPage{
		Logs: logs,
		Pagination: models.Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: store.Pages(total, q.Limit),
		},
		Function: &models.FunctionSummary{
			ID:            fn.ID,
			Name:          fn.Name,
			FunctionStats: fn.FunctionStats,
		},
	}, nil
}

// GetExecution returns one execution log entry. Entries of stored
// functions follow the function's visibility. Direct executions are
// visible to their invoker only.
func (e *Executor) GetExecution(ctx context.Context, executionID, actor string) (*models.ExecutionLog, error) {
	entry, err := e.store.Executions().Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fnerrors.NotFound("load", fmt.Errorf("execution %s not found", executionID))
		}
		return nil, fnerrors.New(fnerrors.KindInternal, "load", err)
	}

	if actor == "" || (entry.InvokedBy != nil && *entry.InvokedBy == actor) {
		return entry, nil
	}
	if entry.FunctionID == nil {
		return nil, fnerrors.New(fnerrors.KindAccessDenied, "authorize", fmt.Errorf("access denied to execution %s", executionID))
	}
	if _, err := e.loadVisible(ctx, *entry.FunctionID, actor); err != nil {
		return nil, err
	}
	return entry, nil
}

// Authorize reports whether actor may observe the executions of a function.
func (e *Executor) Authorize(ctx context.Context, functionID, actor string) error {
	_, err := e.loadVisible(ctx, functionID, actor)
	return err
}

func (e *Executor) loadVisible(ctx context.Context, functionID, actor string) (*models.Function, error) {
	fn, err := e.store.Functions().Get(ctx, functionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fnerrors.NotFound("load", fmt.Errorf("function %s not found", functionID))
		}
		return nil, fnerrors.New(fnerrors.KindInternal, "load", err)
	}
	if !fn.CanExecute(actor) {
		return nil, fnerrors.AccessDenied(fn.ID)
	}
	return fn, nil
}
