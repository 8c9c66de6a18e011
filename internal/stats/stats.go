// Package stats maintains the rolling latency and success figures of a
// function record.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/store"
)

// Outcome is the result of one invocation that reached a terminal state.
type Outcome struct {
	Success bool
	// DurationMs is the measured wall-clock duration. It is only folded into
	// the average when HasSample is set.
	DurationMs int64
	HasSample  bool
	At         time.Time
}

// Apply returns current updated by one outcome. The count is incremented
// first and n is the new count. The average and the rate are incremental
// means rounded half up at every step, not recomputed from history.
func Apply(current models.FunctionStats, o Outcome) models.FunctionStats {
	next := current
	next.ExecutionCount = current.ExecutionCount + 1
	n := float64(next.ExecutionCount)

	if o.HasSample {
		avg := (float64(current.AverageExecutionTime)*(n-1) + float64(o.DurationMs)) / n
		next.AverageExecutionTime = int64(roundHalfUp(avg))
	}

	hit := 0.0
	if o.Success {
		hit = 100
	}
	rate := roundHalfUp((float64(current.SuccessRate)*(n-1) + hit) / n)
	next.SuccessRate = clampRate(int(rate))

	at := o.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next.LastExecutedAt = &at
	return next
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func clampRate(r int) int {
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return r
	}
}

// Aggregator records outcomes against stored function records.
type Aggregator struct {
	functions store.FunctionStore
	logger    *slog.Logger
}

// NewAggregator creates a new statistics aggregator.
func NewAggregator(functions store.FunctionStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{functions: functions, logger: logger}
}

// Record folds one outcome into the function's statistics and returns the
// updated figures.
func (a *Aggregator) Record(ctx context.Context, functionID string, o Outcome) (*models.FunctionStats, error) {
	updated, err := a.functions.UpdateStats(ctx, functionID, func(current models.FunctionStats) models.FunctionStats {
		return Apply(current, o)
	})
	if err != nil {
		return nil, fmt.Errorf("updating stats for function %s: %w", functionID, err)
	}

	a.logger.Debug("function stats updated",
		"function_id", functionID,
		"execution_count", updated.ExecutionCount,
		"average_execution_time", updated.AverageExecutionTime,
		"success_rate", updated.SuccessRate,
	)
	return updated, nil
}
