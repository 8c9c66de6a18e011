package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/stats"
	"github.com/narvanalabs/functions/internal/store"
)

// getTestDSN returns the database DSN for testing.
// Set TEST_DATABASE_URL environment variable to run these tests.
func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupTestStore creates a test database connection and applies the schema.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := getTestDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}

	_, _ = db.Exec("DROP TABLE IF EXISTS execution_logs CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS functions CASCADE")

	s := newStore(db, slog.Default())
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return s
}

func TestBuildExecutionFilter(t *testing.T) {
	where, args := buildExecutionFilter(store.ExecutionQuery{})
	if where != "" || len(args) != 0 {
		t.Errorf("empty query produced %q %v", where, args)
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = buildExecutionFilter(store.ExecutionQuery{
		FunctionID: "f1",
		Status:     models.ExecutionStatusError,
		From:       &from,
	})
	want := " WHERE function_id = $1 AND status = $2 AND created_at >= $3"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 3 || args[1] != "error" {
		t.Errorf("args = %v", args)
	}
}

// TestExecutionLogsTableHasNoCascade keeps deletes of functions from
// rewriting history rows.
func TestExecutionLogsTableHasNoCascade(t *testing.T) {
	start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS execution_logs")
	if start < 0 {
		t.Fatal("execution_logs table missing from schema")
	}
	table := schema[start:]
	table = table[:strings.Index(table, ");")]
	for _, clause := range []string{"REFERENCES", "ON DELETE", "ON UPDATE"} {
		if strings.Contains(table, clause) {
			t.Errorf("execution_logs declares %s", clause)
		}
	}
	if !strings.Contains(schema, "DROP CONSTRAINT IF EXISTS execution_logs_function_id_fkey") {
		t.Error("schema does not drop the legacy function_id constraint")
	}
}

func TestExecutionLogForUnknownFunction(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	orphan := uuid.New().String()
	entry := &models.ExecutionLog{
		FunctionID: &orphan,
		Status:     models.ExecutionStatusError,
		Metadata:   models.ExecutionMetadata{ActionName: "func-gone"},
	}
	if err := s.Executions().Create(ctx, entry); err != nil {
		t.Fatalf("Create execution: %v", err)
	}
	back, err := s.Executions().Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get execution: %v", err)
	}
	if back.FunctionID == nil || *back.FunctionID != orphan {
		t.Errorf("function id = %v, want %s", back.FunctionID, orphan)
	}
}

// TestFilterPlaceholdersMatchArgs verifies every placeholder has an argument.
func TestFilterPlaceholdersMatchArgs(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("placeholder count equals arg count", prop.ForAll(
		func(hasFn, hasStatus, hasFrom, hasTo bool) bool {
			q := store.ExecutionQuery{}
			now := time.Now()
			if hasFn {
				q.FunctionID = uuid.New().String()
			}
			if hasStatus {
				q.Status = models.ExecutionStatusSuccess
			}
			if hasFrom {
				q.From = &now
			}
			if hasTo {
				q.To = &now
			}
			where, args := buildExecutionFilter(q)
			return strings.Count(where, "$") == len(args)
		},
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestFunctionAndExecutionRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fn := &models.Function{
		Name:          "adder",
		Code:          "(p) => p.a + p.b",
		Runtime:       "nodejs:20",
		Tags:          []string{"math", "demo"},
		IsActive:      true,
		CreatedBy:     "user-1",
		FunctionStats: models.FunctionStats{SuccessRate: models.DefaultSuccessRate},
	}
	if err := s.Functions().Create(ctx, fn); err != nil {
		t.Fatalf("Create function: %v", err)
	}

	got, err := s.Functions().Get(ctx, fn.ID)
	if err != nil {
		t.Fatalf("Get function: %v", err)
	}
	if got.Name != fn.Name || len(got.Tags) != 2 || got.SuccessRate != 100 {
		t.Errorf("function = %+v", got)
	}

	updated, err := s.Functions().UpdateStats(ctx, fn.ID, func(cur models.FunctionStats) models.FunctionStats {
		return stats.Apply(cur, stats.Outcome{Success: true, DurationMs: 100, HasSample: true})
	})
	if err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	if updated.ExecutionCount != 1 || updated.AverageExecutionTime != 100 {
		t.Errorf("stats = %+v", updated)
	}

	fid := fn.ID
	entry := &models.ExecutionLog{
		FunctionID: &fid,
		Input:      json.RawMessage(`{"a":1,"b":2}`),
		Output:     json.RawMessage(`{"statusCode":200,"body":3}`),
		Status:     models.ExecutionStatusSuccess,
		DurationMs: 100,
		Metadata:   models.ExecutionMetadata{ActionName: "func-x", Namespace: "guest"},
		Snapshot:   updated,
	}
	if err := s.Executions().Create(ctx, entry); err != nil {
		t.Fatalf("Create execution: %v", err)
	}

	back, err := s.Executions().Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get execution: %v", err)
	}
	if back.Metadata.ActionName != "func-x" || back.Error != nil || back.Snapshot == nil {
		t.Errorf("execution = %+v", back)
	}

	logs, total, err := s.Executions().List(ctx, store.ExecutionQuery{FunctionID: fn.ID})
	if err != nil || total != 1 || len(logs) != 1 {
		t.Fatalf("List = %d entries, total %d, err %v", len(logs), total, err)
	}

	if _, err := s.Executions().Get(ctx, uuid.New().String()); err != ErrNotFound {
		t.Errorf("missing execution err = %v", err)
	}
}
