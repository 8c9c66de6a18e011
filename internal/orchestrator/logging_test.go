package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/pkg/logger"
)

func TestExecute_LogLinesCarryRequestContext(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	h.exec.logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fn := h.createFunction(t, &models.Function{Name: "echo", CreatedBy: "alice", IsActive: true})
	ctx := logger.ContextWithRequestID(context.Background(), "req-9")
	ctx = logger.ContextWithUserID(ctx, "alice")

	res, err := h.exec.Execute(ctx, ExecuteRequest{FunctionID: fn.ID, Actor: "alice"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := map[string]string{
		"request_id":   "req-9",
		"user_id":      "alice",
		"execution_id": res.ExecutionID,
		"function_id":  fn.ID,
		"action":       res.ActionName,
	}
	found := false
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decoding log line %q: %v", scanner.Text(), err)
		}
		if line["msg"] != "execution completed" {
			continue
		}
		found = true
		for k, v := range want {
			if line[k] != v {
				t.Errorf("%s = %v, want %s", k, line[k], v)
			}
		}
	}
	if !found {
		t.Fatalf("no completion line in %s", buf.String())
	}
}

func TestExecuteDirect_LogLinesCarryExecutionID(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	h.exec.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	res, err := h.exec.ExecuteDirect(context.Background(), DirectRequest{Code: "return 1"})
	if err != nil {
		t.Fatalf("ExecuteDirect: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decoding log line: %v", err)
		}
		if line["execution_id"] != res.ExecutionID || line["direct"] != true {
			t.Errorf("line missing run fields: %v", line)
		}
		if _, ok := line["function_id"]; ok {
			t.Errorf("direct run logged a function id: %v", line)
		}
	}
}
