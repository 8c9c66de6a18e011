package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/narvanalabs/functions/internal/models"
)

// Result is the outcome of an execution that reached the platform and
// returned. Status is error when the user's code itself failed.
type Result struct {
	ExecutionID        string                 `json:"execution_id"`
	FunctionID         string                 `json:"function_id,omitempty"`
	FunctionName       string                 `json:"function_name,omitempty"`
	Status             models.ExecutionStatus `json:"status"`
	DurationMs         int64                  `json:"execution_time"`
	Output             json.RawMessage        `json:"result"`
	Error              *models.ErrorDetail    `json:"error_details,omitempty"`
	ActionName         string                 `json:"action_name"`
	WebActionURL       string                 `json:"web_action_url"`
	WebActionURLJSON   string                 `json:"web_action_url_json"`
	KeepAction         bool                   `json:"keep_action"`
	DirectExecution    bool                   `json:"direct_execution,omitempty"`
	LogID              string                 `json:"log_id,omitempty"`
	AccessInstructions AccessInstructions     `json:"access_instructions"`
}

// AccessInstructions tell the caller how to reach the deployed action
// until it is cleaned up.
type AccessInstructions struct {
	GetURL      string `json:"get_url"`
	PostExample string `json:"post_example"`
	ExpiresIn   string `json:"expires_in"`
}

func postExample(url string, input json.RawMessage) string {
	return fmt.Sprintf(`curl -X POST %s -H "Content-Type: application/json" -d '%s'`, url, string(input))
}

// humanDuration renders whole minutes as "5 minutes" and anything else in
// Go duration syntax.
func humanDuration(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
