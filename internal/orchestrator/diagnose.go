package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	fnerrors "github.com/narvanalabs/functions/internal/orchestrator/errors"
)

// diagnose tries to recover a more specific message for a failed
// invocation from the platform's activation record. It only ever adds
// detail to err; any failure along the way is logged and dropped.
func (e *Executor) diagnose(ctx context.Context, r *run, err *fnerrors.Error) {
	// The request context may be the reason the invocation failed.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.DiagnosisTimeout)
	defer cancel()

	activationID := err.ActivationID
	if activationID == "" {
		if e.config.DiagnosisWait > 0 {
			timer := time.NewTimer(e.config.DiagnosisWait)
			select {
			case <-timer.C:
			case <-dctx.Done():
				timer.Stop()
				e.diagnosisUnavailable(r, dctx.Err())
				return
			}
		}

		ids, lerr := e.platform.ListActivations(dctx, r.actionName, 1)
		if lerr != nil {
			e.diagnosisUnavailable(r, lerr)
			return
		}
		if len(ids) == 0 {
			e.diagnosisUnavailable(r, nil)
			return
		}
		activationID = ids[0]
	}

	act, gerr := e.platform.GetActivation(dctx, activationID)
	if gerr != nil {
		e.diagnosisUnavailable(r, gerr)
		return
	}

	err.ActivationID = activationID
	if msg := act.ErrorMessage(); msg != "" {
		err.Detail = msg
	}
	if raw, merr := json.Marshal(act.Response); merr == nil {
		r.diagnostic = raw
	}
	r.logger.Debug("invocation diagnosed", "activation_id", activationID, "detail", err.Detail)
}

func (e *Executor) diagnosisUnavailable(r *run, cause error) {
	attrs := []any{"error_type", fnerrors.KindDiagnostic}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	r.logger.Warn("invocation diagnosis unavailable", attrs...)
}
