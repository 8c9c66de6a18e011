// Package orchestrator drives the execution of stored and ad-hoc code on
// the function platform: packaging, deployment, invocation, outcome
// classification, statistics, history and deferred cleanup.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/narvanalabs/functions/internal/cleanup"
	"github.com/narvanalabs/functions/internal/events"
	"github.com/narvanalabs/functions/internal/models"
	fnerrors "github.com/narvanalabs/functions/internal/orchestrator/errors"
	"github.com/narvanalabs/functions/internal/packager"
	"github.com/narvanalabs/functions/internal/platform"
	"github.com/narvanalabs/functions/internal/stats"
	"github.com/narvanalabs/functions/internal/store"
	"github.com/narvanalabs/functions/pkg/logger"
)

// Packager builds deployable archives.
type Packager interface {
	Build(ctx context.Context, code, actionName, runtimeID string) (*packager.Artifact, error)
}

// KindResolver maps a runtime identifier to a platform action kind.
type KindResolver interface {
	Kind(identifier string) string
}

// StatsRecorder folds an outcome into a function's statistics.
type StatsRecorder interface {
	Record(ctx context.Context, functionID string, o stats.Outcome) (*models.FunctionStats, error)
}

// CleanupScheduler schedules deferred deletion of deployed actions.
// Cancel must not return while a delete of the action is still running.
type CleanupScheduler interface {
	Schedule(actionName string, delay time.Duration) *cleanup.Task
	Cancel(actionName string) bool
}

// Config holds executor settings.
type Config struct {
	Namespace string
	Package   string
	// APIHost is the platform endpoint used to build web action URLs.
	APIHost   string
	URLScheme string
	// CleanupDelay applies to actions not marked for retention.
	CleanupDelay time.Duration
	RetainDelay  time.Duration
	// DiagnosisWait lets the platform persist an activation record before
	// it is looked up.
	DiagnosisWait time.Duration
	// DiagnosisTimeout bounds the whole diagnosis step.
	DiagnosisTimeout time.Duration
	// DirectKind is the platform kind used for ad-hoc executions.
	DirectKind string
}

// DefaultConfig returns a Config with the standard delays.
func DefaultConfig() Config {
	return Config{
		Namespace:        "guest",
		Package:          "default",
		APIHost:          "http://172.17.0.1:3233",
		URLScheme:        "http",
		CleanupDelay:     cleanup.DefaultDelay,
		RetainDelay:      cleanup.DefaultRetainDelay,
		DiagnosisWait:    time.Second,
		DiagnosisTimeout: 10 * time.Second,
		DirectKind:       "nodejs:20",
	}
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Store    store.Store
	Kinds    KindResolver
	Packager Packager
	Platform platform.Client
	Stats    StatsRecorder
	Cleanup  CleanupScheduler
	// Events is optional.
	Events events.Publisher
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Executor runs the execution state machine.
type Executor struct {
	store    store.Store
	kinds    KindResolver
	packager Packager
	platform platform.Client
	stats    StatsRecorder
	cleanup  CleanupScheduler
	events   events.Publisher
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates a new executor.
func NewExecutor(deps Deps, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Package == "" {
		cfg.Package = def.Package
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = def.CleanupDelay
	}
	if cfg.RetainDelay <= 0 {
		cfg.RetainDelay = def.RetainDelay
	}
	if cfg.DiagnosisTimeout <= 0 {
		cfg.DiagnosisTimeout = def.DiagnosisTimeout
	}
	if cfg.DirectKind == "" {
		cfg.DirectKind = def.DirectKind
	}

	e := &Executor{
		store:    deps.Store,
		kinds:    deps.Kinds,
		packager: deps.Packager,
		platform: deps.Platform,
		stats:    deps.Stats,
		cleanup:  deps.Cleanup,
		events:   deps.Events,
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRequest asks for a stored function to be run.
type ExecuteRequest struct {
	FunctionID string
	Input      json.RawMessage
	// Actor is the invoking user. Empty means an internal caller.
	Actor string
	// KeepAction extends the time the deployed action stays reachable.
	KeepAction bool
}

// DirectRequest asks for ad-hoc code to be run.
type DirectRequest struct {
	Code  string
	Input json.RawMessage
	Actor string
}

// ActionName returns the deployed action name of a stored function. It is
// stable so that repeated executions update one action.
func ActionName(functionID string) string {
	return "func-" + strings.ReplaceAll(functionID, "-", "")
}

// run carries the state of one execution attempt.
type run struct {
	id         string
	fn         *models.Function // nil for direct executions
	code       string
	runtime    string
	kind       string
	actionName string
	input      json.RawMessage
	actor      string
	keepAction bool
	direct     bool

	machine    *machine
	start      time.Time
	deployed   bool
	diagnostic json.RawMessage
	logger     *slog.Logger
}

// enter moves the run to next and logs the transition.
func (r *run) enter(next State) {
	if err := r.machine.to(next); err != nil {
		r.logger.Error("execution state machine", "error", err)
		return
	}
	r.logger.Debug("execution state", "state", next)
}

// Execute runs a stored function. Lookup, access and activity checks fail
// before any deployment work and leave no execution log. Every later
// failure is logged and returned as an *errors.Error.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	r := e.newRun()
	ctx = logger.ContextWithExecutionID(ctx, r.id)
	r.enter(StateValidating)

	input, err := normalizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	fn, err := e.loadVisible(ctx, req.FunctionID, req.Actor)
	if err != nil {
		return nil, err
	}
	if !fn.IsActive {
		return nil, fnerrors.Inactive(fn.ID)
	}
	if strings.TrimSpace(fn.Code) == "" {
		return nil, fnerrors.Validation("function %s has no code", fn.ID)
	}

	r.fn = fn
	r.code = fn.Code
	r.runtime = fn.Runtime
	r.kind = e.kinds.Kind(fn.Runtime)
	r.actionName = ActionName(fn.ID)
	r.input = input
	r.actor = req.Actor
	r.keepAction = req.KeepAction
	ctx = logger.ContextWithFunctionID(ctx, fn.ID)
	r.logger = e.runLogger(ctx, "action", r.actionName)

	return e.execute(ctx, r)
}

// ExecuteDirect runs ad-hoc code with the default runtime. Direct
// executions have no function record and do not update statistics.
func (e *Executor) ExecuteDirect(ctx context.Context, req DirectRequest) (*Result, error) {
	r := e.newRun()
	ctx = logger.ContextWithExecutionID(ctx, r.id)
	r.enter(StateValidating)

	if strings.TrimSpace(req.Code) == "" {
		return nil, fnerrors.Validation("code is required")
	}
	input, err := normalizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	r.code = req.Code
	r.runtime = e.config.DirectKind
	r.kind = e.config.DirectKind
	// The id suffix keeps concurrent direct runs in the same millisecond apart.
	r.actionName = fmt.Sprintf("temp-exec-%d-%s", e.now().UnixMilli(), strings.ReplaceAll(r.id, "-", "")[:8])
	r.input = input
	r.actor = req.Actor
	r.direct = true
	r.logger = e.runLogger(ctx, "action", r.actionName, "direct", true)

	return e.execute(ctx, r)
}

// runLogger tags a run's log lines with the ids carried by ctx.
func (e *Executor) runLogger(ctx context.Context, args ...any) *slog.Logger {
	l := &logger.Logger{Logger: e.logger}
	return l.WithContext(ctx).With(args...)
}

func (e *Executor) newRun() *run {
	return &run{
		id:      uuid.New().String(),
		machine: newMachine(),
		logger:  e.logger,
	}
}

// normalizeInput defaults an empty payload to an empty object and rejects
// anything that is not a JSON object.
func normalizeInput(raw json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fnerrors.Validation("input must be a JSON object")
	}
	return raw, nil
}

// execute drives a validated run through packaging, deployment and
// invocation to a terminal state.
func (e *Executor) execute(ctx context.Context, r *run) (*Result, error) {
	r.start = e.now()
	e.publish(r, events.TypeStarted, "", 0, nil)
	r.logger.Info("execution started", "runtime", r.runtime, "kind", r.kind)

	r.enter(StatePackaging)
	art, err := e.packager.Build(ctx, r.code, r.actionName, r.runtime)
	if err != nil {
		return nil, e.fail(ctx, r, fnerrors.Packaging(err))
	}
	defer func() {
		if err := art.Cleanup(); err != nil {
			r.logger.Warn("failed to remove working directory", "dir", art.WorkDir, "error", err)
		}
	}()

	r.enter(StateDeploying)
	// A cleanup left by an earlier run would delete the action mid-invoke.
	if e.cleanup != nil && e.cleanup.Cancel(r.actionName) {
		r.logger.Debug("pending cleanup cancelled for redeploy")
	}
	if err := e.deploy(ctx, r, art); err != nil {
		return nil, e.fail(ctx, r, fnerrors.Deployment(err))
	}
	r.deployed = true

	r.enter(StateInvoking)
	resp, err := e.platform.Invoke(ctx, r.actionName, r.input)
	if err != nil {
		return nil, e.fail(ctx, r, classifyInvokeError(ctx, err))
	}
	return e.complete(ctx, r, resp)
}

// deploy updates the action when it exists and creates it otherwise.
func (e *Executor) deploy(ctx context.Context, r *run, art *packager.Artifact) error {
	spec := &platform.ActionSpec{
		Name:        r.actionName,
		Kind:        r.kind,
		Archive:     art.Archive,
		Web:         true,
		Annotations: platform.WebAnnotations(),
	}

	exists, err := e.platform.Exists(ctx, r.actionName)
	if err != nil {
		return err
	}
	if exists {
		if err := e.platform.Update(ctx, spec); err != nil {
			return err
		}
		r.logger.Info("action updated", "kind", r.kind)
		return nil
	}

	err = e.platform.Create(ctx, spec)
	if errors.Is(err, platform.ErrActionExists) {
		// Created concurrently by another execution of the same function.
		err = e.platform.Update(ctx, spec)
	}
	if err != nil {
		return err
	}
	r.logger.Info("action created", "kind", r.kind)
	return nil
}

func classifyInvokeError(ctx context.Context, err error) *fnerrors.Error {
	var ie *platform.InvokeError
	if (errors.As(err, &ie) && ie.Timeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e := fnerrors.Timeout(err)
		e.ActivationID = platform.ActivationIDOf(err)
		return e
	}
	// Not diagnosed: the latest activation of a reused name belongs to an
	// earlier run.
	if errors.Is(err, platform.ErrActionNotFound) {
		return fnerrors.NotFound("invoke", err)
	}
	e := fnerrors.Invocation(err)
	e.ActivationID = platform.ActivationIDOf(err)
	return e
}

// complete records a run that returned a result, including results that
// carry an error produced by the user's code.
func (e *Executor) complete(ctx context.Context, r *run, resp *platform.InvokeResponse) (*Result, error) {
	r.enter(StateCompleted)
	duration := e.now().Sub(r.start).Milliseconds()
	status, detail := classifyResult(resp)

	var snapshot *models.FunctionStats
	if r.fn != nil {
		snapshot = e.recordStats(ctx, r, stats.Outcome{
			Success:    status == models.ExecutionStatusSuccess,
			DurationMs: duration,
			HasSample:  true,
			At:         e.now().UTC(),
		})
	}

	output := resp.Result
	if len(output) == 0 {
		output = json.RawMessage(`null`)
	}
	entry := e.newLog(r, status, duration, output, detail, snapshot)
	entry.Metadata.ActivationID = resp.ActivationID
	logged := e.writeLog(ctx, r, entry)

	delay := e.scheduleCleanup(r)

	errText := ""
	if detail != nil {
		errText = detail.Message
	}
	e.publish(r, events.TypeCompleted, status, duration, &eventError{message: errText, kind: errKind(detail)})
	r.logger.Info("execution completed", "status", status, "execution_time", duration)

	res := &Result{
		ExecutionID:      r.id,
		Status:           status,
		DurationMs:       duration,
		Output:           output,
		Error:            detail,
		ActionName:       r.actionName,
		WebActionURL:     entry.Metadata.WebActionURL,
		WebActionURLJSON: entry.Metadata.WebActionURLJSON,
		KeepAction:       r.keepAction,
		DirectExecution:  r.direct,
		AccessInstructions: AccessInstructions{
			GetURL:      entry.Metadata.WebActionURL,
			PostExample: postExample(entry.Metadata.WebActionURLJSON, r.input),
			ExpiresIn:   humanDuration(delay),
		},
	}
	if r.fn != nil {
		res.FunctionID = r.fn.ID
		res.FunctionName = r.fn.Name
	}
	if logged {
		res.LogID = entry.ID
	}
	return res, nil
}

// classifyResult inspects a returned payload for in-band errors: an
// "error" field, or a structured body with a 5xx status code.
func classifyResult(resp *platform.InvokeResponse) (models.ExecutionStatus, *models.ErrorDetail) {
	fields := resp.Fields()
	if fields == nil {
		return models.ExecutionStatusSuccess, nil
	}

	if raw, ok := fields["error"]; ok && !isJSONNull(raw) {
		return models.ExecutionStatusError, &models.ErrorDetail{
			Message: jsonText(raw),
			Type:    string(fnerrors.KindInBand),
		}
	}

	if raw, ok := fields["statusCode"]; ok {
		var code int
		if err := json.Unmarshal(raw, &code); err == nil && code >= 500 {
			detail := &models.ErrorDetail{
				Message: fmt.Sprintf("action returned status %d", code),
				Type:    string(fnerrors.KindInBand),
			}
			var body struct {
				Error  json.RawMessage `json:"error"`
				Detail json.RawMessage `json:"detail"`
			}
			if b, ok := fields["body"]; ok && json.Unmarshal(b, &body) == nil {
				if len(body.Error) > 0 && !isJSONNull(body.Error) {
					detail.Message = jsonText(body.Error)
				}
				if len(body.Detail) > 0 && !isJSONNull(body.Detail) {
					detail.Detail = jsonText(body.Detail)
				}
			}
			return models.ExecutionStatusError, detail
		}
	}

	return models.ExecutionStatusSuccess, nil
}

// fail records a run that could not complete and returns err.
func (e *Executor) fail(ctx context.Context, r *run, err *fnerrors.Error) error {
	r.enter(StateFailed)
	duration := e.now().Sub(r.start).Milliseconds()

	if err.Kind == fnerrors.KindInvocation || err.Kind == fnerrors.KindTimeout {
		e.diagnose(ctx, r, err)
	}

	status := models.ExecutionStatusError
	if err.Kind == fnerrors.KindTimeout {
		status = models.ExecutionStatusTimeout
	}

	var snapshot *models.FunctionStats
	if r.fn != nil {
		snapshot = e.recordStats(ctx, r, stats.Outcome{Success: false, At: e.now().UTC()})
	}

	detail := &models.ErrorDetail{
		Message: err.Message(),
		Type:    string(err.Kind),
	}
	if err.Detail != "" && err.Err != nil {
		detail.Detail = err.Err.Error()
	}
	output, _ := json.Marshal(map[string]string{"error": detail.Message})

	entry := e.newLog(r, status, duration, output, detail, snapshot)
	entry.Metadata.ActivationID = err.ActivationID
	entry.Metadata.Diagnostic = r.diagnostic
	if e.writeLog(ctx, r, entry) {
		err.ExecutionID = r.id
	}

	if r.deployed {
		e.scheduleCleanup(r)
	}

	e.publish(r, events.TypeFailed, status, duration, &eventError{message: detail.Message, kind: string(err.Kind)})
	r.logger.Error("execution failed", "error_type", err.Kind, "error", err)
	return err
}

func (e *Executor) recordStats(ctx context.Context, r *run, o stats.Outcome) *models.FunctionStats {
	if e.stats == nil {
		return nil
	}
	updated, err := e.stats.Record(ctx, r.fn.ID, o)
	if err != nil {
		r.logger.Warn("failed to update function stats", "error", err)
		return r.fn.Snapshot()
	}
	return updated
}

func (e *Executor) newLog(r *run, status models.ExecutionStatus, duration int64, output json.RawMessage, detail *models.ErrorDetail, snapshot *models.FunctionStats) *models.ExecutionLog {
	entry := &models.ExecutionLog{
		ID:         r.id,
		Input:      r.input,
		Output:     output,
		Status:     status,
		DurationMs: duration,
		Error:      detail,
		Snapshot:   snapshot,
		Metadata: models.ExecutionMetadata{
			ActionName:       r.actionName,
			Namespace:        e.config.Namespace,
			Package:          e.config.Package,
			Runtime:          r.runtime,
			WebActionURL:     e.webURL(r.actionName, false),
			WebActionURLJSON: e.webURL(r.actionName, true),
			KeepAction:       r.keepAction,
			DirectExecution:  r.direct,
		},
		CreatedAt: e.now().UTC(),
	}
	if r.fn != nil {
		id := r.fn.ID
		entry.FunctionID = &id
	}
	if r.actor != "" {
		actor := r.actor
		entry.InvokedBy = &actor
	}
	return entry
}

// writeLog persists entry. A write failure is only logged so it never
// replaces the outcome being reported.
func (e *Executor) writeLog(ctx context.Context, r *run, entry *models.ExecutionLog) bool {
	// The request context may already be done after a timeout.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.store.Executions().Create(wctx, entry); err != nil {
		r.logger.Warn("failed to write execution log", "status", entry.Status, "error", err)
		return false
	}
	return true
}

func (e *Executor) scheduleCleanup(r *run) time.Duration {
	delay := e.config.CleanupDelay
	if r.keepAction {
		delay = e.config.RetainDelay
	}
	if e.cleanup != nil {
		e.cleanup.Schedule(r.actionName, delay)
	}
	return delay
}

func (e *Executor) webURL(actionName string, asJSON bool) string {
	return platform.WebActionURL(e.config.URLScheme, e.config.APIHost, e.config.Namespace, e.config.Package, actionName, asJSON)
}

type eventError struct {
	message string
	kind    string
}

func (e *Executor) publish(r *run, t events.Type, status models.ExecutionStatus, duration int64, ee *eventError) {
	if e.events == nil {
		return
	}
	ev := &events.Event{
		Type:        t,
		ExecutionID: r.id,
		ActionName:  r.actionName,
		Status:      status,
		DurationMs:  duration,
		Timestamp:   e.now().UTC(),
	}
	if r.fn != nil {
		ev.FunctionID = r.fn.ID
	}
	if ee != nil {
		ev.Error = ee.message
		ev.ErrorType = ee.kind
	}
	e.events.Publish(ev)
}

func errKind(d *models.ErrorDetail) string {
	if d == nil {
		return ""
	}
	return d.Type
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// jsonText returns a JSON string's value, or the raw JSON for other types.
func jsonText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
