package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/narvanalabs/functions/internal/cleanup"
	"github.com/narvanalabs/functions/internal/events"
	"github.com/narvanalabs/functions/internal/models"
	"github.com/narvanalabs/functions/internal/packager"
	"github.com/narvanalabs/functions/internal/platform"
	"github.com/narvanalabs/functions/internal/runtimes"
	"github.com/narvanalabs/functions/internal/stats"
	"github.com/narvanalabs/functions/internal/store"
	"github.com/narvanalabs/functions/internal/store/memory"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakePlatform is an in-memory platform.Client.
type fakePlatform struct {
	mu      sync.Mutex
	actions map[string]*platform.ActionSpec
	calls   []string
	deleted []string

	createErr   error
	invoke      func(name string, params json.RawMessage) (*platform.InvokeResponse, error)
	activations []string
	listErr     error
	activation  *platform.Activation
	getErr      error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{actions: make(map[string]*platform.ActionSpec)}
}

func (p *fakePlatform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlatform) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlatform) count(call string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePlatform) Exists(ctx context.Context, name string) (bool, error) {
	p.record("exists")
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.actions[name]
	return ok, nil
}

func (p *fakePlatform) Create(ctx context.Context, spec *platform.ActionSpec) error {
	p.record("create")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return p.createErr
	}
	if _, ok := p.actions[spec.Name]; ok {
		return platform.ErrActionExists
	}
	p.actions[spec.Name] = spec
	return nil
}

func (p *fakePlatform) Update(ctx context.Context, spec *platform.ActionSpec) error {
	p.record("update")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions[spec.Name] = spec
	return nil
}

func (p *fakePlatform) Invoke(ctx context.Context, name string, params json.RawMessage) (*platform.InvokeResponse, error) {
	p.record("invoke")
	if p.invoke != nil {
		return p.invoke(name, params)
	}
	return &platform.InvokeResponse{Result: json.RawMessage(`{"statusCode":200,"body":{"ok":true}}`), ActivationID: "act-ok"}, nil
}

func (p *fakePlatform) Delete(ctx context.Context, name string) error {
	p.record("delete")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, name)
	delete(p.actions, name)
	return nil
}

func (p *fakePlatform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakePlatform) ListActivations(ctx context.Context, name string, limit int) ([]string, error) {
	p.record("list_activations")
	return p.activations, p.listErr
}

func (p *fakePlatform) GetActivation(ctx context.Context, id string) (*platform.Activation, error) {
	p.record("get_activation")
	if p.getErr != nil {
		return nil, p.getErr
	}
	if p.activation == nil {
		return nil, errors.New("activation not found")
	}
	return p.activation, nil
}

func (p *fakePlatform) actionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}

// scheduled is one recorded cleanup request.
type scheduled struct {
	name  string
	delay time.Duration
}

// recordingScheduler records cleanup requests without running them.
type recordingScheduler struct {
	mu        sync.Mutex
	tasks     []scheduled
	cancelled []string
}

func (s *recordingScheduler) Schedule(name string, delay time.Duration) *cleanup.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduled{name: name, delay: delay})
	return &cleanup.Task{ActionName: name}
}

func (s *recordingScheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, name)
	return false
}

func (s *recordingScheduler) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func (s *recordingScheduler) Tasks() []scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduled(nil), s.tasks...)
}

// collectingPublisher records published events.
type collectingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *collectingPublisher) Publish(e *events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingPublisher) Types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Type
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

// failingLogs wraps a store so execution log writes fail.
type failingLogs struct {
	store.Store
}

func (f failingLogs) Executions() store.ExecutionStore {
	return failingExecutionStore{f.Store.Executions()}
}

type failingExecutionStore struct {
	store.ExecutionStore
}

func (failingExecutionStore) Create(ctx context.Context, entry *models.ExecutionLog) error {
	return errors.New("database unavailable")
}

// harness wires an executor to fakes.
type harness struct {
	exec     *Executor
	store    *memory.Store
	platform *fakePlatform
	cleanup  *recordingScheduler
	events   *collectingPublisher
	clock    *fakeClock
	workRoot string

	scheduler *cleanup.Scheduler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	archiver     packager.Archiver
	failLogs     bool
	cleanupDelay time.Duration
}

func withArchiver(a packager.Archiver) harnessOption {
	return func(c *harnessConfig) { c.archiver = a }
}

// withScheduler runs a real cleanup scheduler with the given delay.
func withScheduler(delay time.Duration) harnessOption {
	return func(c *harnessConfig) { c.cleanupDelay = delay }
}

func withFailingLogs() harnessOption {
	return func(c *harnessConfig) { c.failLogs = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	registry, err := runtimes.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	mem := memory.New()
	hc := &harnessConfig{
		archiver: packager.ArchiverFunc(func(ctx context.Context, dir string) ([]byte, error) {
			return []byte("PK\x03\x04"), nil
		}),
	}
	for _, opt := range opts {
		opt(hc)
	}
	var st store.Store = mem
	if hc.failLogs {
		st = failingLogs{mem}
	}

	root := t.TempDir()
	h := &harness{
		store:    mem,
		platform: newFakePlatform(),
		cleanup:  &recordingScheduler{},
		events:   &collectingPublisher{},
		clock:    newFakeClock(),
		workRoot: root,
	}

	cfg := DefaultConfig()
	cfg.DiagnosisWait = 0

	var sched CleanupScheduler = h.cleanup
	if hc.cleanupDelay > 0 {
		h.scheduler = cleanup.NewScheduler(h.platform, nil)
		sched = h.scheduler
		cfg.CleanupDelay = hc.cleanupDelay
	}

	h.exec = NewExecutor(Deps{
		Store:    st,
		Kinds:    registry,
		Packager: packager.NewBuilder(registry, hc.archiver, packager.Config{WorkDir: root}, nil),
		Platform: h.platform,
		Stats:    stats.NewAggregator(mem.Functions(), nil),
		Cleanup:  sched,
		Events:   h.events,
	}, cfg, WithClock(h.clock.Now))
	return h
}

func (h *harness) createFunction(t *testing.T, fn *models.Function) *models.Function {
	t.Helper()
	if fn.Code == "" {
		fn.Code = "(params) => params"
	}
	if fn.Runtime == "" {
		fn.Runtime = "nodejs:20"
	}
	if fn.SuccessRate == 0 && fn.ExecutionCount == 0 {
		fn.SuccessRate = models.DefaultSuccessRate
	}
	if err := h.store.Functions().Create(context.Background(), fn); err != nil {
		t.Fatalf("creating function: %v", err)
	}
	return fn
}

func (h *harness) logs(t *testing.T, functionID string) []*models.ExecutionLog {
	t.Helper()
	logs, _, err := h.store.Executions().List(context.Background(), store.ExecutionQuery{FunctionID: functionID, Limit: store.MaxPageLimit})
	if err != nil {
		t.Fatalf("listing logs: %v", err)
	}
	return logs
}

func (h *harness) allLogs(t *testing.T) []*models.ExecutionLog {
	t.Helper()
	logs, _, err := h.store.Executions().List(context.Background(), store.ExecutionQuery{Limit: store.MaxPageLimit})
	if err != nil {
		t.Fatalf("listing logs: %v", err)
	}
	return logs
}

func (h *harness) stats(t *testing.T, id string) models.FunctionStats {
	t.Helper()
	fn, err := h.store.Functions().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("loading function: %v", err)
	}
	return fn.FunctionStats
}
