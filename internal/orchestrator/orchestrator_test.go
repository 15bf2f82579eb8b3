package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/mq"
)

const doublerDoc = `
name: doubler
nodes:
  - {id: x, kind: INPUT, value: 5}
  - {id: dbl, kind: SERVICE, service: func, operation: double, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: dbl.in}
  - {from: dbl.out, to: result}
`

const waitDoc = `
name: waiter
nodes:
  - {id: x, kind: INPUT, value: 1}
  - {id: w, kind: SERVICE, service: func, operation: wait, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: w.in}
  - {from: w.out, to: result}
`

// memStore — RunStore в памяти.
type memStore struct {
	mu      sync.Mutex
	created []domain.Run
	updated []domain.Run
}

func (m *memStore) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, *run)
	return nil
}

func (m *memStore) Update(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, *run)
	return nil
}

func (m *memStore) lastUpdate() (domain.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updated) == 0 {
		return domain.Run{}, false
	}
	return m.updated[len(m.updated)-1], true
}

type testEnv struct {
	orch    *Orchestrator
	store   *memStore
	release chan struct{}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	release := make(chan struct{})
	fns := invoker.DefaultFunctions()
	fns.Register("wait", func(ctx context.Context, args []any, _ map[string]any) ([]any, error) {
		select {
		case <-release:
			return args, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	reg := invoker.NewRegistry()
	reg.Register("func", invoker.NewFuncFactory(fns))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &memStore{}

	cfg.Interpreter = interpreter.Config{
		Registry:          reg,
		Port:              interaction.Nop{},
		Logger:            logger,
		Retry:             interpreter.RetryPolicy{MaxAttempts: 1},
		PausePollInterval: 5 * time.Millisecond,
		DryTickInterval:   2 * time.Millisecond,
	}
	cfg.Runs = store
	cfg.Logger = logger

	return &testEnv{orch: New(cfg), store: store, release: release}
}

func mustGraph(t *testing.T, doc string) *domain.Graph {
	t.Helper()
	g, err := engine.ParseGraph([]byte(doc))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

func waitDone(t *testing.T, run *ActiveRun) *interpreter.Result {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	res, ok := run.Result()
	if !ok {
		t.Fatal("finished run has no result")
	}
	return res
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- Submit Tests ---

func TestSubmit_Succeeds(t *testing.T) {
	env := newTestEnv(t, Config{})

	run, err := env.orch.Submit(context.Background(), mustGraph(t, doublerDoc), map[string]any{"x": 21})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := waitDone(t, run)

	if res.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", res.Status, res.Error)
	}
	if res.RunID != run.ID() {
		t.Errorf("interpreter run id %s != registry id %s", res.RunID, run.ID())
	}
	if res.Outputs["result"] != 42 {
		t.Errorf("expected 42, got %v", res.Outputs["result"])
	}

	saved, ok := env.store.lastUpdate()
	if !ok {
		t.Fatal("run result was not saved")
	}
	if saved.Status != domain.RunStatusSucceeded || saved.FinishedAt == nil {
		t.Errorf("unexpected saved run: %+v", saved)
	}
	if len(env.store.created) != 1 || env.store.created[0].Status != domain.RunStatusRunning {
		t.Errorf("expected one RUNNING create, got %+v", env.store.created)
	}

	view := run.View()
	if view.Run.Outputs["result"] != 42 || view.Stats.Pending() != 0 {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestSubmit_InvalidConfiguration(t *testing.T) {
	env := newTestEnv(t, Config{})

	g := mustGraph(t, `
nodes:
  - {id: s, kind: SERVICE, service: ghost}
`)
	if _, err := env.orch.Submit(context.Background(), g, nil); !errors.Is(err, invoker.ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	if len(env.orch.List()) != 0 || len(env.store.created) != 0 {
		t.Error("rejected run must not be registered or stored")
	}
}

func TestSubmit_OutlivesRequestContext(t *testing.T) {
	env := newTestEnv(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := env.orch.Submit(ctx, mustGraph(t, waitDoc), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()
	close(env.release)

	if res := waitDone(t, run); res.Status != domain.RunStatusSucceeded {
		t.Errorf("request cancel should not stop the run, got %s", res.Status)
	}
}

// --- Command Tests ---

func TestCommand_PauseResume(t *testing.T) {
	env := newTestEnv(t, Config{})

	run, err := env.orch.Submit(context.Background(), mustGraph(t, waitDoc), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return run.View().Nodes["w"] == domain.NodeStateExecuting })

	if err := env.orch.Command(run.ID(), "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := run.View().Execution; got != domain.ExecutionPaused {
		t.Errorf("expected PAUSED, got %s", got)
	}
	if err := env.orch.Command(run.ID(), "pause"); !errors.Is(err, interpreter.ErrInvalidTransition) {
		t.Errorf("second pause: expected ErrInvalidTransition, got %v", err)
	}
	if err := env.orch.Command(run.ID(), "resume"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if env.orch.ActiveRunsCount() != 1 {
		t.Errorf("expected 1 active run, got %d", env.orch.ActiveRunsCount())
	}

	close(env.release)
	waitDone(t, run)

	if err := env.orch.Command(run.ID(), "stop"); !errors.Is(err, ErrRunNotActive) {
		t.Errorf("command after finish: expected ErrRunNotActive, got %v", err)
	}
	if err := env.orch.Command(uuid.New(), "stop"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("unknown run: expected ErrRunNotFound, got %v", err)
	}
}

func TestCommand_Stop(t *testing.T) {
	env := newTestEnv(t, Config{})

	run, err := env.orch.Submit(context.Background(), mustGraph(t, waitDoc), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return run.View().Nodes["w"] == domain.NodeStateExecuting })

	if err := env.orch.Command(run.ID(), "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(env.release)

	res := waitDone(t, run)
	if !res.Stopped {
		t.Error("expected stopped result")
	}
	// Узел в работе не прерывается: его результат дошёл до OUTPUT.
	if res.Outputs["result"] != 1 {
		t.Errorf("in-flight node should complete, got %v", res.Outputs)
	}
}

// --- Control Queue Tests ---

func TestHandleControl(t *testing.T) {
	env := newTestEnv(t, Config{})

	run, err := env.orch.Submit(context.Background(), mustGraph(t, waitDoc), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		close(env.release)
		waitDone(t, run)
	}()
	waitFor(t, func() bool { return run.View().Nodes["w"] == domain.NodeStateExecuting })

	delivery := func(payload any) *mq.Delivery {
		return &mq.Delivery{Message: mq.Message{ID: "m", Type: mq.MessageTypeControl, Payload: payload}}
	}

	tests := []struct {
		name      string
		payload   any
		permanent bool
		wantErr   bool
	}{
		{"pause", mq.ControlPayload{RunID: run.ID(), Command: "pause"}, false, false},
		{"invalid transition is acked", mq.ControlPayload{RunID: run.ID(), Command: "pause"}, false, false},
		{"resume", mq.ControlPayload{RunID: run.ID(), Command: "resume"}, false, false},
		{"unknown run", mq.ControlPayload{RunID: uuid.New(), Command: "stop"}, true, true},
		{"malformed payload", "not an object", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.orch.handleControl(context.Background(), delivery(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if errors.Is(err, mq.ErrPermanent) != tt.permanent {
				t.Errorf("permanent=%v expected, got %v", tt.permanent, err)
			}
		})
	}

	if got := run.View().Execution; got != domain.ExecutionRunning {
		t.Errorf("expected RUNNING after pause/resume, got %s", got)
	}
}

// --- Registry Tests ---

func TestList_RetainsNewest(t *testing.T) {
	env := newTestEnv(t, Config{Retain: 2})
	g := mustGraph(t, doublerDoc)

	var last *ActiveRun
	for i := 0; i < 4; i++ {
		run, err := env.orch.Submit(context.Background(), g, map[string]any{"x": i})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		waitDone(t, run)
		last = run
	}

	waitFor(t, func() bool { return len(env.orch.List()) == 2 })
	views := env.orch.List()
	if views[0].Run.ID != last.ID() {
		t.Errorf("newest run should come first")
	}
	if views[0].Run.Outputs["result"] != 6 {
		t.Errorf("expected 6, got %v", views[0].Run.Outputs["result"])
	}
}

// --- Lifecycle Tests ---

func TestStop_CancelsStuckRuns(t *testing.T) {
	env := newTestEnv(t, Config{ShutdownGrace: 20 * time.Millisecond})

	run, err := env.orch.Submit(context.Background(), mustGraph(t, waitDoc), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return run.View().Nodes["w"] == domain.NodeStateExecuting })

	env.orch.Stop()

	if !run.IsFinished() {
		t.Fatal("Stop should wait for runs")
	}
	if res, _ := run.Result(); res.Status != domain.RunStatusFailed {
		t.Errorf("cancelled node should fail the run, got %s", res.Status)
	}
	if !env.orch.IsStopped() {
		t.Error("expected IsStopped")
	}
	if _, err := env.orch.Submit(context.Background(), mustGraph(t, doublerDoc), nil); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("expected ErrOrchestratorStopped, got %v", err)
	}
}

func TestStop_WaitsForConcurrentSubmits(t *testing.T) {
	env := newTestEnv(t, Config{ShutdownGrace: time.Second})
	g := mustGraph(t, doublerDoc)

	var (
		mu       sync.Mutex
		accepted []*ActiveRun
		wg       sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				run, err := env.orch.Submit(context.Background(), g, nil)
				if errors.Is(err, ErrOrchestratorStopped) {
					return
				}
				if err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
				mu.Lock()
				accepted = append(accepted, run)
				mu.Unlock()
			}
		}()
	}

	time.Sleep(time.Millisecond)
	env.orch.Stop()
	wg.Wait()

	// Stop вернулся: каждый принятый до него run уже завершён.
	mu.Lock()
	defer mu.Unlock()
	for _, run := range accepted {
		if !run.IsFinished() {
			t.Errorf("run %s accepted before Stop is still active", run.ID())
		}
	}
}
