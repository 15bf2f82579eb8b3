package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interaction"
)

// --- ForEach Tests ---

const pairGraph = `
name: pairs
nodes:
  - {id: xs, kind: INPUT}
  - {id: ys, kind: INPUT}
  - {id: each, kind: FOR_EACH, inputs: [{name: a}, {name: b}], outputs: [{name: a}, {name: b}]}
  - {id: join, kind: SERVICE, service: func, operation: concat, config: {sep: "-"}, inputs: [{name: a}, {name: b}], outputs: [{name: out}]}
  - {id: collect, kind: END_FOR_EACH, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: xs, to: each.a}
  - {from: ys, to: each.b}
  - {from: each.a, to: join.a}
  - {from: each.b, to: join.b}
  - {from: join.out, to: collect.in}
  - {from: collect.out, to: result}
`

func TestRun_ForEachMultipleLists(t *testing.T) {
	tests := []struct {
		name   string
		cross  bool
		inputs map[string]any
		want   []any
	}{
		{
			name:   "zip",
			inputs: map[string]any{"xs": []any{"a", "b"}, "ys": []any{1, 2}},
			want:   []any{"a-1", "b-2"},
		},
		{
			name:   "zip broadcasts single value",
			inputs: map[string]any{"xs": "a,b,c", "ys": 0},
			want:   []any{"a-0", "b-0", "c-0"},
		},
		{
			name:   "cross product",
			cross:  true,
			inputs: map[string]any{"xs": []any{"a", "b"}, "ys": []any{1, 2}},
			want:   []any{"a-1", "a-2", "b-1", "b-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(interaction.Nop{})
			cfg.CrossProduct = tt.cross
			interp := mustInterpreter(t, mustGraph(t, pairGraph), cfg)

			res, err := interp.Run(context.Background(), tt.inputs)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !reflect.DeepEqual(res.Outputs["result"], tt.want) {
				t.Errorf("expected %v, got %v (%s)", tt.want, res.Outputs["result"], res.Error)
			}
		})
	}
}

func TestRun_ForEachErrors(t *testing.T) {
	tests := []struct {
		name    string
		inputs  map[string]any
		wantErr error
	}{
		{"length mismatch", map[string]any{"xs": []any{"a", "b"}, "ys": []any{1, 2, 3}}, ErrForEachLength},
		{"empty list", map[string]any{"xs": []any{}, "ys": []any{1}}, ErrForEachEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interp := mustInterpreter(t, mustGraph(t, pairGraph), testConfig(interaction.Nop{}))

			res, err := interp.Run(context.Background(), tt.inputs)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Status != domain.RunStatusFailed {
				t.Fatalf("expected FAILED, got %s", res.Status)
			}
			if msg := interp.State().Error("each"); !strings.Contains(msg, tt.wantErr.Error()) {
				t.Errorf("expected %q in error, got %q", tt.wantErr, msg)
			}
			if st := interp.State().NodeState("collect"); st != domain.NodeStateFailed {
				t.Errorf("expected collect FAILED, got %s", st)
			}
		})
	}
}

func TestReplicate_Helpers(t *testing.T) {
	cross, err := crossProduct([][]any{{1, 2}, {"x"}, {true, false}})
	if err != nil {
		t.Fatalf("crossProduct: %v", err)
	}
	if len(cross) != 4 || !reflect.DeepEqual(cross[1], []any{1, "x", false}) {
		t.Errorf("unexpected cross product: %v", cross)
	}

	if got := toList([]string{"a", "b"}); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("toList([]string): %v", got)
	}
	if got := toList(" a , b "); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("toList(string): %v", got)
	}
	if got := toList(5); !reflect.DeepEqual(got, []any{5}) {
		t.Errorf("toList(scalar): %v", got)
	}
	if got := toList(nil); got != nil {
		t.Errorf("toList(nil): %v", got)
	}
}

// --- DoWhile Tests ---

const doWhileGraph = `
name: loop
nodes:
  - {id: x, kind: INPUT, value: 1}
  - {id: pre, kind: SERVICE, service: func, operation: identity, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: loop, kind: DO_WHILE, expression: "$0 < 10", inputs: [{name: in}], outputs: [{name: v}]}
  - {id: dbl, kind: SERVICE, service: func, operation: double, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: done, kind: END_DO_WHILE, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: after, kind: SERVICE, service: func, operation: increment, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: pre.in}
  - {from: pre.out, to: loop.in}
  - {from: loop.v, to: dbl.in}
  - {from: dbl.out, to: done.in}
  - {from: done.out, to: after.in}
  - {from: after.out, to: result}
`

func TestRun_DoWhile(t *testing.T) {
	events := interaction.NewCollector()
	interp := mustInterpreter(t, mustGraph(t, doWhileGraph), testConfig(events))

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", res.Status, res.Error)
	}

	// 1 → 2 → 4 → 8 → 16, затем +1 после цикла.
	if res.Outputs["result"] != 17 {
		t.Errorf("expected result=17, got %v", res.Outputs["result"])
	}

	var iterations int
	for _, ev := range events.OfKind(interaction.EventTaskStarted) {
		if ev.NodeID == "dbl" {
			iterations++
		}
	}
	if iterations != 4 {
		t.Errorf("expected 4 iterations, got %d", iterations)
	}
}

func TestRun_DoWhileMaxIterations(t *testing.T) {
	doc := strings.Replace(doWhileGraph, `"$0 < 10"`, `"true"`, 1)
	cfg := testConfig(interaction.Nop{})
	cfg.MaxIterations = 5
	interp := mustInterpreter(t, mustGraph(t, doc), cfg)

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if msg := interp.State().Error("loop"); !strings.Contains(msg, ErrMaxIterations.Error()) {
		t.Errorf("expected max iterations error, got %q", msg)
	}
	for _, id := range []string{"dbl", "done"} {
		if st := interp.State().NodeState(id); st != domain.NodeStateFailed {
			t.Errorf("%s: expected FAILED, got %s", id, st)
		}
	}
}

func TestRun_DoWhileUpstreamFailure(t *testing.T) {
	doc := strings.Replace(doWhileGraph, "{id: pre, kind: SERVICE, service: func, operation: identity", "{id: pre, kind: SERVICE, service: func, operation: boom", 1)
	interp := mustInterpreter(t, mustGraph(t, doc), testConfig(interaction.Nop{}))

	done := runAsync(interp, nil)
	res := waitResult(t, done)

	if res.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if msg := interp.State().Error("loop"); !strings.Contains(msg, ErrUpstreamFailed.Error()) {
		t.Errorf("expected upstream error, got %q", msg)
	}
}

// --- SubGraph Tests ---

const subGraphDoc = `
name: outer
nodes:
  - {id: x, kind: INPUT, value: 4}
  - id: inner
    kind: SUB_GRAPH
    inputs: [{name: n}]
    outputs: [{name: res}]
    graph:
      name: inner
      nodes:
        - {id: n, kind: INPUT}
        - {id: dbl, kind: SERVICE, service: func, operation: double, inputs: [{name: in}], outputs: [{name: out}]}
        - {id: res, kind: OUTPUT}
      edges:
        - {from: n, to: dbl.in}
        - {from: dbl.out, to: res}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: inner.n}
  - {from: inner.res, to: result}
`

func TestRun_SubGraph(t *testing.T) {
	events := interaction.NewCollector()
	interp := mustInterpreter(t, mustGraph(t, subGraphDoc), testConfig(events))

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outputs["result"] != 8 {
		t.Errorf("expected result=8, got %v (%s)", res.Outputs["result"], res.Error)
	}

	if events.Count(interaction.EventSubGraphOpened) != 1 {
		t.Errorf("expected 1 sub-graph-opened event, got %d", events.Count(interaction.EventSubGraphOpened))
	}
	var nestedCleanup bool
	for _, ev := range events.OfKind(interaction.EventExecutionCleanup) {
		if ev.Depth == 1 && !ev.Failed {
			nestedCleanup = true
		}
	}
	if !nestedCleanup {
		t.Error("expected cleanup event from nested run")
	}
	if interp.Control().State() != domain.ExecutionNone {
		t.Errorf("expected NONE, got %s", interp.Control().State())
	}
}

func TestRun_SubGraphFailurePropagates(t *testing.T) {
	doc := strings.Replace(subGraphDoc, "operation: double", "operation: boom", 1)
	interp := mustInterpreter(t, mustGraph(t, doc), testConfig(interaction.Nop{}))

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if msg := interp.State().Error("inner"); !strings.Contains(msg, ErrSubGraphFailed.Error()) {
		t.Errorf("expected sub-graph failure, got %q", msg)
	}
}

type runnerFunc func(ctx context.Context) (interaction.NestedResult, error)

func (f runnerFunc) RunNested(ctx context.Context) (interaction.NestedResult, error) {
	return f(ctx)
}

// nestedPort поставляет свой runner для вложенных графов.
type nestedPort struct {
	interaction.Nop

	mu       sync.Mutex
	requests []interaction.NestedRequest
}

func (p *nestedPort) NestedInterpreter(_ context.Context, req interaction.NestedRequest) (interaction.NestedRunner, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	return runnerFunc(func(context.Context) (interaction.NestedResult, error) {
		n, _ := req.Inputs["n"].(int)
		return interaction.NestedResult{
			Status:  domain.RunStatusSucceeded,
			Outputs: map[string]any{"res": n * 100},
		}, nil
	}), nil
}

func TestRun_SubGraphUsesPortRunner(t *testing.T) {
	port := &nestedPort{}
	interp := mustInterpreter(t, mustGraph(t, subGraphDoc), testConfig(port))

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outputs["result"] != 400 {
		t.Errorf("expected runner output 400, got %v", res.Outputs["result"])
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.requests) != 1 {
		t.Fatalf("expected 1 nested request, got %d", len(port.requests))
	}
	req := port.requests[0]
	if req.NodeID != "inner" || req.Depth != 1 || req.ParentRunID != interp.RunID().String() {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestRun_SubGraphNestingLimit(t *testing.T) {
	cfg := testConfig(interaction.Nop{})
	cfg.MaxDepth = 1
	interp := mustInterpreter(t, mustGraph(t, subGraphDoc), cfg)
	interp.depth = 1

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if msg := interp.State().Error("inner"); !strings.Contains(msg, ErrNestingTooDeep.Error()) {
		t.Errorf("expected nesting error, got %q (status %s)", msg, res.Status)
	}
}

// --- Lifecycle Tests ---

const lifecycleGraph = `
name: provisioned
nodes:
  - {id: up, kind: LIFECYCLE_START, config: {size: small}, outputs: [{name: id}]}
  - {id: work, kind: SERVICE, service: func, operation: identity, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: down, kind: LIFECYCLE_END, inputs: [{name: id}]}
edges:
  - {from: up.id, to: work.in}
  - {from: work.out, to: down.id}
`

func TestNew_LifecycleRequiresConfiguration(t *testing.T) {
	g := mustGraph(t, lifecycleGraph)

	tests := []struct {
		name    string
		creds   *Credentials
		prov    Provisioner
		wantErr error
	}{
		{"no credentials", nil, NewHTTPProvisioner(Credentials{}, nil), ErrMissingCredentials},
		{"empty secret", &Credentials{AccessKey: "ak"}, NewHTTPProvisioner(Credentials{}, nil), ErrMissingCredentials},
		{"no provisioner", &Credentials{AccessKey: "ak", SecretKey: "sk"}, nil, ErrMissingProvisioner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := interaction.NewCollector()
			cfg := testConfig(events)
			cfg.Credentials = tt.creds
			cfg.Provisioner = tt.prov

			_, err := New(g, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %T", err)
			}
			if len(events.Events()) != 0 {
				t.Error("configuration errors must not emit events")
			}
		})
	}
}

func TestNew_LifecycleInSubGraphRequiresConfiguration(t *testing.T) {
	const doc = `
name: outer
nodes:
  - id: inner
    kind: SUB_GRAPH
    graph:
      name: inner
      nodes:
        - {id: up, kind: LIFECYCLE_START, outputs: [{name: id}]}
        - {id: down, kind: LIFECYCLE_END, inputs: [{name: id}]}
      edges:
        - {from: up.id, to: down.id}
`
	_, err := New(mustGraph(t, doc), testConfig(interaction.Nop{}))
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestRun_LifecycleWithHTTPProvisioner(t *testing.T) {
	var (
		mu         sync.Mutex
		provisions []ProvisionRequest
		terminated []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Key") != "ak" || r.Header.Get("X-Secret-Key") != "sk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/resources":
			var req ProvisionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			provisions = append(provisions, req)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": "res-1"}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/resources/"):
			terminated = append(terminated, strings.TrimPrefix(r.URL.Path, "/resources/"))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	creds := Credentials{AccessKey: "ak", SecretKey: "sk", Endpoint: server.URL}
	cfg := testConfig(interaction.Nop{})
	cfg.Credentials = &creds
	cfg.Provisioner = NewHTTPProvisioner(creds, server.Client())
	interp := mustInterpreter(t, mustGraph(t, lifecycleGraph), cfg)

	res, err := interp.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", res.Status, res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(provisions) != 1 || provisions[0].NodeID != "up" || provisions[0].Config["size"] != "small" {
		t.Errorf("unexpected provision requests: %+v", provisions)
	}
	if !reflect.DeepEqual(terminated, []string{"res-1"}) {
		t.Errorf("expected res-1 terminated, got %v", terminated)
	}
}

func TestHTTPProvisioner_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvisioner(Credentials{AccessKey: "ak", SecretKey: "sk", Endpoint: server.URL}, nil)
	_, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "up"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected quota error, got %v", err)
	}
}
