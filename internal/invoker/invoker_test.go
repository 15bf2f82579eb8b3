package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

func serviceNode(service, operation string, inputs, outputs []string) *domain.Node {
	n := &domain.Node{ID: "svc", Name: "svc", Kind: domain.NodeKindService, Service: service, Operation: operation}
	for _, in := range inputs {
		n.AddInput(in, "")
	}
	for _, out := range outputs {
		n.AddOutput(out, "")
	}
	return n
}

func invoke(t *testing.T, inv Invoker, op string, inputs map[string]any) (bool, error) {
	t.Helper()
	ctx := context.Background()
	if err := inv.Setup(ctx); err != nil {
		return false, err
	}
	inv.SetOperation(op)
	for k, v := range inputs {
		inv.SetInput(k, v)
	}
	return inv.Invoke(ctx)
}

// --- Registry Tests ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if len(r.Services()) != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register("func", NewFuncFactory(DefaultFunctions()))
	if !r.Has("func") {
		t.Error("should have func")
	}

	node := serviceNode("func", "identity", []string{"x"}, []string{"y"})
	a, err := r.New(node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := r.New(node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("registry must build a fresh invoker on every call")
	}

	_, err = r.New(serviceNode("unknown", "", nil, nil))
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	services := r.Services()
	if len(services) != 3 || services[0] != "func" || services[1] != "http" || services[2] != "template" {
		t.Errorf("unexpected services: %v", services)
	}
}

// --- Func Invoker Tests ---

func TestFuncInvoker_Builtins(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		inputs  []string
		outputs []string
		values  map[string]any
		config  map[string]any
		want    map[string]any
	}{
		{
			name: "identity", op: "identity",
			inputs: []string{"a", "b"}, outputs: []string{"x", "y"},
			values: map[string]any{"a": 1, "b": "s"},
			want:   map[string]any{"x": 1, "y": "s"},
		},
		{
			name: "double", op: "double",
			inputs: []string{"a"}, outputs: []string{"out"},
			values: map[string]any{"a": 21},
			want:   map[string]any{"out": 42},
		},
		{
			name: "double string", op: "double",
			inputs: []string{"a"}, outputs: []string{"out"},
			values: map[string]any{"a": "1.5"},
			want:   map[string]any{"out": 3.0},
		},
		{
			name: "increment with step", op: "increment",
			inputs: []string{"a"}, outputs: []string{"out"},
			values: map[string]any{"a": 1},
			config: map[string]any{"step": 10},
			want:   map[string]any{"out": 11},
		},
		{
			name: "sum flattens lists", op: "sum",
			inputs: []string{"a", "b"}, outputs: []string{"out"},
			values: map[string]any{"a": []any{1, 2, 3}, "b": 4},
			want:   map[string]any{"out": 10},
		},
		{
			name: "concat", op: "concat",
			inputs: []string{"a", "b"}, outputs: []string{"out"},
			values: map[string]any{"a": "x", "b": 1},
			config: map[string]any{"sep": "-"},
			want:   map[string]any{"out": "x-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := serviceNode("func", tt.op, tt.inputs, tt.outputs)
			node.Config = tt.config

			inv, err := NewFuncFactory(DefaultFunctions())(node)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			ok, err := invoke(t, inv, tt.op, tt.values)
			if !ok || err != nil {
				t.Fatalf("invoke failed: %v", err)
			}

			for port, want := range tt.want {
				got, err := inv.GetOutput(context.Background(), port)
				if err != nil {
					t.Fatalf("GetOutput(%s): %v", port, err)
				}
				if got != want {
					t.Errorf("%s = %v (%T), want %v (%T)", port, got, got, want, want)
				}
			}
		})
	}
}

func TestFuncInvoker_UnknownOperation(t *testing.T) {
	inv, _ := NewFuncFactory(DefaultFunctions())(serviceNode("func", "nope", nil, nil))

	err := inv.Setup(context.Background())
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestFuncInvoker_FailureUnblocksGetOutput(t *testing.T) {
	fns := NewFunctions()
	fns.Register("boom", func(context.Context, []any, map[string]any) ([]any, error) {
		return nil, errors.New("boom")
	})
	inv, _ := NewFuncFactory(fns)(serviceNode("func", "boom", nil, []string{"out"}))

	ok, err := invoke(t, inv, "boom", nil)
	if ok || err == nil {
		t.Fatal("expected invocation failure")
	}

	_, err = inv.GetOutput(context.Background(), "out")
	if !errors.Is(err, ErrInvocationFailed) {
		t.Errorf("expected ErrInvocationFailed, got %v", err)
	}
}

func TestFuncInvoker_GetOutputBlocks(t *testing.T) {
	inv, _ := NewFuncFactory(DefaultFunctions())(serviceNode("func", "identity", []string{"a"}, []string{"out"}))

	got := make(chan any, 1)
	go func() {
		v, _ := inv.GetOutput(context.Background(), "out")
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("GetOutput returned before Invoke")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := invoke(t, inv, "identity", map[string]any{"a": 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("expected 7, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("GetOutput did not unblock")
	}
}

func TestFuncInvoker_SingleUse(t *testing.T) {
	inv, _ := NewFuncFactory(DefaultFunctions())(serviceNode("func", "identity", nil, nil))

	if _, err := invoke(t, inv, "identity", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := inv.Invoke(context.Background()); !errors.Is(err, ErrAlreadyInvoked) {
		t.Errorf("expected ErrAlreadyInvoked, got %v", err)
	}
}

func TestFuncInvoker_DelayCancelled(t *testing.T) {
	node := serviceNode("func", "delay", []string{"a"}, []string{"out"})
	node.Config = map[string]any{"duration_sec": 1}
	inv, _ := NewFuncFactory(DefaultFunctions())(node)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = inv.Setup(ctx)
	inv.SetInput("a", 1)
	start := time.Now()
	ok, err := inv.Invoke(ctx)
	if ok || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got ok=%v err=%v", ok, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("cancellation took too long")
	}
}

// --- HTTP Invoker Tests ---

func TestHTTPInvoker_Object(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/add/3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req struct {
			Operation string         `json:"operation"`
			Inputs    map[string]any `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Operation != "add" {
			t.Errorf("expected operation add, got %s", req.Operation)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sum": req.Inputs["a"].(float64) + 1})
	}))
	defer server.Close()

	node := serviceNode("http", "add", []string{"a"}, []string{"sum"})
	node.Config = map[string]any{"url": server.URL + "/{{ .Node.Operation }}/{{ .Inputs.a }}"}

	inv, _ := NewHTTPFactory(server.Client())(node)
	ok, err := invoke(t, inv, "add", map[string]any{"a": 3})
	if !ok || err != nil {
		t.Fatalf("invoke failed: %v", err)
	}

	got, err := inv.GetOutput(context.Background(), "sum")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 4.0 {
		t.Errorf("expected 4, got %v", got)
	}
}

func TestHTTPInvoker_ScalarGoesToFirstPort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	}))
	defer server.Close()

	node := serviceNode("http", "op", nil, []string{"text", "other"})
	node.Config = map[string]any{"url": server.URL}

	inv, _ := NewHTTPFactory(nil)(node)
	if ok, err := invoke(t, inv, "op", nil); !ok {
		t.Fatalf("invoke failed: %v", err)
	}

	outputs := inv.GetOutputs()
	if outputs["text"] != "plain" {
		t.Errorf("expected plain, got %v", outputs["text"])
	}
}

func TestHTTPInvoker_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("broken"))
	}))
	defer server.Close()

	node := serviceNode("http", "op", nil, []string{"out"})
	node.Config = map[string]any{"url": server.URL}

	inv, _ := NewHTTPFactory(nil)(node)
	ok, err := invoke(t, inv, "op", nil)
	if ok {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

func TestHTTPInvoker_MissingURL(t *testing.T) {
	inv, _ := NewHTTPFactory(nil)(serviceNode("http", "op", nil, nil))

	if err := inv.Setup(context.Background()); !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

// --- Template Invoker Tests ---

func TestTemplateInvoker(t *testing.T) {
	node := serviceNode("template", "", []string{"items", "name"}, []string{"total", "greeting", "first"})
	node.Config = map[string]any{"mappings": map[string]any{
		"total":    "{{ len .Inputs.items }}",
		"greeting": "hello, {{ .Inputs.name | upper }}",
		"first":    "{{ index .Inputs.items 0 | json }}",
	}}

	inv, _ := NewTemplateFactory()(node)
	ok, err := invoke(t, inv, "", map[string]any{
		"items": []any{map[string]any{"id": 1}, map[string]any{"id": 2}},
		"name":  "bob",
	})
	if !ok || err != nil {
		t.Fatalf("invoke failed: %v", err)
	}

	outputs := inv.GetOutputs()
	if outputs["total"] != 2 {
		t.Errorf("expected total=2, got %v (%T)", outputs["total"], outputs["total"])
	}
	if outputs["greeting"] != "hello, BOB" {
		t.Errorf("unexpected greeting %v", outputs["greeting"])
	}
	first, ok := outputs["first"].(map[string]any)
	if !ok || first["id"] != float64(1) {
		t.Errorf("expected decoded object, got %v", outputs["first"])
	}
}

func TestTemplateInvoker_BadConfig(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"no mappings", nil},
		{"mappings not a map", map[string]any{"mappings": "x"}},
		{"mapping not a string", map[string]any{"mappings": map[string]any{"out": 1}}},
		{"unknown port", map[string]any{"mappings": map[string]any{"ghost": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := serviceNode("template", "", nil, []string{"out"})
			node.Config = tt.config
			inv, _ := NewTemplateFactory()(node)
			if err := inv.Setup(context.Background()); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestTemplateInvoker_RenderError(t *testing.T) {
	node := serviceNode("template", "", nil, []string{"out"})
	node.Config = map[string]any{"mappings": map[string]any{"out": "{{ .Inputs.x"}}

	inv, _ := NewTemplateFactory()(node)
	ok, err := invoke(t, inv, "", nil)
	if ok || !errors.Is(err, engine.ErrTemplateParse) {
		t.Fatalf("expected template parse error, got %v", err)
	}
	if _, err := inv.GetOutput(context.Background(), "out"); !errors.Is(err, ErrInvocationFailed) {
		t.Errorf("expected ErrInvocationFailed, got %v", err)
	}
}
