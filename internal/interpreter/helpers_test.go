package interpreter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/invoker"
)

var errBoom = errors.New("boom")

func mustGraph(t *testing.T, doc string) *domain.Graph {
	t.Helper()
	g, err := engine.ParseGraph([]byte(doc))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFunctions — встроенные операции плюс операции для тестов.
func testFunctions() *invoker.Functions {
	fns := invoker.DefaultFunctions()
	fns.Register("boom", func(context.Context, []any, map[string]any) ([]any, error) {
		return nil, errBoom
	})
	fns.Register("nothing", func(context.Context, []any, map[string]any) ([]any, error) {
		return []any{nil}, nil
	})
	fns.Register("panic", func(context.Context, []any, map[string]any) ([]any, error) {
		panic("operation exploded")
	})
	return fns
}

func testRegistry(fns *invoker.Functions) *invoker.Registry {
	reg := invoker.NewRegistry()
	reg.Register("func", invoker.NewFuncFactory(fns))
	return reg
}

func testConfig(port interaction.Port) Config {
	return Config{
		Registry:          testRegistry(testFunctions()),
		Port:              port,
		Logger:            discardLogger(),
		Retry:             RetryPolicy{MaxAttempts: 1},
		PausePollInterval: 5 * time.Millisecond,
		DryTickInterval:   2 * time.Millisecond,
	}
}

func mustInterpreter(t *testing.T, g *domain.Graph, cfg Config) *Interpreter {
	t.Helper()
	interp, err := New(g, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return interp
}

func runAsync(interp *Interpreter, inputs map[string]any) <-chan *Result {
	done := make(chan *Result, 1)
	go func() {
		res, _ := interp.Run(context.Background(), inputs)
		done <- res
	}()
	return done
}

func waitResult(t *testing.T, done <-chan *Result) *Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gate — операция, которая ждёт сигнала release.
type gate struct {
	started atomic.Int32
	release chan struct{}
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) op(ctx context.Context, args []any, _ map[string]any) ([]any, error) {
	g.started.Add(1)
	select {
	case <-g.release:
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const doublerGraph = `
name: doubler
nodes:
  - {id: x, kind: INPUT, value: 5}
  - id: dbl
    kind: SERVICE
    service: func
    operation: double
    inputs: [{name: in}]
    outputs: [{name: out}]
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: dbl.in}
  - {from: dbl.out, to: result}
`

const branchGraph = `
name: branch
nodes:
  - {id: x, kind: INPUT, value: 5}
  - id: check
    kind: IF
    expression: "$0 > 3"
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: big
    kind: SERVICE
    service: func
    operation: double
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: small
    kind: SERVICE
    service: func
    operation: increment
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: merge
    kind: END_IF
    inputs: [{name: big}, {name: small}]
    outputs: [{name: out}]
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: check.in}
  - {from: check.out, to: big.in}
  - {from: check.out, to: small.in}
  - {from: big.out, to: merge.big}
  - {from: small.out, to: merge.small}
  - {from: merge.out, to: result}
control:
  - {from: check.true, to: big}
  - {from: check.false, to: small}
`

const forEachGraph = `
name: replicate
nodes:
  - {id: xs, kind: INPUT, value: [1, 2, 3]}
  - id: each
    kind: FOR_EACH
    inputs: [{name: items}]
    outputs: [{name: item}]
  - id: inc
    kind: SERVICE
    service: func
    operation: increment
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: collect
    kind: END_FOR_EACH
    inputs: [{name: in}]
    outputs: [{name: out}]
  - {id: result, kind: OUTPUT}
edges:
  - {from: xs, to: each.items}
  - {from: each.item, to: inc.in}
  - {from: inc.out, to: collect.in}
  - {from: collect.out, to: result}
`

const failingGraph = `
name: failing
nodes:
  - {id: x, kind: INPUT, value: 1}
  - id: bad
    kind: SERVICE
    service: func
    operation: boom
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: after
    kind: SERVICE
    service: func
    operation: double
    inputs: [{name: in}]
    outputs: [{name: out}]
  - id: side
    kind: SERVICE
    service: func
    operation: double
    inputs: [{name: in}]
    outputs: [{name: out}]
  - {id: result, kind: OUTPUT}
  - {id: side_result, kind: OUTPUT}
edges:
  - {from: x, to: bad.in}
  - {from: bad.out, to: after.in}
  - {from: after.out, to: result}
  - {from: x, to: side.in}
  - {from: side.out, to: side_result}
`

const chainGraph = `
name: chain
nodes:
  - {id: x, kind: INPUT, value: 7}
  - {id: a, kind: SERVICE, service: func, operation: identity, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: b, kind: SERVICE, service: func, operation: identity, break: true, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: c, kind: SERVICE, service: func, operation: identity, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: d, kind: SERVICE, service: func, operation: identity, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: a.in}
  - {from: a.out, to: b.in}
  - {from: b.out, to: c.in}
  - {from: c.out, to: d.in}
  - {from: d.out, to: result}
`
