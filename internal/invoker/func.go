package invoker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
)

// Operation — операция func-сервиса.
//
// args — значения входных портов узла по позиции, results — значения
// выходных портов по позиции. config — Config узла.
type Operation func(ctx context.Context, args []any, config map[string]any) ([]any, error)

// Functions — набор операций func-сервиса. Потокобезопасен.
type Functions struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewFunctions создаёт пустой набор операций.
func NewFunctions() *Functions {
	return &Functions{ops: make(map[string]Operation)}
}

// DefaultFunctions возвращает набор встроенных операций:
// identity, double, increment, sum, concat, delay.
func DefaultFunctions() *Functions {
	f := NewFunctions()
	f.Register("identity", opIdentity)
	f.Register("double", opDouble)
	f.Register("increment", opIncrement)
	f.Register("sum", opSum)
	f.Register("concat", opConcat)
	f.Register("delay", opDelay)
	return f
}

// Register добавляет операцию.
func (f *Functions) Register(name string, op Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[name] = op
}

// Get возвращает операцию по имени.
func (f *Functions) Get(name string) (Operation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	op, ok := f.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return op, nil
}

// Names возвращает отсортированные имена операций.
func (f *Functions) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.ops))
	for n := range f.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FuncInvoker — invoker сервиса "func": выполняет операцию в процессе.
type FuncInvoker struct {
	base

	node *domain.Node
	fns  *Functions
	op   Operation
}

// NewFuncFactory возвращает фабрику func invoker'ов над набором операций.
func NewFuncFactory(fns *Functions) Factory {
	return func(node *domain.Node) (Invoker, error) {
		inv := &FuncInvoker{
			base: newBase(),
			node: node,
			fns:  fns,
		}
		inv.SetOperation(node.Operation)
		return inv, nil
	}
}

// Setup находит операцию по имени.
func (f *FuncInvoker) Setup(ctx context.Context) error {
	op, err := f.fns.Get(f.operation)
	if err != nil {
		return err
	}
	f.op = op
	return nil
}

// Invoke вызывает операцию и раскладывает результаты по выходным портам.
func (f *FuncInvoker) Invoke(ctx context.Context) (bool, error) {
	inputs, err := f.begin()
	if err != nil {
		return false, err
	}
	if f.op == nil {
		if err := f.Setup(ctx); err != nil {
			return f.finish(nil, err)
		}
	}

	args := make([]any, len(f.node.Inputs))
	for i, in := range f.node.Inputs {
		args[i] = inputs[in.Name]
	}

	results, err := f.op(ctx, args, f.node.Config)
	if err != nil {
		return f.finish(nil, err)
	}

	outputs := make(map[string]any, len(f.node.Outputs))
	for i, out := range f.node.Outputs {
		if i < len(results) {
			outputs[out.Name] = results[i]
		}
	}
	return f.finish(outputs, nil)
}

// --- Встроенные операции ---

func opIdentity(_ context.Context, args []any, _ map[string]any) ([]any, error) {
	return args, nil
}

func opDouble(_ context.Context, args []any, _ map[string]any) ([]any, error) {
	return mapNumbers(args, func(n number) number { return n.mul(2) })
}

// opIncrement прибавляет config.step (по умолчанию 1) к каждому аргументу.
func opIncrement(_ context.Context, args []any, config map[string]any) ([]any, error) {
	step := number{i: 1, isInt: true}
	if v, ok := config["step"]; ok {
		n, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		step = n
	}
	return mapNumbers(args, func(n number) number { return n.add(step) })
}

// opSum складывает все аргументы; списки раскрываются.
func opSum(_ context.Context, args []any, _ map[string]any) ([]any, error) {
	total := number{isInt: true}
	for _, arg := range flatten(args) {
		n, err := toNumber(arg)
		if err != nil {
			return nil, err
		}
		total = total.add(n)
	}
	return []any{total.value()}, nil
}

// opConcat склеивает аргументы через config.sep.
func opConcat(_ context.Context, args []any, config map[string]any) ([]any, error) {
	sep := getString(config, "sep", "")
	parts := make([]string, 0, len(args))
	for _, arg := range flatten(args) {
		parts = append(parts, fmt.Sprint(arg))
	}
	return []any{strings.Join(parts, sep)}, nil
}

// opDelay ждёт config.duration_sec секунд и возвращает аргументы без изменений.
func opDelay(ctx context.Context, args []any, config map[string]any) ([]any, error) {
	durationSec := 1.0
	if v, ok := config["duration_sec"]; ok {
		n, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		durationSec = n.float()
	}
	if durationSec < 0 {
		durationSec = 0
	}

	timer := time.NewTimer(time.Duration(durationSec * float64(time.Second)))
	defer timer.Stop()

	// Context-aware ожидание
	select {
	case <-timer.C:
		return args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// number — число, сохраняющее целочисленность там, где это возможно.
type number struct {
	i     int64
	f     float64
	isInt bool
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func (n number) value() any {
	if n.isInt {
		return int(n.i)
	}
	return n.f
}

func (n number) add(o number) number {
	if n.isInt && o.isInt {
		return number{i: n.i + o.i, isInt: true}
	}
	return number{f: n.float() + o.float()}
}

func (n number) mul(k int64) number {
	if n.isInt {
		return number{i: n.i * k, isInt: true}
	}
	return number{f: n.f * float64(k)}
}

func toNumber(v any) (number, error) {
	switch n := v.(type) {
	case int:
		return number{i: int64(n), isInt: true}, nil
	case int32:
		return number{i: int64(n), isInt: true}, nil
	case int64:
		return number{i: n, isInt: true}, nil
	case float32:
		return number{f: float64(n)}, nil
	case float64:
		if n == float64(int64(n)) {
			return number{i: int64(n), isInt: true}, nil
		}
		return number{f: n}, nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return number{i: i, isInt: true}, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return number{f: f}, nil
		}
	}
	return number{}, fmt.Errorf("%w: %v (%T) is not a number", ErrInvalidArgument, v, v)
}

func mapNumbers(args []any, fn func(number) number) ([]any, error) {
	results := make([]any, len(args))
	for i, arg := range args {
		n, err := toNumber(arg)
		if err != nil {
			return nil, err
		}
		results[i] = fn(n).value()
	}
	return results, nil
}

// flatten раскрывает вложенные списки на один уровень.
func flatten(args []any) []any {
	flat := make([]any, 0, len(args))
	for _, arg := range args {
		if list, ok := arg.([]any); ok {
			flat = append(flat, list...)
			continue
		}
		flat = append(flat, arg)
	}
	return flat
}
