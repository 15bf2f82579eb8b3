package interpreter

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

// runForEach выполняет тело области для каждого элемента входных списков.
//
// Вход k ForEach даёт список, элемент списка попадает на выход k.
// Каждый элемент выполняется свежим invoker'ом тела, реплики идут
// параллельно. Вход k END_FOR_EACH получает упорядоченную коллекцию
// значений того выхода тела, к которому он подключён.
func (i *Interpreter) runForEach(ctx context.Context, node *domain.Node) error {
	body, end, err := engine.ScopeOf(node)
	if err != nil {
		return err
	}

	elements, err := i.replicate(node)
	if err != nil {
		i.failScope(ctx, err, body, end)
		return err
	}

	started := time.Now()
	if err := i.state.MarkExecuting(body.ID); err == nil {
		i.emitNode(ctx, body, domain.NodeStateExecuting, nil, "")
	}
	i.emit(ctx, taskStarted(body))

	results := make([]map[string]any, len(elements))
	var collected atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for idx, element := range elements {
		g.Go(func() error {
			inputs := i.scopeInputs(node, body, element)
			outputs, err := i.runBody(gctx, body, inputs, false)
			if err != nil {
				return fmt.Errorf("element %d: %w", idx, err)
			}
			results[idx] = outputs
			collected.Add(int64(len(outputs)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		i.failScope(ctx, err, body, end)
		i.emit(ctx, taskEnded(body, domain.NodeStateFailed, err))
		return err
	}

	want := int64(len(elements) * len(body.Outputs))
	if got := collected.Load(); got != want {
		err := fmt.Errorf("%w: %d of %d", ErrForEachIncomplete, got, want)
		i.failScope(ctx, err, body, end)
		return err
	}

	// Реплики тела не оставляют значений на выходах самого тела:
	// на выход тела публикуется коллекция, как и на END_FOR_EACH.
	for _, out := range body.Outputs {
		collection := make([]any, len(results))
		for idx, outputs := range results {
			collection[idx] = outputs[out.Name]
		}
		i.state.SetOutput(out, collection)
	}
	for k, in := range end.Inputs {
		if k >= len(end.Outputs) {
			break
		}
		v, _ := i.state.InputValue(in)
		i.state.SetOutput(end.Outputs[k], v)
	}

	i.finishScoped(ctx, body, nil)
	i.emit(ctx, taskEnded(body, domain.NodeStateFinished, nil))
	i.cfg.Metrics.NodeCompleted(string(body.Kind), string(domain.NodeStateFinished), time.Since(started))
	i.finishScoped(ctx, end, nil)

	i.logger.Debug("for-each completed", "node_id", node.ID, "elements", len(elements))
	return nil
}

// failScope помечает тело и закрывающий узел упавшими.
func (i *Interpreter) failScope(ctx context.Context, err error, nodes ...*domain.Node) {
	for _, n := range nodes {
		i.finishScoped(ctx, n, err)
	}
}

// replicate строит список наборов значений — по одному на реплику тела.
// Элемент набора k соответствует выходу k узла ForEach.
func (i *Interpreter) replicate(node *domain.Node) ([][]any, error) {
	args := i.state.InputValues(node)
	lists := make([][]any, len(args))
	for k, arg := range args {
		lists[k] = toList(arg)
	}

	switch {
	case len(lists) == 0:
		return nil, ErrForEachEmpty
	case len(lists) == 1:
		if len(lists[0]) == 0 {
			return nil, ErrForEachEmpty
		}
		elements := make([][]any, len(lists[0]))
		for idx, v := range lists[0] {
			elements[idx] = []any{v}
		}
		return elements, nil
	case i.cfg.CrossProduct:
		return crossProduct(lists)
	default:
		return zip(lists)
	}
}

// crossProduct — декартово произведение списков. Первый список меняется медленнее всех.
func crossProduct(lists [][]any) ([][]any, error) {
	result := [][]any{{}}
	for _, list := range lists {
		if len(list) == 0 {
			return nil, ErrForEachEmpty
		}
		next := make([][]any, 0, len(result)*len(list))
		for _, prefix := range result {
			for _, v := range list {
				combo := make([]any, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, v))
			}
		}
		result = next
	}
	return result, nil
}

// zip объединяет списки поэлементно. Список из одного элемента
// повторяется для каждой позиции, остальные должны совпадать по длине.
func zip(lists [][]any) ([][]any, error) {
	n := 1
	for _, list := range lists {
		switch {
		case len(list) == 0:
			return nil, ErrForEachEmpty
		case len(list) == 1:
		case n == 1:
			n = len(list)
		case len(list) != n:
			return nil, fmt.Errorf("%w: %d and %d", ErrForEachLength, n, len(list))
		}
	}

	result := make([][]any, n)
	for idx := range result {
		combo := make([]any, len(lists))
		for k, list := range lists {
			if len(list) == 1 {
				combo[k] = list[0]
			} else {
				combo[k] = list[idx]
			}
		}
		result[idx] = combo
	}
	return result, nil
}

// toList приводит значение входа ForEach к списку.
// Строка разбивается по запятым, скаляр становится списком из одного элемента.
func toList(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case []string:
		list := make([]any, len(val))
		for idx, s := range val {
			list[idx] = s
		}
		return list
	case []int:
		list := make([]any, len(val))
		for idx, n := range val {
			list[idx] = n
		}
		return list
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		list := make([]any, len(parts))
		for idx, p := range parts {
			list[idx] = strings.TrimSpace(p)
		}
		return list
	default:
		return []any{val}
	}
}

// scopeInputs собирает входы тела для одной реплики или итерации.
// Вход, подключённый к выходу k открывающего узла, получает values[k];
// остальные входы читают текущие значения своих источников.
func (i *Interpreter) scopeInputs(start, body *domain.Node, values []any) map[string]any {
	inputs := make(map[string]any, len(body.Inputs))
	for _, in := range body.Inputs {
		edges := in.Edges()
		if len(edges) == 0 {
			continue
		}
		from := edges[0].From
		if from.Node() == start && from.Index < len(values) {
			inputs[in.Name] = values[from.Index]
			continue
		}
		if v, ok := i.state.OutputValue(from); ok {
			inputs[in.Name] = v
		}
	}
	return inputs
}
