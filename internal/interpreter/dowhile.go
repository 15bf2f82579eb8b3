package interpreter

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

// runDoWhile запускает цикл в фоне и сразу возвращает управление tick'у.
//
// Тело выполняется хотя бы один раз. После каждой итерации условие
// вычисляется над выходами тела по позиции; пока оно истинно, выходы
// тела по позиции становятся входами следующей итерации. Узел остаётся
// в EXECUTING, пока цикл не закончится.
func (i *Interpreter) runDoWhile(ctx context.Context, node *domain.Node) error {
	body, end, err := engine.ScopeOf(node)
	if err != nil {
		return err
	}

	started := time.Now()
	i.loops.Add(1)
	go func() {
		defer i.loops.Done()
		err := i.iterateSafe(ctx, node, body, end)
		i.complete(ctx, node, started, err)
	}()

	return errDetached
}

func (i *Interpreter) iterateSafe(ctx context.Context, node, body, end *domain.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("do-while panic: %v", r)
		}
		if err != nil {
			i.failScope(ctx, err, body, end)
		}
	}()
	return i.iterate(ctx, node, body, end)
}

func (i *Interpreter) iterate(ctx context.Context, node, body, end *domain.Node) error {
	if err := i.awaitProducers(ctx, node); err != nil {
		return err
	}

	values := i.state.InputValues(node)
	for k, out := range node.Outputs {
		if k < len(values) {
			i.state.SetOutput(out, values[k])
		}
	}

	if err := i.state.MarkExecuting(body.ID); err == nil {
		i.emitNode(ctx, body, domain.NodeStateExecuting, nil, "")
	}

	var outputs map[string]any
	for iteration := 1; ; iteration++ {
		if iteration > i.cfg.MaxIterations {
			return fmt.Errorf("%w: %d", ErrMaxIterations, i.cfg.MaxIterations)
		}
		if err := i.checkpoint(ctx); err != nil {
			return err
		}

		i.emit(ctx, taskStarted(body))
		var err error
		outputs, err = i.runBody(ctx, body, i.scopeInputs(node, body, values), false)
		if err != nil {
			i.emit(ctx, taskEnded(body, domain.NodeStateFailed, err))
			return fmt.Errorf("iteration %d: %w", iteration, err)
		}
		i.emit(ctx, taskEnded(body, domain.NodeStateFinished, nil))

		args := make([]any, len(body.Outputs))
		for k, out := range body.Outputs {
			args[k] = outputs[out.Name]
		}

		again, err := engine.EvaluateCondition(node.Expression, args)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iteration, err)
		}
		i.logger.Debug("do-while iteration", "node_id", node.ID, "iteration", iteration, "continue", again)
		if !again {
			break
		}

		for k := range values {
			if k < len(args) {
				values[k] = args[k]
			}
		}
	}

	i.state.SetOutputs(body, outputs)
	for k, in := range end.Inputs {
		if k >= len(end.Outputs) {
			break
		}
		v, _ := i.state.InputValue(in)
		i.state.SetOutput(end.Outputs[k], v)
	}

	i.finishScoped(ctx, body, nil)
	i.finishScoped(ctx, end, nil)
	return nil
}

// checkpoint — точка проверки флага выполнения между итерациями.
// PAUSED ждёт, STOPPED прерывает цикл, STEP выполняет одну итерацию
// и ставит паузу.
func (i *Interpreter) checkpoint(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStopped, err)
		}
		switch i.control.State() {
		case domain.ExecutionStopped:
			return ErrStopped
		case domain.ExecutionPaused:
			i.sleep(ctx, i.cfg.PausePollInterval)
		case domain.ExecutionStep:
			// Шаг мог забрать основной цикл, тогда ждём на паузе.
			if i.control.takeStep() {
				return nil
			}
		default:
			return nil
		}
	}
}

// awaitProducers ждёт, пока все источники данных DoWhile завершатся.
//
// Готовность DoWhile определяется только управляющими входами, поэтому
// источники могут ещё выполняться. Если источник упал или run больше
// не может продвинуться, цикл завершается ошибкой.
func (i *Interpreter) awaitProducers(ctx context.Context, node *domain.Node) error {
	i.setAwaiting(node.ID, true)
	defer i.setAwaiting(node.ID, false)

	for {
		done, err := i.producersDone(node)
		if done || err != nil {
			return err
		}

		if i.control.State() == domain.ExecutionStopped {
			return ErrStopped
		}
		if !i.state.Progressing(i.awaitingSnapshot()) {
			// Источник мог завершиться между двумя проверками.
			if done, err := i.producersDone(node); done || err != nil {
				return err
			}
			return fmt.Errorf("%w: run cannot progress", ErrUpstreamFailed)
		}

		i.sleep(ctx, i.cfg.DryTickInterval)
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStopped, err)
		}
	}
}

func (i *Interpreter) producersDone(node *domain.Node) (bool, error) {
	done := true
	for _, p := range node.DataProducers() {
		switch i.state.NodeState(p.ID) {
		case domain.NodeStateFinished:
		case domain.NodeStateFailed:
			return false, fmt.Errorf("%w: %s failed", ErrUpstreamFailed, p.ID)
		default:
			done = false
		}
	}
	return done, nil
}

func (i *Interpreter) setAwaiting(nodeID string, on bool) {
	i.awaitMu.Lock()
	defer i.awaitMu.Unlock()
	if on {
		i.awaiting[nodeID] = true
	} else {
		delete(i.awaiting, nodeID)
	}
}

func (i *Interpreter) awaitingSnapshot() map[string]bool {
	i.awaitMu.Lock()
	defer i.awaitMu.Unlock()
	skip := make(map[string]bool, len(i.awaiting))
	for id := range i.awaiting {
		skip[id] = true
	}
	return skip
}
