package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// handlerFunc — обработчик узла одного типа.
type handlerFunc func(ctx context.Context, node *domain.Node) error

// Interpreter выполняет один граф.
//
// Цикл выполнения (tick):
//  1. STOPPED — выход; PAUSED — ожидание с опросом
//  2. Продвижение OUTPUT узлов
//  3. Вычисление готовых узлов
//  4. Запуск готовых узлов параллельно (по горутине на узел)
//  5. Барьер: ожидание всех запущенных на этом tick'е
//
// Interpreter одноразовый: один экземпляр — один run.
type Interpreter struct {
	cfg     Config
	graph   *domain.Graph
	control *Control
	logger  *slog.Logger

	runID  uuid.UUID
	depth  int
	nested bool
	inputs map[string]any

	state    *engine.RunState
	handlers map[domain.NodeKind]handlerFunc

	// invokers — invoker'ы выполняющихся узлов. Запись живёт только
	// на время одного вызова.
	invokersMu sync.Mutex
	invokers   map[string]invoker.Invoker

	// loops — фоновые циклы DoWhile.
	loops sync.WaitGroup

	// awaiting — DoWhile узлы, ждущие своих источников данных.
	awaitMu  sync.Mutex
	awaiting map[string]bool

	aborted error
}

// Result — итог run.
type Result struct {
	RunID    uuid.UUID        `json:"run_id"`
	Workflow string           `json:"workflow"`
	Status   domain.RunStatus `json:"status"`

	// Outputs — значения OUTPUT узлов по имени узла.
	Outputs map[string]any `json:"outputs"`

	// Failed — ID упавших узлов.
	Failed []string `json:"failed,omitempty"`

	// Error — текст первой ошибки (узла или прерывания цикла).
	Error string `json:"error,omitempty"`

	// Stopped — run остановлен командой, а не исчерпанием графа.
	Stopped bool `json:"stopped,omitempty"`

	// Interrupted — ID узлов, не доделавших работу из-за остановки.
	Interrupted []string `json:"interrupted,omitempty"`

	Stats    engine.RunStats `json:"stats"`
	Duration time.Duration   `json:"duration"`
}

// New создаёт интерпретатор для графа.
//
// Ошибки валидации графа и конфигурации (ConfigError) возвращаются сразу,
// до какого-либо выполнения.
func New(g *domain.Graph, cfg Config) (*Interpreter, error) {
	if err := engine.Validate(g); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := checkConfig(g, &cfg); err != nil {
		return nil, err
	}

	i := &Interpreter{
		cfg:      cfg,
		graph:    g,
		control:  cfg.Control,
		runID:    cfg.RunID,
		state:    engine.NewRunState(g),
		invokers: make(map[string]invoker.Invoker),
		awaiting: make(map[string]bool),
	}
	i.logger = telemetry.WithRunID(telemetry.WithWorkflow(cfg.Logger, g.Name), i.runID.String())
	i.handlers = map[domain.NodeKind]handlerFunc{
		domain.NodeKindService:        i.runLeaf,
		domain.NodeKindSubGraph:       i.runLeaf,
		domain.NodeKindIf:             i.runIf,
		domain.NodeKindEndIf:          i.runEndIf,
		domain.NodeKindForEach:        i.runForEach,
		domain.NodeKindDoWhile:        i.runDoWhile,
		domain.NodeKindLifecycleStart: i.runLifecycleStart,
		domain.NodeKindLifecycleEnd:   i.runLifecycleEnd,
	}
	return i, nil
}

// newNested создаёт интерпретатор вложенного графа с общим Control.
func (i *Interpreter) newNested(g *domain.Graph, inputs map[string]any) (*Interpreter, error) {
	if i.depth+1 > i.cfg.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d", ErrNestingTooDeep, i.depth+1)
	}
	cfg := i.cfg
	cfg.RunID = uuid.Nil
	child, err := New(g, cfg)
	if err != nil {
		return nil, err
	}
	child.depth = i.depth + 1
	child.nested = true
	child.inputs = inputs
	return child, nil
}

// checkConfig проверяет, что графу хватает конфигурации для выполнения.
func checkConfig(g *domain.Graph, cfg *Config) error {
	for _, node := range g.Nodes() {
		switch node.Kind {
		case domain.NodeKindService:
			if !cfg.Registry.Has(node.Service) {
				return &ConfigError{
					Field:   "registry",
					Message: fmt.Sprintf("node %s uses unknown service %q", node.ID, node.Service),
					Err:     invoker.ErrUnknownService,
				}
			}
		case domain.NodeKindLifecycleStart, domain.NodeKindLifecycleEnd:
			if !cfg.Credentials.Valid() {
				return &ConfigError{
					Field:   "credentials",
					Message: fmt.Sprintf("node %s needs lifecycle credentials", node.ID),
					Err:     ErrMissingCredentials,
				}
			}
			if cfg.Provisioner == nil {
				return &ConfigError{
					Field:   "provisioner",
					Message: fmt.Sprintf("node %s needs a lifecycle provisioner", node.ID),
					Err:     ErrMissingProvisioner,
				}
			}
		case domain.NodeKindSubGraph:
			if err := checkLifecycle(node.SubGraph, cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkLifecycle проверяет LIFECYCLE узлы вложенного графа. Сервисы
// вложенного графа проверяются при его запуске: порт может выполнить
// его своим интерпретатором.
func checkLifecycle(g *domain.Graph, cfg *Config) error {
	for _, node := range g.Nodes() {
		switch node.Kind {
		case domain.NodeKindLifecycleStart, domain.NodeKindLifecycleEnd:
			if !cfg.Credentials.Valid() {
				return &ConfigError{Field: "credentials", Message: "sub-graph node " + node.ID + " needs lifecycle credentials", Err: ErrMissingCredentials}
			}
			if cfg.Provisioner == nil {
				return &ConfigError{Field: "provisioner", Message: "sub-graph node " + node.ID + " needs a lifecycle provisioner", Err: ErrMissingProvisioner}
			}
		case domain.NodeKindSubGraph:
			if err := checkLifecycle(node.SubGraph, cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunID возвращает ID run.
func (i *Interpreter) RunID() uuid.UUID {
	return i.runID
}

// Control возвращает флаг выполнения run.
func (i *Interpreter) Control() *Control {
	return i.control
}

// State возвращает состояние узлов run.
func (i *Interpreter) State() *engine.RunState {
	return i.state
}

// Graph возвращает выполняемый граф.
func (i *Interpreter) Graph() *domain.Graph {
	return i.graph
}

// Run выполняет граф до исчерпания, остановки или прерывания.
//
// inputs — значения INPUT узлов по имени. Ошибка узла не возвращается
// как error: она отражается в Result.Status. error возвращается, если
// run не удалось начать или цикл был прерван.
func (i *Interpreter) Run(ctx context.Context, inputs map[string]any) (*Result, error) {
	if inputs != nil {
		i.inputs = inputs
	}

	if !i.nested {
		if err := i.control.begin(i.onExecutionState(ctx)); err != nil {
			return nil, err
		}
		defer i.control.reset()
	}

	started := time.Now()
	i.logger.Info("run started", "depth", i.depth, "nodes", i.graph.Size())
	i.cfg.Recorder.SetStatus(i.runID.String(), domain.RunStatusRunning)

	for _, node := range i.state.SeedSources(i.inputs) {
		i.emitNode(ctx, node, domain.NodeStateFinished, nil, "")
	}

	stopped := i.loopSafe(ctx)

	// Фоновые DoWhile должны закончиться до подведения итога.
	i.loops.Wait()

	// Итоговые события доставляются и после отмены ctx.
	final := context.WithoutCancel(ctx)
	i.advanceOutputs(final)

	return i.finish(final, started, stopped), i.aborted
}

// RunNested реализует interaction.NestedRunner: вложенный run с входами,
// заданными при создании.
func (i *Interpreter) RunNested(ctx context.Context) (interaction.NestedResult, error) {
	res, err := i.Run(ctx, nil)
	if res == nil {
		return interaction.NestedResult{Status: domain.RunStatusFailed}, err
	}
	return interaction.NestedResult{Status: res.Status, Outputs: res.Outputs, Stopped: res.Stopped}, err
}

// loopSafe выполняет цикл и превращает панику в прерывание run.
func (i *Interpreter) loopSafe(ctx context.Context) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			i.aborted = fmt.Errorf("%w: %v", ErrExecutionAborted, r)
			i.logger.Error("scheduler loop panicked", "panic", r)
			i.control.set(domain.ExecutionStopped)
		}
	}()
	return i.loop(ctx)
}

// loop — основной цикл. Возвращает true, если run остановлен командой.
func (i *Interpreter) loop(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			i.logger.Info("context cancelled, stopping run", "error", ctx.Err())
			if i.control.State() != domain.ExecutionStopped {
				_ = i.control.Stop()
			}
			return true
		}

		switch i.control.State() {
		case domain.ExecutionStopped:
			return true
		case domain.ExecutionPaused:
			i.sleep(ctx, i.cfg.PausePollInterval)
			continue
		}

		i.cfg.Metrics.Tick()
		i.advanceOutputs(ctx)

		stats := i.state.Stats()
		if stats.Pending() == 0 {
			i.logger.Debug("graph exhausted")
			if !i.nested {
				i.control.set(domain.ExecutionStopped)
			}
			return false
		}

		ready := i.state.ReadyNodes()
		if len(ready) == 0 {
			if stats.ExecutingNodes == 0 {
				// Зависание: ничего не готово и ничего не выполняется.
				// Остаток WAITING узлов зависит от упавших или закрытых веток.
				i.logger.Debug("no runnable nodes left", "waiting", stats.WaitingNodes)
				if !i.nested {
					i.control.set(domain.ExecutionStopped)
				}
				return false
			}
			i.sleep(ctx, i.cfg.DryTickInterval)
			continue
		}

		var wg sync.WaitGroup
		for _, node := range ready {
			// Шаг забирается до запуска: DoWhile может претендовать на тот же STEP.
			stepping := false
			if i.control.State() == domain.ExecutionStep {
				if !i.control.takeStep() {
					break
				}
				stepping = true
			}

			if !i.dispatch(ctx, node, &wg) {
				if stepping {
					i.control.set(domain.ExecutionStep)
				}
				continue
			}

			if stepping || node.Break {
				if node.Break {
					i.logger.Info("breakpoint hit", "node_id", node.ID)
				}
				i.control.set(domain.ExecutionPaused)
				break
			}
			if i.control.State() == domain.ExecutionStopped {
				break
			}
		}
		wg.Wait()
	}
}

func (i *Interpreter) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// dispatch переводит узел в EXECUTING и запускает его обработчик.
func (i *Interpreter) dispatch(ctx context.Context, node *domain.Node, wg *sync.WaitGroup) bool {
	if err := i.state.MarkExecuting(node.ID); err != nil {
		i.logger.Warn("skip dispatch", "node_id", node.ID, "error", err)
		return false
	}

	i.emitNode(ctx, node, domain.NodeStateExecuting, nil, "")
	i.emit(ctx, taskStarted(node))
	i.cfg.Metrics.NodeDispatched(string(node.Kind))
	i.cfg.Recorder.RecordInput(i.runID.String(), node.ID, i.state.InputMap(node))

	wg.Add(1)
	go func() {
		defer wg.Done()
		i.execute(ctx, node)
	}()
	return true
}

// execute выполняет обработчик узла и фиксирует результат.
func (i *Interpreter) execute(ctx context.Context, node *domain.Node) {
	started := time.Now()

	err := i.handle(ctx, node)
	if errors.Is(err, errDetached) {
		return
	}
	i.complete(ctx, node, started, err)
}

// handle вызывает обработчик по типу узла. Паника обработчика
// становится ошибкой узла.
func (i *Interpreter) handle(ctx context.Context, node *domain.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, ok := i.handlers[node.Kind]
	if !ok {
		return fmt.Errorf("no handler for %s", node.Kind)
	}
	return h(ctx, node)
}

// complete переводит узел в FINISHED или FAILED и отправляет события.
// Узел, прерванный остановкой run, отмечается как прерванный, а не упавший.
func (i *Interpreter) complete(ctx context.Context, node *domain.Node, started time.Time, err error) {
	state := domain.NodeStateFinished
	errMsg, label := "", ""

	switch {
	case errors.Is(err, ErrStopped):
		state = domain.NodeStateFailed
		errMsg = err.Error()
		label = "STOPPED"
		i.logger.Info("node interrupted by stop", "node_id", node.ID, "kind", node.Kind)
		if mErr := i.state.MarkInterrupted(node.ID, errMsg); mErr != nil {
			i.logger.Warn("mark interrupted", "node_id", node.ID, "error", mErr)
		}
	case err != nil:
		state = domain.NodeStateFailed
		errMsg = err.Error()
		i.logger.Error("node failed", "node_id", node.ID, "kind", node.Kind, "error", err)
		if mErr := i.state.MarkFailed(node.ID, errMsg); mErr != nil {
			i.logger.Warn("mark failed", "node_id", node.ID, "error", mErr)
		}
	default:
		if mErr := i.state.MarkFinished(node.ID); mErr != nil {
			i.logger.Warn("mark finished", "node_id", node.ID, "error", mErr)
		}
		i.cfg.Recorder.RecordOutput(i.runID.String(), node.ID, i.outputsOf(node))
	}

	i.emitNode(ctx, node, state, nil, errMsg)
	i.emit(ctx, taskEnded(node, state, err))
	if label == "" {
		label = string(state)
	}
	i.cfg.Metrics.NodeCompleted(string(node.Kind), label, time.Since(started))
}

// finishScoped завершает узел, которым управляет обработчик области
// (тело и закрывающий узел ForEach/DoWhile).
func (i *Interpreter) finishScoped(ctx context.Context, node *domain.Node, err error) {
	if err != nil {
		mark := i.state.MarkFailed
		if errors.Is(err, ErrStopped) {
			mark = i.state.MarkInterrupted
		}
		if mErr := mark(node.ID, err.Error()); mErr != nil {
			return
		}
		i.emitNode(ctx, node, domain.NodeStateFailed, nil, err.Error())
		return
	}
	if mErr := i.state.MarkFinished(node.ID); mErr != nil {
		return
	}
	i.emitNode(ctx, node, domain.NodeStateFinished, nil, "")
}

// advanceOutputs завершает OUTPUT узлы, чей источник уже FINISHED.
func (i *Interpreter) advanceOutputs(ctx context.Context) {
	for _, node := range i.state.ReadyOutputNodes() {
		var value any
		if len(node.Inputs) > 0 {
			value, _ = i.state.InputValue(node.Inputs[0])
		}
		if err := i.state.MarkFinished(node.ID); err != nil {
			continue
		}
		i.cfg.Recorder.RecordOutput(i.runID.String(), node.ID, value)
		i.emitNode(ctx, node, domain.NodeStateFinished, value, "")
	}
}

// finish подводит итог run и отправляет завершающие события.
func (i *Interpreter) finish(ctx context.Context, started time.Time, stopped bool) *Result {
	failed := i.state.FailedNodes()

	res := &Result{
		RunID:       i.runID,
		Workflow:    i.graph.Name,
		Status:      domain.RunStatusSucceeded,
		Outputs:     i.collectOutputs(),
		Failed:      failed,
		Interrupted: i.state.InterruptedNodes(),
		Stopped:     stopped,
		Stats:       i.state.Stats(),
		Duration:    time.Since(started),
	}

	if len(failed) > 0 || i.aborted != nil {
		res.Status = domain.RunStatusFailed
		if i.aborted != nil {
			res.Error = i.aborted.Error()
		} else {
			res.Error = fmt.Sprintf("%s: %s", failed[0], i.state.Error(failed[0]))
		}
		i.emit(ctx, interaction.Event{
			Kind:  interaction.EventExecutionError,
			Error: res.Error,
		})
	}

	i.cfg.Recorder.SetStatus(i.runID.String(), res.Status)
	i.cfg.Metrics.RunFinished(string(res.Status))
	i.logger.Info("run finished",
		"status", res.Status,
		"failed", len(failed),
		"stopped", stopped,
		"duration", res.Duration,
	)

	i.emit(ctx, interaction.Event{
		Kind:   interaction.EventExecutionCleanup,
		Failed: res.Status == domain.RunStatusFailed,
	})
	return res
}

// collectOutputs собирает значения завершённых OUTPUT узлов по имени.
func (i *Interpreter) collectOutputs() map[string]any {
	outputs := make(map[string]any)
	for _, node := range i.graph.NodesOfKind(domain.NodeKindOutput) {
		if i.state.NodeState(node.ID) != domain.NodeStateFinished || len(node.Inputs) == 0 {
			continue
		}
		v, _ := i.state.InputValue(node.Inputs[0])
		outputs[node.Name] = v
	}
	return outputs
}

func (i *Interpreter) outputsOf(node *domain.Node) map[string]any {
	outputs := make(map[string]any, len(node.Outputs))
	for _, out := range node.Outputs {
		if v, ok := i.state.OutputValue(out); ok {
			outputs[out.Name] = v
		}
	}
	return outputs
}

func (i *Interpreter) bind(nodeID string, inv invoker.Invoker) {
	i.invokersMu.Lock()
	defer i.invokersMu.Unlock()
	i.invokers[nodeID] = inv
}

func (i *Interpreter) unbind(nodeID string) {
	i.invokersMu.Lock()
	defer i.invokersMu.Unlock()
	delete(i.invokers, nodeID)
}

// Invoker возвращает invoker выполняющегося узла, если он есть.
func (i *Interpreter) Invoker(nodeID string) (invoker.Invoker, bool) {
	i.invokersMu.Lock()
	defer i.invokersMu.Unlock()
	inv, ok := i.invokers[nodeID]
	return inv, ok
}

// --- События ---

func (i *Interpreter) emit(ctx context.Context, ev interaction.Event) {
	ev.RunID = i.runID.String()
	ev.Workflow = i.graph.Name
	ev.Depth = i.depth
	ev.Time = time.Now()
	i.cfg.Port.Notify(ctx, ev)
}

func (i *Interpreter) emitNode(ctx context.Context, node *domain.Node, state domain.NodeState, value any, errMsg string) {
	i.emit(ctx, interaction.Event{
		Kind:      interaction.EventNodeStateChanged,
		NodeID:    node.ID,
		NodeKind:  node.Kind,
		NodeState: state,
		Value:     value,
		Error:     errMsg,
	})
}

// onExecutionState возвращает обработчик смены флага выполнения.
func (i *Interpreter) onExecutionState(ctx context.Context) func(domain.ExecutionState) {
	return func(state domain.ExecutionState) {
		i.logger.Debug("execution state changed", "state", state)
		i.emit(ctx, interaction.Event{
			Kind:           interaction.EventExecutionStateChanged,
			ExecutionState: state,
		})
	}
}

func taskStarted(node *domain.Node) interaction.Event {
	return interaction.Event{
		Kind:     interaction.EventTaskStarted,
		NodeID:   node.ID,
		NodeKind: node.Kind,
	}
}

func taskEnded(node *domain.Node, state domain.NodeState, err error) interaction.Event {
	ev := interaction.Event{
		Kind:      interaction.EventTaskEnded,
		NodeID:    node.ID,
		NodeKind:  node.Kind,
		NodeState: state,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
