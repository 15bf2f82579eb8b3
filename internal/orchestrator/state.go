package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interpreter"
)

// ActiveRun — run в реестре оркестратора.
//
// ActiveRun создаётся при Submit и остаётся в реестре после завершения,
// пока его не вытеснят более новые runs.
type ActiveRun struct {
	run    *domain.Run
	interp *interpreter.Interpreter

	cancel context.CancelFunc
	done   chan struct{}
	result *interpreter.Result

	mu sync.RWMutex
}

func newActiveRun(run *domain.Run, interp *interpreter.Interpreter, cancel context.CancelFunc) *ActiveRun {
	return &ActiveRun{
		run:    run,
		interp: interp,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID возвращает ID run.
func (a *ActiveRun) ID() uuid.UUID {
	return a.run.ID
}

// Done закрывается, когда run завершён и итог сохранён.
func (a *ActiveRun) Done() <-chan struct{} {
	return a.done
}

// IsFinished проверяет, завершён ли run.
func (a *ActiveRun) IsFinished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Result возвращает итог интерпретатора. ok=false, пока run выполняется.
func (a *ActiveRun) Result() (*interpreter.Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.result, a.result != nil
}

// Control возвращает флаг выполнения run.
func (a *ActiveRun) Control() *interpreter.Control {
	return a.interp.Control()
}

// RunView — снимок run для API и CLI.
type RunView struct {
	Run       domain.Run                  `json:"run"`
	Execution domain.ExecutionState       `json:"execution_state"`
	Nodes     map[string]domain.NodeState `json:"nodes"`
	Stats     engine.RunStats             `json:"stats"`
	Failed    []string                    `json:"failed,omitempty"`
}

// View возвращает согласованный снимок run.
func (a *ActiveRun) View() RunView {
	state := a.interp.State()

	a.mu.RLock()
	defer a.mu.RUnlock()

	return RunView{
		Run:       *a.run,
		Execution: a.interp.Control().State(),
		Nodes:     state.Snapshot(),
		Stats:     state.Stats(),
		Failed:    state.FailedNodes(),
	}
}

// finish фиксирует итог run в domain.Run.
//
// err != nil означает, что цикл был прерван или run не стартовал:
// такой run всегда FAILED.
func (a *ActiveRun) finish(res *interpreter.Result, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if res == nil {
		res = &interpreter.Result{RunID: a.run.ID, Workflow: a.run.Workflow, Status: domain.RunStatusFailed}
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	a.result = res

	errMsg := ""
	if err != nil || res.Status == domain.RunStatusFailed {
		errMsg = res.Error
		if errMsg == "" {
			errMsg = "run failed"
		}
	}
	a.run.Finish(res.Outputs, errMsg, res.Stopped)
}

// snapshot возвращает копию domain.Run.
func (a *ActiveRun) snapshot() domain.Run {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.run
}
