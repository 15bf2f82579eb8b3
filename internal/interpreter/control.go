package interpreter

import (
	"fmt"
	"sync"

	"github.com/shaiso/Interflow/internal/domain"
)

// Control — флаг выполнения run: пауза, шаг, остановка.
//
// Один Control разделяют run и все его вложенные SubGraph run, так что
// пауза верхнего уровня останавливает и вложенные циклы. Команды — простые
// присваивания, цикл замечает их на своих контрольных точках; уже
// выполняющийся вызов не прерывается.
type Control struct {
	mu       sync.Mutex
	state    domain.ExecutionState
	onChange func(domain.ExecutionState)
}

// NewControl создаёт Control в состоянии NONE.
func NewControl() *Control {
	return &Control{state: domain.ExecutionNone}
}

// State возвращает текущее состояние.
func (c *Control) State() domain.ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pause ставит выполнение на паузу (из RUNNING или STEP).
func (c *Control) Pause() error {
	return c.transition(domain.ExecutionPaused, domain.ExecutionRunning, domain.ExecutionStep)
}

// Resume продолжает выполнение после паузы.
func (c *Control) Resume() error {
	return c.transition(domain.ExecutionRunning, domain.ExecutionPaused, domain.ExecutionStep)
}

// Step запускает один готовый узел и снова ставит паузу.
func (c *Control) Step() error {
	return c.transition(domain.ExecutionStep, domain.ExecutionPaused, domain.ExecutionRunning)
}

// Stop останавливает выполнение. Новые узлы не запускаются и не повторяются.
func (c *Control) Stop() error {
	return c.transition(domain.ExecutionStopped,
		domain.ExecutionRunning, domain.ExecutionPaused, domain.ExecutionStep, domain.ExecutionStopped)
}

// Apply выполняет команду по имени: pause, resume, step, stop.
func (c *Control) Apply(command string) error {
	switch command {
	case "pause":
		return c.Pause()
	case "resume":
		return c.Resume()
	case "step":
		return c.Step()
	case "stop":
		return c.Stop()
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, command)
	}
}

// begin захватывает Control для нового run: NONE → RUNNING.
func (c *Control) begin(onChange func(domain.ExecutionState)) error {
	c.mu.Lock()
	if c.state != domain.ExecutionNone {
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrAlreadyRunning, c.state)
	}
	c.state = domain.ExecutionRunning
	c.onChange = onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(domain.ExecutionRunning)
	}
	return nil
}

// reset возвращает Control в NONE в конце run.
func (c *Control) reset() {
	c.mu.Lock()
	onChange := c.onChange
	c.state = domain.ExecutionNone
	c.onChange = nil
	c.mu.Unlock()

	if onChange != nil {
		onChange(domain.ExecutionNone)
	}
}

// set меняет состояние без проверки переходов (внутренние переходы цикла).
func (c *Control) set(to domain.ExecutionState) {
	c.mu.Lock()
	if c.state == to || c.state == domain.ExecutionNone {
		c.mu.Unlock()
		return
	}
	c.state = to
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(to)
	}
}

// takeStep забирает разрешение на один шаг: STEP → PAUSED атомарно.
// Возвращает false, если шаг уже забрал другой цикл или STEP не выставлен.
func (c *Control) takeStep() bool {
	c.mu.Lock()
	if c.state != domain.ExecutionStep {
		c.mu.Unlock()
		return false
	}
	c.state = domain.ExecutionPaused
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(domain.ExecutionPaused)
	}
	return true
}

func (c *Control) transition(to domain.ExecutionState, from ...domain.ExecutionState) error {
	c.mu.Lock()
	current := c.state
	allowed := false
	for _, f := range from {
		if current == f {
			allowed = true
			break
		}
	}
	if !allowed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, current, to)
	}
	changed := current != to
	c.state = to
	onChange := c.onChange
	c.mu.Unlock()

	if changed && onChange != nil {
		onChange(to)
	}
	return nil
}
