package interpreter

import (
	"errors"
	"fmt"
)

// Ошибки выполнения.
var (
	// ErrExecutionAborted — цикл планировщика прерван непредвиденной ошибкой.
	ErrExecutionAborted = errors.New("execution aborted")

	// ErrAlreadyRunning — Control уже используется другим run.
	ErrAlreadyRunning = errors.New("execution already running")

	// ErrInvalidTransition — недопустимая смена состояния выполнения.
	ErrInvalidTransition = errors.New("invalid execution state transition")

	// ErrStopped — выполнение остановлено пользователем.
	ErrStopped = errors.New("execution stopped")

	// ErrEndIfBranches — в паре веток END_IF не ровно одно значение.
	ErrEndIfBranches = errors.New("end-if pair must have exactly one non-null branch")

	// ErrForEachEmpty — ForEach получил пустой список.
	ErrForEachEmpty = errors.New("for-each has nothing to replicate over")

	// ErrForEachLength — списки для поэлементного режима разной длины.
	ErrForEachLength = errors.New("for-each lists have different lengths")

	// ErrForEachIncomplete — счётчик собранных значений не достиг цели.
	ErrForEachIncomplete = errors.New("for-each collected fewer values than expected")

	// ErrMaxIterations — DoWhile превысил лимит итераций.
	ErrMaxIterations = errors.New("do-while exceeded max iterations")

	// ErrUpstreamFailed — источник данных DoWhile упал или никогда не выполнится.
	ErrUpstreamFailed = errors.New("do-while inputs will never be available")

	// ErrMissingOutput — тело не вернуло значение объявленного выхода.
	ErrMissingOutput = errors.New("missing output value")

	// ErrSubGraphInput — у вложенного графа нет Input узла для порта.
	ErrSubGraphInput = errors.New("sub-graph has no input node for port")

	// ErrSubGraphFailed — вложенный run завершился неуспешно.
	ErrSubGraphFailed = errors.New("sub-graph run failed")

	// ErrNestingTooDeep — превышена глубина вложенности SubGraph.
	ErrNestingTooDeep = errors.New("sub-graph nesting too deep")

	// ErrMissingCredentials — LIFECYCLE узлы без учётных данных.
	ErrMissingCredentials = errors.New("lifecycle credentials are not configured")

	// ErrMissingProvisioner — LIFECYCLE узлы без Provisioner.
	ErrMissingProvisioner = errors.New("lifecycle provisioner is not configured")

	// ErrProvision — внешний ресурс не удалось выделить или освободить.
	ErrProvision = errors.New("lifecycle provisioning failed")

	// errDetached — обработчик продолжает работу в фоне и сам завершит узел.
	errDetached = errors.New("node completes asynchronously")
)

// ConfigError — ошибка конфигурации run. Обнаруживается до старта цикла,
// run при этом не переходит в RUNNING.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// Error реализует интерфейс error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Unwrap возвращает базовую ошибку.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
