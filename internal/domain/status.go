package domain

// ExecutionState — состояние выполнения workflow целиком.
//
// Одно значение управляет всем run, включая вложенные SubGraph run'ы.
//
//	NONE → RUNNING ⇄ PAUSED ⇄ STEP
//	          ↘ STOPPED → NONE (после cleanup)
type ExecutionState string

const (
	// ExecutionNone — workflow не выполняется.
	ExecutionNone ExecutionState = "NONE"

	// ExecutionRunning — планировщик раздаёт готовые узлы.
	ExecutionRunning ExecutionState = "RUNNING"

	// ExecutionPaused — планировщик ждёт возобновления.
	ExecutionPaused ExecutionState = "PAUSED"

	// ExecutionStep — запустить один узел и снова встать на паузу.
	ExecutionStep ExecutionState = "STEP"

	// ExecutionStopped — run останавливается на ближайшей контрольной точке.
	ExecutionStopped ExecutionState = "STOPPED"
)

// String возвращает строковое представление ExecutionState.
func (s ExecutionState) String() string {
	return string(s)
}

// RunStatus — итоговый статус run для provenance и отчётов.
//
// Жизненный цикл:
//
//	RUNNING → SUCCEEDED
//	        ↘ FAILED
type RunStatus string

const (
	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}
