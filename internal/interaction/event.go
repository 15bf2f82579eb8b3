package interaction

import (
	"time"

	"github.com/shaiso/Interflow/internal/domain"
)

// EventKind — вид события интерпретатора.
type EventKind string

const (
	// EventNodeStateChanged — узел сменил состояние. Для OUTPUT узлов
	// Value содержит выходное значение workflow.
	EventNodeStateChanged EventKind = "node-state-changed"

	// EventExecutionStateChanged — сменился флаг выполнения run.
	EventExecutionStateChanged EventKind = "execution-state-changed"

	// EventTaskStarted — узел запущен (после перевода в EXECUTING).
	EventTaskStarted EventKind = "task-started"

	// EventTaskEnded — работа узла завершена (успешно или нет).
	EventTaskEnded EventKind = "task-ended"

	// EventExecutionError — ошибка выполнения. Ровно одно событие на run
	// с хотя бы одним упавшим узлом, плюс одно на аварийное прерывание цикла.
	EventExecutionError EventKind = "execution-error"

	// EventSubGraphOpened — SUB_GRAPH узел начал вложенный run.
	EventSubGraphOpened EventKind = "sub-graph-opened"

	// EventExecutionCleanup — run завершён, Failed содержит итог.
	// Отправляется всегда, в том числе после аварийного прерывания.
	EventExecutionCleanup EventKind = "execution-cleanup"
)

// Event — единое сообщение от интерпретатора к фронтенду.
type Event struct {
	Kind EventKind `json:"kind"`

	// RunID и Workflow определяют run, к которому относится событие.
	// У вложенного run свой RunID, Depth > 0.
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow,omitempty"`
	Depth    int    `json:"depth"`

	NodeID    string           `json:"node_id,omitempty"`
	NodeKind  domain.NodeKind  `json:"node_kind,omitempty"`
	NodeState domain.NodeState `json:"node_state,omitempty"`

	ExecutionState domain.ExecutionState `json:"execution_state,omitempty"`

	// Value — значение OUTPUT узла (для node-state-changed).
	Value any `json:"value,omitempty"`

	// Failed — итог run (для execution-cleanup).
	Failed bool `json:"failed,omitempty"`

	// Error — текст ошибки (execution-error, task-ended с ошибкой).
	Error string `json:"error,omitempty"`

	Time time.Time `json:"time"`
}

// IsNodeEvent возвращает true для событий, относящихся к одному узлу.
func (e Event) IsNodeEvent() bool {
	return e.NodeID != ""
}
