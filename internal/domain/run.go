package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — запись об одном запуске workflow верхнего уровня. Вложенные
// SubGraph отдельного Run не получают.
type Run struct {
	ID       uuid.UUID `json:"id"`
	Workflow string    `json:"workflow"`
	Status   RunStatus `json:"status"`

	// Stopped — run завершён командой stop, а не дошёл до конца сам.
	Stopped bool `json:"stopped,omitempty"`

	// Inputs и Outputs — значения Input/Output узлов по имени узла.
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun — ещё не запущенный run со свежим ID.
func NewRun(workflow string, inputs map[string]any) *Run {
	return &Run{ID: uuid.New(), Workflow: workflow, Inputs: inputs, CreatedAt: time.Now()}
}

func (r *Run) IsFinished() bool { return r.Status.IsTerminal() }

// Duration — от старта до завершения; 0, пока run не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status, r.StartedAt = RunStatusRunning, &now
}

// Finish фиксирует итог. Непустой errMsg делает run FAILED, иначе
// SUCCEEDED; выходы сохраняются в обоих случаях.
func (r *Run) Finish(outputs map[string]any, errMsg string, stopped bool) {
	now := time.Now()
	r.FinishedAt = &now
	r.Outputs = outputs
	r.Stopped = stopped
	r.Error = errMsg
	if errMsg != "" {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusSucceeded
	}
}
