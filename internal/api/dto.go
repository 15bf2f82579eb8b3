package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/provenance"
)

// Graph DTOs

// GraphField — документ графа в теле запроса: JSON объект
// или строка с YAML/JSON документом.
type GraphField json.RawMessage

// UnmarshalJSON сохраняет сырое значение поля.
func (g *GraphField) UnmarshalJSON(data []byte) error {
	*g = append((*g)[:0], data...)
	return nil
}

// Parse разбирает и валидирует граф.
func (g GraphField) Parse() (*domain.Graph, error) {
	raw := bytes.TrimSpace(g)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, engine.ErrEmptyDocument
	}
	if raw[0] == '"' {
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrEmptyDocument, err)
		}
		return engine.ParseGraph([]byte(doc))
	}
	return engine.ParseGraph(raw)
}

// ValidateGraphRequest — запрос на проверку графа.
type ValidateGraphRequest struct {
	Graph GraphField `json:"graph"`
}

// ValidateGraphResponse — результат проверки графа.
type ValidateGraphResponse struct {
	Valid    bool     `json:"valid"`
	Workflow string   `json:"workflow,omitempty"`
	Nodes    int      `json:"nodes"`
	Edges    int      `json:"edges"`
	Order    []string `json:"order,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Run DTOs

// CreateRunRequest — запрос на запуск workflow.
type CreateRunRequest struct {
	Graph  GraphField     `json:"graph"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// CommandResponse — ответ на команду управления.
type CommandResponse struct {
	RunID     uuid.UUID             `json:"run_id"`
	Command   string                `json:"command"`
	Execution domain.ExecutionState `json:"execution_state"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID         uuid.UUID      `json:"id"`
	Workflow   string         `json:"workflow"`
	Status     string         `json:"status"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Stopped    bool           `json:"stopped,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	// Поля ниже есть только у runs из реестра процесса.
	Execution domain.ExecutionState       `json:"execution_state,omitempty"`
	Nodes     map[string]domain.NodeState `json:"nodes,omitempty"`
	Stats     *engine.RunStats            `json:"stats,omitempty"`
	Failed    []string                    `json:"failed,omitempty"`
}

// ProvenanceResponse — сохранённые входы и выходы узлов run.
type ProvenanceResponse struct {
	RunID   uuid.UUID           `json:"run_id"`
	Status  domain.RunStatus    `json:"status,omitempty"`
	Records []provenance.Record `json:"records"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Workflow:   r.Workflow,
		Status:     string(r.Status),
		Inputs:     r.Inputs,
		Outputs:    r.Outputs,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      r.Error,
		Stopped:    r.Stopped,
		CreatedAt:  r.CreatedAt,
	}
}

// RunFromView конвертирует снимок оркестратора в RunResponse.
func RunFromView(v orchestrator.RunView) RunResponse {
	resp := RunFromDomain(v.Run)
	resp.Execution = v.Execution
	resp.Nodes = v.Nodes
	resp.Stats = &v.Stats
	resp.Failed = v.Failed
	return resp
}
