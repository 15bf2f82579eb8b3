package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/repo"
)

// ListRuns возвращает список runs.
// GET /api/v1/runs?source=store&workflow=...&status=...&limit=...&offset=...
//
// По умолчанию — runs из реестра процесса (с состоянием узлов).
// source=store читает сохранённую историю.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("source") != "store" {
		views := h.orch.List()
		result := make([]RunResponse, 0, len(views))
		for _, v := range views {
			if status := query.Get("status"); status != "" && string(v.Run.Status) != status {
				continue
			}
			if wf := query.Get("workflow"); wf != "" && v.Run.Workflow != wf {
				continue
			}
			result = append(result, RunFromView(v))
		}
		List(w, result, len(result))
		return
	}

	if h.history == nil {
		BadRequest(w, "run store is not configured")
		return
	}

	filter := repo.RunFilter{
		Workflow: query.Get("workflow"),
		Status:   domain.RunStatus(query.Get("status")),
		Limit:    parseInt(query.Get("limit"), 50),
		Offset:   parseInt(query.Get("offset"), 0),
	}

	runs, err := h.history.List(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun запускает workflow.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	g, err := req.Graph.Parse()
	if HandleError(w, h.logger, err) {
		return
	}

	run, err := h.orch.Submit(r.Context(), g, req.Inputs)
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, RunFromView(run.View()))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.orch.Get(id)
	if err == nil {
		Success(w, RunFromView(run.View()))
		return
	}

	// Run мог быть вытеснен из реестра или запущен другим процессом.
	if errors.Is(err, orchestrator.ErrRunNotFound) && h.history != nil {
		stored, err := h.history.GetByID(r.Context(), id)
		if HandleError(w, h.logger, err) {
			return
		}
		Success(w, RunFromDomain(*stored))
		return
	}

	HandleError(w, h.logger, err)
}

// ControlRun применяет команду управления к run.
// POST /api/v1/runs/{id}/{pause|resume|step|stop}
func (h *Handler) ControlRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	command := r.PathValue("command")
	switch command {
	case "pause", "resume", "step", "stop":
	default:
		NotFound(w, "unknown command: "+command)
		return
	}

	if HandleError(w, h.logger, h.orch.Command(id, command)) {
		return
	}

	run, err := h.orch.Get(id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, CommandResponse{
		RunID:     id,
		Command:   command,
		Execution: run.Control().State(),
	})
}

// GetProvenance возвращает записи provenance run.
// GET /api/v1/runs/{id}/provenance
//
// Запись асинхронная: у только что завершённого run часть записей
// может ещё не дойти до хранилища.
func (h *Handler) GetProvenance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}
	if h.prov == nil {
		BadRequest(w, "provenance store is not configured")
		return
	}

	records, err := h.prov.ListRecords(r.Context(), id.String())
	if HandleError(w, h.logger, err) {
		return
	}
	status, err := h.prov.GetStatus(r.Context(), id.String())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		InternalError(w, h.logger, err)
		return
	}
	if len(records) == 0 && status == "" {
		NotFound(w, "no provenance for run "+id.String())
		return
	}

	Success(w, ProvenanceResponse{RunID: id, Status: status, Records: records})
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
