package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Interflow/internal/engine"
)

// ValidateGraph проверяет граф без запуска.
// POST /api/v1/graphs/validate
//
// Невалидный граф — это ответ 200 с valid=false: ошибка относится
// к документу, а не к запросу.
func (h *Handler) ValidateGraph(w http.ResponseWriter, r *http.Request) {
	var req ValidateGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	g, err := req.Graph.Parse()
	if err != nil {
		Success(w, ValidateGraphResponse{Valid: false, Error: err.Error()})
		return
	}

	order, err := engine.TopologicalOrder(g)
	if err != nil {
		Success(w, ValidateGraphResponse{Valid: false, Error: err.Error()})
		return
	}

	ids := make([]string, len(order))
	for i, node := range order {
		ids[i] = node.ID
	}

	Success(w, ValidateGraphResponse{
		Valid:    true,
		Workflow: g.Name,
		Nodes:    g.Size(),
		Edges:    len(g.Edges()),
		Order:    ids,
	})
}

// ListServices возвращает имена сервисов, доступных SERVICE узлам.
// GET /api/v1/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.registry.Services()
	List(w, services, len(services))
}
