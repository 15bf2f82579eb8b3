package api

import "net/http"

type route struct {
	pattern string
	handle  http.HandlerFunc
}

// routes — все эндпоинты API v1.
func (h *Handler) routes() []route {
	return []route{
		{"GET /api/v1/runs", h.ListRuns},
		{"POST /api/v1/runs", h.CreateRun},
		{"GET /api/v1/runs/{id}", h.GetRun},
		{"GET /api/v1/runs/{id}/provenance", h.GetProvenance},
		{"POST /api/v1/runs/{id}/{command}", h.ControlRun},

		{"POST /api/v1/graphs/validate", h.ValidateGraph},
		{"GET /api/v1/services", h.ListServices},
	}
}

// RegisterRoutes вешает эндпоинты на mux. Каждый обёрнут в
// RequestID → Recovery → Logging.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	wrap := Chain(RequestID(), Recovery(h.logger), Logging(h.logger))
	for _, rt := range h.routes() {
		mux.Handle(rt.pattern, wrap(rt.handle))
	}
}
