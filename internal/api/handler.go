package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/provenance"
	"github.com/shaiso/Interflow/internal/repo"
)

// RunHistory — чтение сохранённых runs. Реализуется repo.RunRepo.
type RunHistory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch     *orchestrator.Orchestrator
	history  RunHistory
	prov     provenance.Reader
	registry *invoker.Registry
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator

	// History — сохранённые runs (может быть nil, тогда только реестр процесса).
	History RunHistory

	// Provenance — чтение provenance (может быть nil).
	Provenance provenance.Reader

	// Registry — invoker'ы, доступные графам (для /services).
	Registry *invoker.Registry

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = invoker.DefaultRegistry()
	}
	return &Handler{
		orch:     cfg.Orchestrator,
		history:  cfg.History,
		prov:     cfg.Provenance,
		registry: registry,
		logger:   logger,
	}
}
