package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// Submitter запускает run графа и возвращает его ID.
type Submitter interface {
	Submit(ctx context.Context, g *domain.Graph, inputs map[string]any) (uuid.UUID, error)
}

// OrchestratorSubmitter адаптирует orchestrator к Submitter.
type OrchestratorSubmitter struct {
	Orchestrator *orchestrator.Orchestrator
}

// Submit реализует Submitter.
func (s OrchestratorSubmitter) Submit(ctx context.Context, g *domain.Graph, inputs map[string]any) (uuid.UUID, error) {
	run, err := s.Orchestrator.Submit(ctx, g, inputs)
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID(), nil
}

// GraphLoader загружает граф по пути к файлу.
type GraphLoader func(path string) (*domain.Graph, error)

// Scheduler — планировщик запусков по расписанию.
type Scheduler struct {
	submitter Submitter
	load      GraphLoader
	baseDir   string
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	schedules []*domain.Schedule
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules []domain.Schedule
	Submitter Submitter

	// Loader — загрузка графа (default: engine.LoadGraphFile).
	Loader GraphLoader

	// BaseDir — каталог, от которого считаются относительные пути workflow.
	BaseDir string

	Metrics *telemetry.Metrics
	Logger  *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Scheduler и вычисляет первое время запуска
// для каждого включённого расписания.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Submitter == nil {
		return nil, ErrNoSubmitter
	}
	if cfg.Loader == nil {
		cfg.Loader = engine.LoadGraphFile
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Scheduler{
		submitter: cfg.Submitter,
		load:      cfg.Loader,
		baseDir:   cfg.BaseDir,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		schedules: make([]*domain.Schedule, 0, len(cfg.Schedules)),
	}

	now := s.now()
	for i := range cfg.Schedules {
		sched := cfg.Schedules[i]
		if sched.IsCron() {
			if err := ValidateCronExpr(sched.CronExpr); err != nil {
				return nil, fmt.Errorf("schedule %s: %w", sched.Name, err)
			}
		}
		if sched.Enabled {
			next, err := CalculateNextDue(&sched, now)
			if err != nil {
				return nil, fmt.Errorf("schedule %s: %w", sched.Name, err)
			}
			sched.NextDueAt = &next
		}
		s.schedules = append(s.schedules, &sched)
	}

	return s, nil
}

// Run вызывает Tick каждые interval до отмены ctx.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "schedules", len(s.schedules), "tick", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick запускает все подошедшие расписания и возвращает число созданных runs.
//
// Ошибка одного расписания не блокирует остальные. Время следующего запуска
// сдвигается и при ошибке, чтобы сломанный workflow не запускался каждый тик.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	due := make([]*domain.Schedule, 0)
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	s.logger.Debug("found due schedules", "count", len(due))

	created := 0
	for _, sched := range due {
		runID, err := s.fire(ctx, sched)
		if err != nil {
			s.metrics.ScheduleFired(sched.Name, "failed")
			s.logger.Error("failed to start scheduled run",
				"schedule", sched.Name,
				"workflow", sched.Workflow,
				"error", err,
			)
		} else {
			s.metrics.ScheduleFired(sched.Name, "submitted")
			created++
		}

		next, err := CalculateNextDue(sched, now)
		if err != nil {
			s.logger.Error("failed to calculate next due, disabling schedule", "schedule", sched.Name, "error", err)
			s.mu.Lock()
			sched.Enabled = false
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		sched.Advance(now, runID, next)
		s.mu.Unlock()
	}

	s.logger.Info("scheduler tick completed", "due", len(due), "runs_created", created)
	return created
}

// fire загружает граф расписания и отдаёт его на выполнение.
func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error) {
	path := sched.Workflow
	if !filepath.IsAbs(path) && s.baseDir != "" {
		path = filepath.Join(s.baseDir, path)
	}

	g, err := s.load(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load workflow: %w", err)
	}

	runID, err := s.submitter.Submit(ctx, g, sched.Inputs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("submit run: %w", err)
	}

	s.logger.Info("created run from schedule",
		"run_id", runID,
		"schedule", sched.Name,
		"workflow", g.Name,
	)
	return runID, nil
}

// Schedules возвращает копию расписаний с текущими NextDueAt/LastRunAt.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Schedule, len(s.schedules))
	for i, sched := range s.schedules {
		result[i] = *sched
	}
	return result
}
