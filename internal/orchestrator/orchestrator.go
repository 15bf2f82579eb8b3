package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/mq"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultRetain        = 100
	defaultShutdownGrace = 30 * time.Second
)

// RunStore — хранилище runs. Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
}

// Orchestrator управляет выполнением runs.
//
// Каждый Submit создаёт интерпретатор с собственным Control и запускает
// его в фоне. Команды управления приходят через Command (HTTP API)
// и из очереди control.commands (если задано соединение RabbitMQ).
type Orchestrator struct {
	interp interpreter.Config
	store  RunStore

	// MQ
	conn            *mq.Connection
	controlConsumer *mq.Consumer

	// runs — реестр (runID → run), order — порядок добавления
	runs  map[uuid.UUID]*ActiveRun
	order []uuid.UUID
	mu    sync.RWMutex

	retain int
	grace  time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	runsWG     sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Interpreter — шаблон конфигурации интерпретатора. RunID и Control
	// заполняются для каждого run.
	Interpreter interpreter.Config

	// Runs — хранилище runs (может быть nil).
	Runs RunStore

	// Conn — соединение RabbitMQ для очереди команд (может быть nil).
	Conn *mq.Connection

	// Retain — сколько завершённых runs держать в реестре (default: 100).
	Retain int

	// ShutdownGrace — сколько Stop ждёт узлы в работе, прежде чем
	// отменить их контекст (default: 30s).
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	if cfg.Interpreter.Logger == nil {
		cfg.Interpreter.Logger = logger
	}

	return &Orchestrator{
		interp: cfg.Interpreter,
		store:  cfg.Runs,
		conn:   cfg.Conn,
		runs:   make(map[uuid.UUID]*ActiveRun),
		retain: retain,
		grace:  grace,
		logger: logger,
	}
}

// Start запускает consumer команд управления, если задано соединение.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.conn == nil {
		o.logger.Info("orchestrator started without control queue")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.controlConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueControlCommands),
		Handler:  o.handleControl,
		Prefetch: 10,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.controlConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("control consumer error", "error", err)
		}
	}()

	o.logger.Info("orchestrator started", "queue", mq.QueueControlCommands)
	return nil
}

// Stop останавливает приём команд и все активные runs,
// затем ждёт их завершения.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.controlConsumer != nil {
		o.controlConsumer.Stop()
	}
	o.wg.Wait()

	runs := o.snapshotRuns()
	active := 0
	for _, run := range runs {
		if run.IsFinished() {
			continue
		}
		active++
		if err := run.Control().Stop(); err != nil {
			// Run ещё не начал цикл: отменяем контекст.
			run.cancel()
		}
	}

	// Stop не прерывает узлы в работе. Ждём их grace, затем отменяем.
	done := make(chan struct{})
	go func() {
		o.runsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.grace):
		o.logger.Warn("runs did not stop in time, cancelling", "grace", o.grace)
		for _, run := range runs {
			run.cancel()
		}
		<-done
	}

	o.logger.Info("orchestrator stopped", "stopped_runs", active)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Submit создаёт run для графа и запускает его в фоне.
//
// Ошибки валидации графа и конфигурации возвращаются сразу.
// Run живёт дольше ctx запроса: отменить его можно только командой stop.
func (o *Orchestrator) Submit(ctx context.Context, g *domain.Graph, inputs map[string]any) (*ActiveRun, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}

	run := domain.NewRun(g.Name, inputs)

	cfg := o.interp
	cfg.RunID = run.ID
	cfg.Control = interpreter.NewControl()
	interp, err := interpreter.New(g, cfg)
	if err != nil {
		return nil, err
	}

	// Stop не начнёт ждать runsWG, пока run не зарегистрирован.
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	if o.stopped {
		return nil, ErrOrchestratorStopped
	}

	run.MarkRunning()
	if o.store != nil {
		if err := o.store.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := newActiveRun(run, interp, cancel)
	if err := o.add(active); err != nil {
		cancel()
		return nil, err
	}

	o.runsWG.Add(1)
	go o.execute(runCtx, active, inputs)

	o.logger.Info("run submitted", "run_id", run.ID, "workflow", run.Workflow)
	return active, nil
}

// execute выполняет run и сохраняет итог.
func (o *Orchestrator) execute(ctx context.Context, active *ActiveRun, inputs map[string]any) {
	defer o.runsWG.Done()
	defer active.cancel()

	logger := telemetry.WithRunID(o.logger, active.ID().String())

	res, err := active.interp.Run(ctx, inputs)
	active.finish(res, err)

	run := active.snapshot()
	if o.store != nil {
		if err := o.store.Update(context.WithoutCancel(ctx), &run); err != nil {
			logger.Error("failed to save run", "error", err)
		}
	}

	close(active.done)
	logger.Info("run finished", "status", run.Status, "duration", run.Duration())
	o.prune()
}

// Get возвращает run по ID.
func (o *Orchestrator) Get(id uuid.UUID) (*ActiveRun, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	run, ok := o.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List возвращает снимки runs, новые первыми.
func (o *Orchestrator) List() []RunView {
	runs := o.snapshotRuns()
	views := make([]RunView, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		views = append(views, runs[i].View())
	}
	return views
}

// Command применяет команду управления (pause, resume, step, stop) к run.
func (o *Orchestrator) Command(id uuid.UUID, command string) error {
	run, err := o.Get(id)
	if err != nil {
		return err
	}
	if run.IsFinished() {
		return fmt.Errorf("%w: %s", ErrRunNotActive, id)
	}
	if err := run.Control().Apply(command); err != nil {
		return err
	}

	o.logger.Info("run command applied", "run_id", id, "command", command)
	return nil
}

// ActiveRunsCount возвращает количество выполняющихся runs.
func (o *Orchestrator) ActiveRunsCount() int {
	count := 0
	for _, run := range o.snapshotRuns() {
		if !run.IsFinished() {
			count++
		}
	}
	return count
}

func (o *Orchestrator) add(run *ActiveRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.runs[run.ID()]; exists {
		return ErrRunAlreadyActive
	}
	o.runs[run.ID()] = run
	o.order = append(o.order, run.ID())
	return nil
}

// prune вытесняет самые старые завершённые runs сверх лимита.
func (o *Orchestrator) prune() {
	o.mu.Lock()
	defer o.mu.Unlock()

	finished := 0
	for _, id := range o.order {
		if o.runs[id].IsFinished() {
			finished++
		}
	}

	kept := o.order[:0]
	for _, id := range o.order {
		if finished > o.retain && o.runs[id].IsFinished() {
			delete(o.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
}

func (o *Orchestrator) snapshotRuns() []*ActiveRun {
	o.mu.RLock()
	defer o.mu.RUnlock()

	runs := make([]*ActiveRun, 0, len(o.order))
	for _, id := range o.order {
		runs = append(runs, o.runs[id])
	}
	return runs
}
