package provenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// Config — настройки AsyncRecorder.
type Config struct {
	// QueueSize — ёмкость очереди записей. Default: 1024.
	QueueSize int

	// WriteTimeout — таймаут одной записи в Store. Default: 5s.
	WriteTimeout time.Duration

	// OnDrop вызывается, когда запись отброшена из-за переполнения очереди.
	OnDrop func()

	Logger *slog.Logger
}

// task — элемент очереди: запись значения или статуса.
type task struct {
	record *Record
	runID  string
	status domain.RunStatus
}

// AsyncRecorder пишет provenance в Store из одной фоновой горутины.
//
// Очередь ограничена: при переполнении запись отбрасывается и логируется,
// вызывающий никогда не ждёт. Ошибки Store логируются и проглатываются.
type AsyncRecorder struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	queue chan task
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder создаёт recorder и запускает фоновую горутину.
func NewAsyncRecorder(store Store, cfg Config) *AsyncRecorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &AsyncRecorder{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "provenance"),
		queue:  make(chan task, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// RecordInput реализует Recorder.
func (r *AsyncRecorder) RecordInput(runID, nodeID string, value any) {
	r.enqueue(task{record: &Record{RunID: runID, NodeID: nodeID, Kind: RecordInput, Value: value, RecordedAt: time.Now()}})
}

// RecordOutput реализует Recorder.
func (r *AsyncRecorder) RecordOutput(runID, nodeID string, value any) {
	r.enqueue(task{record: &Record{RunID: runID, NodeID: nodeID, Kind: RecordOutput, Value: value, RecordedAt: time.Now()}})
}

// SetStatus реализует Recorder.
func (r *AsyncRecorder) SetStatus(runID string, status domain.RunStatus) {
	r.enqueue(task{runID: runID, status: status})
}

func (r *AsyncRecorder) enqueue(t task) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("record after close dropped", "error", ErrClosed)
		return
	}

	select {
	case r.queue <- t:
	default:
		r.logger.Warn("provenance queue full, record dropped", "queue_size", r.cfg.QueueSize)
		if r.cfg.OnDrop != nil {
			r.cfg.OnDrop()
		}
	}
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)
	for t := range r.queue {
		r.write(t)
	}
}

func (r *AsyncRecorder) write(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if t.record != nil {
		if err := r.store.SaveRecord(ctx, *t.record); err != nil {
			r.logger.Warn("failed to save provenance record",
				"run_id", t.record.RunID,
				"node_id", t.record.NodeID,
				"kind", t.record.Kind,
				"error", err,
			)
		}
		return
	}

	if err := r.store.SaveStatus(ctx, t.runID, t.status); err != nil {
		r.logger.Warn("failed to save run status", "run_id", t.runID, "status", t.status, "error", err)
	}
}

// Close перестаёт принимать записи и ждёт, пока очередь будет записана
// (или пока не отменён ctx).
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
