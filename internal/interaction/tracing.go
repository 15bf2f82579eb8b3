package interaction

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingPort строит OpenTelemetry спаны из событий: один спан на run
// (от первого события до execution-cleanup) и дочерний спан на каждое
// выполнение узла (task-started → task-ended).
type TracingPort struct {
	Nop

	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]runSpan
	tasks map[string]trace.Span
}

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewTracingPort создаёт порт над tracer'ом.
func NewTracingPort(tracer trace.Tracer) *TracingPort {
	return &TracingPort{
		tracer: tracer,
		runs:   make(map[string]runSpan),
		tasks:  make(map[string]trace.Span),
	}
}

// Notify реализует Port.
func (t *TracingPort) Notify(ctx context.Context, ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := t.runSpanLocked(ctx, ev)

	switch ev.Kind {
	case EventTaskStarted:
		_, span := t.tracer.Start(run.ctx, "node "+ev.NodeID,
			trace.WithAttributes(
				attribute.String("interflow.node_id", ev.NodeID),
				attribute.String("interflow.node_kind", string(ev.NodeKind)),
			))
		t.tasks[taskKey(ev)] = span

	case EventTaskEnded:
		key := taskKey(ev)
		span, ok := t.tasks[key]
		if !ok {
			return
		}
		delete(t.tasks, key)
		span.SetAttributes(attribute.String("interflow.node_state", string(ev.NodeState)))
		if ev.Error != "" {
			span.SetStatus(codes.Error, ev.Error)
		}
		span.End()

	case EventExecutionStateChanged, EventSubGraphOpened:
		run.span.AddEvent(string(ev.Kind), trace.WithAttributes(
			attribute.String("interflow.execution_state", string(ev.ExecutionState)),
			attribute.String("interflow.node_id", ev.NodeID),
		))

	case EventExecutionError:
		run.span.AddEvent(string(ev.Kind), trace.WithAttributes(
			attribute.String("interflow.error", ev.Error),
		))

	case EventExecutionCleanup:
		if ev.Failed {
			run.span.SetStatus(codes.Error, "run failed")
		} else {
			run.span.SetStatus(codes.Ok, "")
		}
		run.span.End()
		delete(t.runs, ev.RunID)
	}
}

// runSpanLocked возвращает спан run, создавая его при первом событии.
func (t *TracingPort) runSpanLocked(ctx context.Context, ev Event) runSpan {
	if run, ok := t.runs[ev.RunID]; ok {
		return run
	}
	spanCtx, span := t.tracer.Start(ctx, "run "+ev.Workflow,
		trace.WithAttributes(
			attribute.String("interflow.run_id", ev.RunID),
			attribute.String("interflow.workflow", ev.Workflow),
			attribute.Int("interflow.depth", ev.Depth),
		))
	run := runSpan{ctx: spanCtx, span: span}
	t.runs[ev.RunID] = run
	return run
}

func taskKey(ev Event) string {
	return ev.RunID + "/" + ev.NodeID
}
