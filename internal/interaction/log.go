package interaction

import (
	"context"
	"log/slog"
)

// LogPort пишет события в slog. Порт по умолчанию для headless запусков.
type LogPort struct {
	Nop

	logger *slog.Logger
}

// NewLogPort создаёт порт над логгером (nil — slog.Default()).
func NewLogPort(logger *slog.Logger) *LogPort {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPort{logger: logger}
}

// Notify реализует Port.
func (l *LogPort) Notify(ctx context.Context, ev Event) {
	attrs := []any{"event", ev.Kind, "run_id", ev.RunID}
	if ev.Depth > 0 {
		attrs = append(attrs, "depth", ev.Depth)
	}
	if ev.NodeID != "" {
		attrs = append(attrs, "node_id", ev.NodeID, "node_kind", ev.NodeKind)
	}
	if ev.NodeState != "" {
		attrs = append(attrs, "node_state", ev.NodeState)
	}
	if ev.ExecutionState != "" {
		attrs = append(attrs, "execution_state", ev.ExecutionState)
	}
	if ev.Value != nil {
		attrs = append(attrs, "value", ev.Value)
	}

	switch ev.Kind {
	case EventExecutionError:
		l.logger.ErrorContext(ctx, "execution error", append(attrs, "error", ev.Error)...)
	case EventExecutionCleanup:
		l.logger.InfoContext(ctx, "run finished", append(attrs, "failed", ev.Failed)...)
	case EventExecutionStateChanged, EventSubGraphOpened:
		l.logger.InfoContext(ctx, "interpreter event", attrs...)
	default:
		if ev.Error != "" {
			attrs = append(attrs, "error", ev.Error)
		}
		l.logger.DebugContext(ctx, "interpreter event", attrs...)
	}
}
