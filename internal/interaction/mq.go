package interaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Interflow/internal/mq"
)

// EventPublisher публикует события во внешнюю шину. Реализуется mq.Publisher.
type EventPublisher interface {
	PublishEvent(ctx context.Context, payload mq.EventPayload) error
}

// MQPort публикует события в RabbitMQ exchange interflow.events.
// Ошибки публикации логируются и не влияют на run.
type MQPort struct {
	Nop

	publisher EventPublisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewMQPort создаёт порт над publisher'ом.
func NewMQPort(publisher EventPublisher, logger *slog.Logger) *MQPort {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQPort{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Notify реализует Port.
func (m *MQPort) Notify(ctx context.Context, ev Event) {
	// Событие cleanup публикуется и после отмены ctx run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.publisher.PublishEvent(ctx, ToPayload(ev)); err != nil {
		m.logger.Warn("failed to publish event",
			"event", ev.Kind,
			"run_id", ev.RunID,
			"error", err,
		)
	}
}

// ToPayload переводит событие в сообщение шины.
func ToPayload(ev Event) mq.EventPayload {
	return mq.EventPayload{
		Kind:           string(ev.Kind),
		RunID:          ev.RunID,
		Workflow:       ev.Workflow,
		Depth:          ev.Depth,
		NodeID:         ev.NodeID,
		NodeKind:       string(ev.NodeKind),
		NodeState:      string(ev.NodeState),
		ExecutionState: string(ev.ExecutionState),
		Value:          ev.Value,
		Failed:         ev.Failed,
		Error:          ev.Error,
	}
}
