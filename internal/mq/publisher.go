package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип конверта; дублируется в свойстве type AMQP сообщения.
type MessageType string

const (
	MessageTypeEvent   MessageType = "interaction.event"
	MessageTypeControl MessageType = "control.command"
)

// Message — JSON конверт всех сообщений Interflow.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(t MessageType, payload any) *Message {
	return &Message{ID: uuid.NewString(), Type: t, Payload: payload, Timestamp: time.Now()}
}

// EventPayload — событие Interaction Port для шины.
type EventPayload struct {
	Kind           string `json:"kind"`
	RunID          string `json:"run_id"`
	Workflow       string `json:"workflow,omitempty"`
	Depth          int    `json:"depth"`
	NodeID         string `json:"node_id,omitempty"`
	NodeKind       string `json:"node_kind,omitempty"`
	NodeState      string `json:"node_state,omitempty"`
	ExecutionState string `json:"execution_state,omitempty"`
	Value          any    `json:"value,omitempty"`
	Failed         bool   `json:"failed,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ControlPayload — команда pause, resume, step или stop для run.
type ControlPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	Command string    `json:"command"`
}

// Publisher отправляет конверты в обменники Interflow.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger.With("component", "publisher")}
}

// Publish отправляет msg. persistent=true переживает рестарт брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message, persistent bool) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Type:         string(msg.Type),
		Body:         body,
	}
	if persistent {
		pub.DeliveryMode = amqp.Persistent
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// mandatory и immediate выключены: событие без подписчиков просто теряется.
		return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, pub)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", key, exchange, err)
	}

	p.logger.Debug("message published", "exchange", exchange, "routing_key", key, "message_id", msg.ID)
	return nil
}

// PublishEvent отправляет событие с ключом, равным его виду
// (task-started, node-state-changed, ...), чтобы подписчик мог выбрать нужные.
func (p *Publisher) PublishEvent(ctx context.Context, payload EventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKey(payload.Kind), newMessage(MessageTypeEvent, payload), false)
}
