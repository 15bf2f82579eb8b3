package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent помечает сообщение, которое не обработать и повтором
// (битый payload, run из другого процесса). Такое сообщение уходит в DLQ.
var ErrPermanent = errors.New("permanent message failure")

// Handler обрабатывает одно сообщение. nil — ack; ошибка с ErrPermanent —
// в DLQ; любая другая — назад в очередь (один раз, см. settle).
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message

	// Redelivered — сообщение уже возвращалось в очередь.
	Redelivered bool
}

// outcome — что сделать с сообщением после обработчика.
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// settle выбирает исход по ошибке обработчика. Повторно доставленное
// сообщение с временной ошибкой больше не возвращается: иначе команда
// к зависшему run крутилась бы в очереди бесконечно.
func settle(err error, redelivered bool) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrPermanent), redelivered:
		return outcomeDeadLetter
	default:
		return outcomeRequeue
	}
}

// Consumer читает очередь и переживает reconnect соединения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer. Чтение начинается в Start.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("component", "consumer", "queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
	}
}

// Start читает очередь до отмены ctx или Stop. Потеря канала не
// завершает Start: consumer ждёт reconnect и подписывается заново.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer subscribed")
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer lost channel, waiting for reconnect")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// Stop прекращает чтение очереди.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// autoAck=false: подтверждаем после обработчика.
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал открыт и ctx жив.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.process(ctx, raw)
		}
	}
}

func (c *Consumer) process(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "body", string(raw.Body))
		c.apply(raw, outcomeDeadLetter)
		return
	}

	err := c.handler(ctx, &Delivery{Message: msg, Redelivered: raw.Redelivered})
	result := settle(err, raw.Redelivered)
	if err != nil {
		c.logger.Error("message handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"outcome", result,
			"error", err,
		)
	} else {
		c.logger.Debug("message handled", "message_id", msg.ID, "type", msg.Type)
	}
	c.apply(raw, result)
}

func (c *Consumer) apply(raw amqp.Delivery, result outcome) {
	var err error
	switch result {
	case outcomeAck:
		err = raw.Ack(false)
	case outcomeRequeue:
		err = raw.Nack(false, true)
	default:
		// Очередь объявлена с x-dead-letter-exchange: reject без requeue = DLQ.
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "outcome", result, "error", err)
	}
}

// ParsePayload декодирует Payload конверта в T.
//
// После доставки Payload — это map[string]any из JSON; до отправки —
// исходная структура. Оба случая проходят через повторный JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, ok := msg.Payload.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(msg.Payload); err != nil {
			return result, fmt.Errorf("encode payload: %w", err)
		}
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return result, nil
}
