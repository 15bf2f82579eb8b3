package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	// ExchangeEvents — события Interaction Port, ключ = вид события.
	ExchangeEvents Exchange = "interflow.events"

	// ExchangeControl — команды pause/resume/step/stop для запущенных run.
	ExchangeControl Exchange = "interflow.control"

	// ExchangeDLQ — команды, которые никто не смог применить.
	ExchangeDLQ Exchange = "interflow.dlq"
)

const (
	QueueEventsAudit     Queue = "events.audit"
	QueueControlCommands Queue = "control.commands"
	QueueDLQControl      Queue = "dlq.control"
)

const (
	RoutingKeyAllEvents RoutingKey = "#"
	RoutingKeyCommand   RoutingKey = "command"
	RoutingKeyDLQ       RoutingKey = "control"
)

// auditQueueLimit — после этого старые события вытесняются из events.audit.
const auditQueueLimit int32 = 100000

// route — очередь, её аргументы и привязка к обменнику.
type route struct {
	exchange Exchange
	kind     string
	queue    Queue
	key      RoutingKey
	args     amqp.Table
	reader   string
}

// routes — вся топология Interflow. Каждый обменник встречается ровно один раз.
var routes = []route{
	{
		exchange: ExchangeEvents,
		kind:     amqp.ExchangeTopic,
		queue:    QueueEventsAudit,
		key:      RoutingKeyAllEvents,
		args:     amqp.Table{"x-max-length": auditQueueLimit},
		reader:   "external observers",
	},
	{
		exchange: ExchangeControl,
		kind:     amqp.ExchangeDirect,
		queue:    QueueControlCommands,
		key:      RoutingKeyCommand,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQ),
		},
		reader: "interflow-api orchestrator",
	},
	{
		exchange: ExchangeDLQ,
		kind:     amqp.ExchangeDirect,
		queue:    QueueDLQControl,
		key:      RoutingKeyDLQ,
		reader:   "manual processing",
	},
}

// SetupTopology объявляет обменники, очереди и привязки.
// Повторный вызов с той же топологией ничего не меняет.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, r := range routes {
			if err := r.declare(ch); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r route) declare(ch *amqp.Channel) error {
	// durable, без auto-delete, не internal
	if err := ch.ExchangeDeclare(string(r.exchange), r.kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	if _, err := ch.QueueDeclare(string(r.queue), true, false, false, false, r.args); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(string(r.queue), string(r.key), string(r.exchange), false, nil); err != nil {
		return fmt.Errorf("bind %s -> %s: %w", r.exchange, r.queue, err)
	}
	return nil
}

// TopologyInfo описывает топологию для лога при старте.
func TopologyInfo() string {
	var b strings.Builder
	b.WriteString("Interflow RabbitMQ topology:\n")
	for _, r := range routes {
		fmt.Fprintf(&b, "  %s (%s) -[%s]-> %s, read by %s", r.exchange, r.kind, r.key, r.queue, r.reader)
		if dlx, ok := r.args["x-dead-letter-exchange"]; ok {
			fmt.Fprintf(&b, ", dead letters to %v", dlx)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
