package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — канала сейчас нет: соединение восстанавливается или закрыто.
var ErrNoChannel = errors.New("no amqp channel available")

const (
	firstRetryDelay   = time.Second
	maxRetryDelay     = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// Connection держит одно AMQP соединение с одним каналом и
// восстанавливает их после обрыва. Publisher событий и consumer команд
// одного процесса работают через общий Connection.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once

	// restored получает сигнал после каждого успешного восстановления.
	restored chan struct{}
}

// NewConnection подключается к брокеру по url. name видно в management UI.
func NewConnection(url, name string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:      url,
		name:     name,
		logger:   logger.With("component", "amqp", "connection", name),
		done:     make(chan struct{}),
		restored: make(chan struct{}, 1),
	}

	closed, err := c.dial()
	if err != nil {
		return nil, err
	}
	go c.supervise(closed)
	return c, nil
}

// dial открывает соединение и канал и возвращает канал уведомления о закрытии.
func (c *Connection) dial() (<-chan *amqp.Error, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)

	conn, err := amqp.DialConfig(c.url, amqp.Config{Heartbeat: heartbeatInterval, Properties: props})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	c.logger.Info("connected to RabbitMQ")
	return conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

// supervise ждёт обрыва и переподключается, пока Close не вызван.
func (c *Connection) supervise(closed <-chan *amqp.Error) {
	for {
		select {
		case <-c.done:
			return
		case reason := <-closed:
			if reason != nil {
				c.logger.Warn("connection lost", "error", reason)
			}
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		var ok bool
		if closed, ok = c.redial(); !ok {
			return
		}
		select {
		case c.restored <- struct{}{}:
		default:
		}
	}
}

// redial повторяет dial с растущей задержкой. false — Close вызван раньше.
func (c *Connection) redial() (<-chan *amqp.Error, bool) {
	for delay := firstRetryDelay; ; delay = min(delay*2, maxRetryDelay) {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		closed, err := c.dial()
		if err == nil {
			return closed, true
		}
		c.logger.Warn("reconnect failed", "error", err, "next_delay", min(delay*2, maxRetryDelay))
	}
}

// Channel возвращает текущий канал или nil во время восстановления.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигналит после восстановления соединения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.restored
}

// WithChannel вызывает fn с живым каналом или возвращает ErrNoChannel.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// IsConnected сообщает, открыто ли соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close закрывает канал и соединение. Безопасен для повторного вызова.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.channel != nil && !c.channel.IsClosed() {
			err = errors.Join(err, c.channel.Close())
		}
		if c.conn != nil && !c.conn.IsClosed() {
			err = errors.Join(err, c.conn.Close())
		}
		c.channel = nil
		c.logger.Info("connection closed")
	})
	return err
}
