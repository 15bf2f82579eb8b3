package interpreter

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/provenance"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultPausePollInterval = 400 * time.Millisecond
	DefaultDryTickInterval   = 50 * time.Millisecond
	DefaultMaxIterations     = 100
	DefaultMaxDepth          = 16
)

// Config — конфигурация интерпретатора.
//
// Один Config на run. Вложенные SubGraph run получают копию с тем же
// Control, Port и Recorder.
type Config struct {
	// Registry — фабрики invoker'ов по имени сервиса.
	// По умолчанию invoker.DefaultRegistry().
	Registry *invoker.Registry

	// Port — получатель событий. По умолчанию LogPort.
	Port interaction.Port

	// Recorder — запись provenance. По умолчанию ничего не пишет.
	Recorder provenance.Recorder

	// Metrics — Prometheus метрики (может быть nil).
	Metrics *telemetry.Metrics

	Logger *slog.Logger

	// RunID — идентификатор run. Нулевой означает "сгенерировать".
	// Вложенные run всегда получают собственный.
	RunID uuid.UUID

	// Control — флаг выполнения. По умолчанию создаётся новый.
	Control *Control

	// Provisioner и Credentials нужны графам с LIFECYCLE узлами.
	Provisioner Provisioner
	Credentials *Credentials

	// CrossProduct — ForEach над несколькими списками берёт декартово
	// произведение вместо поэлементного объединения.
	CrossProduct bool

	Retry RetryPolicy

	PausePollInterval time.Duration
	DryTickInterval   time.Duration

	// MaxIterations ограничивает число итераций DoWhile.
	MaxIterations int

	// MaxDepth ограничивает вложенность SubGraph.
	MaxDepth int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	if c.Registry == nil {
		c.Registry = invoker.DefaultRegistry()
	}
	if c.Port == nil {
		c.Port = interaction.NewLogPort(c.Logger)
	}
	if c.Recorder == nil {
		c.Recorder = provenance.Nop{}
	}
	if c.Control == nil {
		c.Control = NewControl()
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = DefaultPausePollInterval
	}
	if c.DryTickInterval <= 0 {
		c.DryTickInterval = DefaultDryTickInterval
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	c.Retry.applyDefaults()
}
