package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interpreter"
)

// EnvConfigPath — переменная с путём к файлу конфигурации.
const EnvConfigPath = "INTERFLOW_CONFIG"

// Драйверы provenance.
const (
	ProvenanceNone     = "none"
	ProvenanceMemory   = "memory"
	ProvenancePostgres = "postgres"
	ProvenanceSQLite   = "sqlite"
	ProvenanceMySQL    = "mysql"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация процесса.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Provenance  ProvenanceConfig  `yaml:"provenance"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// APIConfig — HTTP сервер.
type APIConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig — PostgreSQL для истории runs.
// Пустой URL отключает сохранение runs.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RabbitMQConfig — шина событий и очередь команд.
// Пустой URL отключает RabbitMQ.
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// ProvenanceConfig — хранилище provenance.
type ProvenanceConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// QueueSize — буфер асинхронной записи.
	QueueSize int `yaml:"queue_size"`
}

// LifecycleConfig — доступ к провайдеру ресурсов LIFECYCLE узлов.
type LifecycleConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// InterpreterConfig — параметры выполнения графов.
type InterpreterConfig struct {
	CrossProduct      bool          `yaml:"cross_product"`
	MaxIterations     int           `yaml:"max_iterations"`
	MaxDepth          int           `yaml:"max_depth"`
	PausePollInterval time.Duration `yaml:"pause_poll_interval"`

	// Retry — повтор вызовов invoker'ов.
	Retry interpreter.RetryPolicy `yaml:"retry"`
}

// SchedulerConfig — запуски по расписанию.
type SchedulerConfig struct {
	TickInterval time.Duration    `yaml:"tick_interval"`
	Schedules    []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig — расписание в файле конфигурации.
type ScheduleConfig struct {
	Name        string         `yaml:"name"`
	Workflow    string         `yaml:"workflow"`
	Cron        string         `yaml:"cron"`
	IntervalSec int            `yaml:"interval_sec"`
	Timezone    string         `yaml:"timezone"`
	Inputs      map[string]any `yaml:"inputs"`

	// Enabled — по умолчанию true.
	Enabled *bool `yaml:"enabled"`
}

// Schedule конвертирует запись конфигурации в domain.Schedule.
func (s ScheduleConfig) Schedule() domain.Schedule {
	enabled := s.Enabled == nil || *s.Enabled
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return domain.Schedule{
		Name:        s.Name,
		Workflow:    s.Workflow,
		CronExpr:    s.Cron,
		IntervalSec: s.IntervalSec,
		Timezone:    tz,
		Enabled:     enabled,
		Inputs:      s.Inputs,
	}
}

// Schedules возвращает расписания в виде domain.Schedule.
func (c *Config) Schedules() []domain.Schedule {
	result := make([]domain.Schedule, len(c.Scheduler.Schedules))
	for i, s := range c.Scheduler.Schedules {
		result[i] = s.Schedule()
	}
	return result
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		API:        APIConfig{Port: "8080"},
		Provenance: ProvenanceConfig{Driver: ProvenanceMemory},
		Scheduler:  SchedulerConfig{TickInterval: time.Second},
	}
}

// Load читает конфигурацию из файла и окружения.
// Пустой path берётся из INTERFLOW_CONFIG; если и он пуст, файл не читается.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse разбирает YAML без чтения окружения. Используется в тестах
// и для конфигураций, переданных не файлом.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// applyEnv применяет переменные окружения поверх файла.
func (c *Config) applyEnv() error {
	setString(&c.Database.URL, "DB_URL")
	setString(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.Provenance.Driver, "PROVENANCE_DRIVER")
	setString(&c.Provenance.DSN, "PROVENANCE_DSN")
	setString(&c.Lifecycle.AccessKey, "LIFECYCLE_ACCESS_KEY")
	setString(&c.Lifecycle.SecretKey, "LIFECYCLE_SECRET_KEY")
	setString(&c.Lifecycle.Endpoint, "LIFECYCLE_ENDPOINT")
	setString(&c.API.Port, "API_PORT")

	if v := os.Getenv("CROSS_PRODUCT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: CROSS_PRODUCT=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Interpreter.CrossProduct = b
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	switch c.Provenance.Driver {
	case ProvenanceNone, ProvenanceMemory, ProvenancePostgres, ProvenanceSQLite, ProvenanceMySQL:
	default:
		return fmt.Errorf("%w: unknown provenance driver %q", ErrInvalidConfig, c.Provenance.Driver)
	}

	switch c.Interpreter.Retry.Backoff {
	case "", "exponential", "fixed":
	default:
		return fmt.Errorf("%w: unknown retry backoff %q", ErrInvalidConfig, c.Interpreter.Retry.Backoff)
	}

	seen := make(map[string]bool, len(c.Scheduler.Schedules))
	for i, sc := range c.Scheduler.Schedules {
		s := sc.Schedule()
		if s.Name == "" {
			return fmt.Errorf("%w: schedule #%d has no name", ErrInvalidConfig, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate schedule %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = true
		if s.Workflow == "" {
			return fmt.Errorf("%w: schedule %q has no workflow", ErrInvalidConfig, s.Name)
		}
		if !s.IsCron() && !s.IsInterval() {
			return fmt.Errorf("%w: schedule %q has neither cron nor interval_sec", ErrInvalidConfig, s.Name)
		}
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, s.Name, err)
		}
	}
	return nil
}

// Credentials возвращает ключи провайдера ресурсов или nil, если они не заданы.
func (c *Config) Credentials() *interpreter.Credentials {
	creds := &interpreter.Credentials{
		AccessKey: c.Lifecycle.AccessKey,
		SecretKey: c.Lifecycle.SecretKey,
		Endpoint:  c.Lifecycle.Endpoint,
	}
	if !creds.Valid() {
		return nil
	}
	return creds
}

// ApplyInterpreter заполняет параметры выполнения в cfg.
// Registry, Port, Recorder и Provisioner задаёт вызывающий.
func (c *Config) ApplyInterpreter(cfg interpreter.Config) interpreter.Config {
	cfg.CrossProduct = c.Interpreter.CrossProduct
	cfg.MaxIterations = c.Interpreter.MaxIterations
	cfg.MaxDepth = c.Interpreter.MaxDepth
	cfg.PausePollInterval = c.Interpreter.PausePollInterval
	cfg.Retry = c.Interpreter.Retry
	if creds := c.Credentials(); creds != nil {
		cfg.Credentials = creds
	}
	return cfg
}
