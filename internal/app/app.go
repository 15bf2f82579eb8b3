package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/shaiso/Interflow/internal/api"
	"github.com/shaiso/Interflow/internal/config"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/mq"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/provenance"
	"github.com/shaiso/Interflow/internal/repo"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// Options — что поднимать помимо обязательного.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Registerer — куда регистрировать метрики (default: prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer

	// Name — имя процесса для соединения RabbitMQ и трассировки.
	Name string

	// RunStore — подключать историю runs в PostgreSQL (если задан database.url).
	RunStore bool

	// MQ — подключать RabbitMQ (если задан rabbitmq.url).
	MQ bool

	// Tracing — включить трассировку независимо от TRACING_ENABLED.
	Tracing bool
}

// App — собранные зависимости процесса.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Registry *invoker.Registry

	// Provenance — хранилище provenance для чтения (nil при драйвере none).
	Provenance repo.ProvenanceBackend

	// Pool — пул PostgreSQL для истории runs (nil, если отключено).
	Pool *pgxpool.Pool
	Runs *repo.RunRepo

	// Conn — соединение RabbitMQ (nil, если отключено или недоступно).
	Conn *mq.Connection

	recorder provenance.Recorder
	port     interaction.Port
	tracer   *sdktrace.TracerProvider
	closers  []func()
}

// New собирает App. При ошибке уже открытые ресурсы закрываются.
//
// Недоступный RabbitMQ не считается ошибкой: процесс работает без шины
// событий и очереди команд. Недоступные PostgreSQL и хранилище
// provenance — ошибка.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "interflow"
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  telemetry.NewMetrics(opts.Registerer),
		Registry: invoker.DefaultRegistry(),
	}

	if err := a.openProvenance(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if opts.RunStore && cfg.Database.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := repo.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.Pool = pool
		a.Runs = repo.NewRunRepo(pool)
		logger.Info("connected to database")
	}

	ports := interaction.Multi{interaction.NewLogPort(logger)}

	if opts.Tracing || telemetry.TracingEnabled() {
		tp := telemetry.NewTracerProvider(logger)
		otel.SetTracerProvider(tp)
		a.tracer = tp
		ports = append(ports, interaction.NewTracingPort(tp.Tracer(name)))
		logger.Info("tracing enabled")
	}

	if opts.MQ && cfg.RabbitMQ.URL != "" {
		if port := a.connectMQ(ctx, name); port != nil {
			ports = append(ports, port)
		}
	}

	a.port = ports
	return a, nil
}

func (a *App) openProvenance(ctx context.Context) error {
	pc := a.Config.Provenance
	if pc.Driver == config.ProvenanceNone {
		a.recorder = provenance.Nop{}
		return nil
	}

	dsn := pc.DSN
	if dsn == "" && pc.Driver == config.ProvenancePostgres {
		dsn = a.Config.Database.URL
	}

	store, closeStore, err := repo.OpenProvenance(ctx, pc.Driver, dsn)
	if err != nil {
		return fmt.Errorf("open provenance: %w", err)
	}

	recorder := provenance.NewAsyncRecorder(store, provenance.Config{
		QueueSize: pc.QueueSize,
		OnDrop:    a.Metrics.ProvenanceDropped,
		Logger:    a.Logger,
	})
	a.Provenance = store
	a.recorder = recorder
	// Recorder сбрасывает очередь до закрытия хранилища.
	a.closers = append(a.closers, closeStore, func() {
		if err := recorder.Close(context.Background()); err != nil {
			a.Logger.Warn("provenance flush incomplete", "error", err)
		}
	})

	a.Logger.Info("provenance enabled", "driver", pc.Driver)
	return nil
}

func (a *App) connectMQ(ctx context.Context, name string) interaction.Port {
	conn, err := mq.NewConnection(a.Config.RabbitMQ.URL, name, a.Logger)
	if err != nil {
		a.Logger.Warn("rabbitmq unavailable, continuing without event bus", "error", err)
		return nil
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.Logger.Warn("failed to setup rabbitmq topology", "error", err)
		conn.Close()
		return nil
	}

	a.Conn = conn
	a.closers = append(a.closers, func() { conn.Close() })
	a.Logger.Info("connected to rabbitmq")
	a.Logger.Debug(mq.TopologyInfo())
	return interaction.NewMQPort(mq.NewPublisher(conn, a.Logger), a.Logger)
}

// Interpreter возвращает шаблон конфигурации интерпретатора.
func (a *App) Interpreter() interpreter.Config {
	cfg := a.Config.ApplyInterpreter(interpreter.Config{
		Registry: a.Registry,
		Port:     a.port,
		Recorder: a.recorder,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	})
	if cfg.Credentials != nil {
		cfg.Provisioner = interpreter.NewHTTPProvisioner(*cfg.Credentials, nil)
	}
	return cfg
}

// Orchestrator создаёт orchestrator над зависимостями App.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	cfg := orchestrator.Config{
		Interpreter: a.Interpreter(),
		Conn:        a.Conn,
		Logger:      a.Logger,
	}
	// Nil *RunRepo в интерфейсе не равен nil.
	if a.Runs != nil {
		cfg.Runs = a.Runs
	}
	return orchestrator.New(cfg)
}

// APIHandler создаёт HTTP handler над orchestrator.
func (a *App) APIHandler(orch *orchestrator.Orchestrator) *api.Handler {
	cfg := api.Config{
		Orchestrator: orch,
		Registry:     a.Registry,
		Logger:       a.Logger,
	}
	if a.Runs != nil {
		cfg.History = a.Runs
	}
	if a.Provenance != nil {
		cfg.Provenance = a.Provenance
	}
	return api.NewHandler(cfg)
}

// Close освобождает ресурсы в обратном порядке открытия.
func (a *App) Close() {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.Logger.Warn("tracer shutdown failed", "error", err)
		}
		a.tracer = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
