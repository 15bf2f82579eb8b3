package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Interflow/internal/app"
	"github.com/shaiso/Interflow/internal/config"
	"github.com/shaiso/Interflow/internal/scheduler"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// schedLockKey — ключ advisory lock: тикает только один экземпляр.
const schedLockKey int64 = 424242

func main() {
	configPath := flag.String("config", "", "config file (default: $INTERFLOW_CONFIG)")
	flag.Parse()

	logger := telemetry.SetupLogger()
	logger.Info("starting interflow-scheduler")

	path := *configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, app.Options{
		Config:   cfg,
		Logger:   logger,
		Name:     "interflow-scheduler",
		RunStore: true,
		MQ:       true,
	})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	orch := a.Orchestrator()
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Stop()

	// Пути workflow в расписаниях считаются от каталога конфигурации.
	baseDir := ""
	if path != "" {
		baseDir = filepath.Dir(path)
	}

	sched, err := scheduler.New(scheduler.Config{
		Schedules: cfg.Schedules(),
		Submitter: scheduler.OrchestratorSubmitter{Orchestrator: orch},
		BaseDir:   baseDir,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("invalid schedules", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	if a.Pool == nil {
		sched.Run(ctx, cfg.Scheduler.TickInterval)
	} else {
		runAsLeader(ctx, a.Pool, sched, cfg.Scheduler.TickInterval, a.Logger)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("stopped")
}

// runAsLeader тикает расписания, только пока держит advisory lock.
// Lock живёт на одном соединении пула, поэтому соединение берётся
// на всё время работы.
func runAsLeader(ctx context.Context, pool *pgxpool.Pool, sched *scheduler.Scheduler, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("acquire lock connection", "error", err)
		return
	}
	defer conn.Release()

	var hasLock bool
	defer func() {
		if hasLock {
			_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		}
	}()

	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			// пытаемся стать лидером
			if !hasLock {
				var ok bool
				if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
					logger.Error("lock error", "error", err)
					continue
				}
				if !ok {
					// не лидер, пропускаем тик
					continue
				}
				hasLock = true
				logger.Info("acquired scheduler leadership")
			}
			sched.Tick(ctx)

		case <-ctx.Done():
			return
		}
	}
}
