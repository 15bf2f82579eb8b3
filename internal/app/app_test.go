package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/Interflow/internal/config"
	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/provenance"
)

const doublerDoc = `
name: doubler
nodes:
  - {id: x, kind: INPUT, value: 5}
  - {id: dbl, kind: SERVICE, service: func, operation: double, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: dbl.in}
  - {from: dbl.out, to: result}
`

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	t.Setenv("TRACING_ENABLED", "")

	a, err := New(context.Background(), Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
		RunStore:   true,
		MQ:         true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// --- Bootstrap Tests ---

func TestNew_Defaults(t *testing.T) {
	a := newTestApp(t, nil)

	if a.Provenance == nil {
		t.Error("memory provenance should be enabled by default")
	}
	if a.Runs != nil || a.Pool != nil {
		t.Error("run store should be disabled without database url")
	}
	if a.Conn != nil {
		t.Error("rabbitmq should be disabled without url")
	}

	icfg := a.Interpreter()
	if icfg.Registry != a.Registry || icfg.Metrics != a.Metrics {
		t.Error("interpreter config should share app registry and metrics")
	}
	if _, ok := icfg.Recorder.(*provenance.AsyncRecorder); !ok {
		t.Errorf("expected async recorder, got %T", icfg.Recorder)
	}
	if icfg.Provisioner != nil {
		t.Error("provisioner should be nil without credentials")
	}
}

func TestNew_ProvenanceNone(t *testing.T) {
	cfg := config.Default()
	cfg.Provenance.Driver = config.ProvenanceNone
	a := newTestApp(t, cfg)

	if a.Provenance != nil {
		t.Error("provenance reader should be nil for driver none")
	}
	if _, ok := a.Interpreter().Recorder.(provenance.Nop); !ok {
		t.Errorf("expected Nop recorder, got %T", a.Interpreter().Recorder)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Provenance.Driver = "cassandra"

	_, err := New(context.Background(), Options{
		Config:     cfg,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
	})
	if err == nil {
		t.Fatal("expected error for unknown provenance driver")
	}
}

func TestInterpreter_Credentials(t *testing.T) {
	cfg := config.Default()
	cfg.Lifecycle = config.LifecycleConfig{AccessKey: "ak", SecretKey: "sk", Endpoint: "http://provider"}
	cfg.Interpreter.CrossProduct = true
	a := newTestApp(t, cfg)

	icfg := a.Interpreter()
	if icfg.Provisioner == nil || icfg.Credentials == nil {
		t.Fatal("expected provisioner with credentials")
	}
	if !icfg.CrossProduct {
		t.Error("expected cross product from config")
	}
}

// --- Orchestrator Tests ---

func TestOrchestrator_RecordsProvenance(t *testing.T) {
	cfg := config.Default()
	cfg.Provenance.Driver = config.ProvenanceSQLite
	cfg.Provenance.DSN = filepath.Join(t.TempDir(), "provenance.db")
	a := newTestApp(t, cfg)

	orch := a.Orchestrator()
	t.Cleanup(orch.Stop)

	g, err := engine.ParseGraph([]byte(doublerDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	run, err := orch.Submit(context.Background(), g, map[string]any{"x": 4})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	res, _ := run.Result()
	if res.Status != domain.RunStatusSucceeded || res.Outputs["result"] != 8 {
		t.Fatalf("unexpected result: %+v", res)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, _ := a.Provenance.GetStatus(context.Background(), run.ID().String())
		records, _ := a.Provenance.ListRecords(context.Background(), run.ID().String())
		if status == domain.RunStatusSucceeded && len(records) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("provenance not recorded: status=%q records=%d", status, len(records))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
