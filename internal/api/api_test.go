package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/orchestrator"
	"github.com/shaiso/Interflow/internal/provenance"
	"github.com/shaiso/Interflow/internal/repo"
)

const doublerJSON = `{
  "name": "doubler",
  "nodes": [
    {"id": "x", "kind": "INPUT", "value": 5},
    {"id": "dbl", "kind": "SERVICE", "service": "func", "operation": "double",
     "inputs": [{"name": "in"}], "outputs": [{"name": "out"}]},
    {"id": "result", "kind": "OUTPUT"}
  ],
  "edges": [
    {"from": "x", "to": "dbl.in"},
    {"from": "dbl.out", "to": "result"}
  ]
}`

const doublerYAML = `
name: doubler
nodes:
  - {id: x, kind: INPUT, value: 5}
  - {id: dbl, kind: SERVICE, service: func, operation: double, inputs: [{name: in}], outputs: [{name: out}]}
  - {id: result, kind: OUTPUT}
edges:
  - {from: x, to: dbl.in}
  - {from: dbl.out, to: result}
`

// fakeHistory — RunHistory в памяти.
type fakeHistory struct {
	runs   []domain.Run
	filter repo.RunFilter
}

func (f *fakeHistory) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeHistory) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	f.filter = filter
	return f.runs, nil
}

func newTestServer(t *testing.T, history RunHistory) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(orchestrator.Config{
		Interpreter: interpreter.Config{
			Port:              interaction.Nop{},
			Logger:            logger,
			PausePollInterval: 5 * time.Millisecond,
			DryTickInterval:   2 * time.Millisecond,
		},
		Logger: logger,
	})

	handler := NewHandler(Config{Orchestrator: orch, History: history, Logger: logger})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		orch.Stop()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

type runEnvelope struct {
	Data RunResponse `json:"data"`
}

type errorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

func waitRun(t *testing.T, srv *httptest.Server, id uuid.UUID) RunResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var got runEnvelope
		doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+id.String(), nil, &got)
		if got.Data.Status == string(domain.RunStatusSucceeded) || got.Data.Status == string(domain.RunStatusFailed) {
			return got.Data
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not finish, status %s", id, got.Data.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- Run Tests ---

func TestCreateRun(t *testing.T) {
	tests := []struct {
		name  string
		graph any
	}{
		{"json object", json.RawMessage(doublerJSON)},
		{"yaml string", doublerYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)

			var created runEnvelope
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs",
				map[string]any{"graph": tt.graph, "inputs": map[string]any{"x": 4}}, &created)
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("expected 201, got %d", resp.StatusCode)
			}
			if created.Data.Workflow != "doubler" || created.Data.Stats == nil {
				t.Errorf("unexpected created run: %+v", created.Data)
			}

			run := waitRun(t, srv, created.Data.ID)
			if run.Status != string(domain.RunStatusSucceeded) {
				t.Fatalf("expected SUCCEEDED, got %s (%s)", run.Status, run.Error)
			}
			// JSON числа декодируются как float64.
			if run.Outputs["result"] != float64(8) {
				t.Errorf("expected 8, got %v", run.Outputs["result"])
			}
			if run.Nodes["dbl"] != domain.NodeStateFinished {
				t.Errorf("expected dbl FINISHED, got %s", run.Nodes["dbl"])
			}
		})
	}
}

func TestCreateRun_BadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{`},
		{"missing graph", `{"inputs": {}}`},
		{"invalid graph", `{"graph": {"nodes": [{"id": "s", "kind": "SERVICE"}]}}`},
		{"unknown service", `{"graph": {"nodes": [{"id": "s", "kind": "SERVICE", "service": "ghost"}]}}`},
		{"unknown node in edge", `{"graph": {"nodes": [{"id": "x", "kind": "INPUT"}], "edges": [{"from": "x", "to": "y"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	var body errorEnvelope
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+uuid.NewString(), nil, &body)
	if resp.StatusCode != http.StatusNotFound || body.Error.Code != ErrCodeNotFound {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", resp.StatusCode, body.Error.Code)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/not-a-uuid", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", resp.StatusCode)
	}
}

func TestGetRun_FallsBackToHistory(t *testing.T) {
	stored := domain.Run{ID: uuid.New(), Workflow: "archived", Status: domain.RunStatusSucceeded}
	srv := newTestServer(t, &fakeHistory{runs: []domain.Run{stored}})

	var got runEnvelope
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+stored.ID.String(), nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.Data.Workflow != "archived" || got.Data.Nodes != nil {
		t.Errorf("unexpected run: %+v", got.Data)
	}
}

func TestListRuns(t *testing.T) {
	history := &fakeHistory{runs: []domain.Run{{ID: uuid.New(), Workflow: "old", Status: domain.RunStatusFailed}}}
	srv := newTestServer(t, history)

	var created runEnvelope
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs", map[string]any{"graph": doublerYAML}, &created)
	waitRun(t, srv, created.Data.ID)

	type runList struct {
		Data  []RunResponse `json:"data"`
		Total int           `json:"total"`
	}

	var registry runList
	doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs", nil, &registry)
	if len(registry.Data) != 1 || registry.Data[0].ID != created.Data.ID {
		t.Errorf("unexpected registry list: %+v", registry)
	}

	var filtered runList
	doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?status=FAILED", nil, &filtered)
	if len(filtered.Data) != 0 {
		t.Errorf("status filter should exclude succeeded run, got %d", len(filtered.Data))
	}

	var stored runList
	doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?source=store&workflow=old&limit=5", nil, &stored)
	if len(stored.Data) != 1 || stored.Data[0].Workflow != "old" {
		t.Errorf("unexpected store list: %+v", stored)
	}
	if history.filter.Workflow != "old" || history.filter.Limit != 5 {
		t.Errorf("unexpected filter: %+v", history.filter)
	}
}

func TestListRuns_StoreNotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?source=store", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// --- Control Tests ---

func TestControlRun(t *testing.T) {
	srv := newTestServer(t, nil)

	var created runEnvelope
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs", map[string]any{"graph": doublerYAML}, &created)
	waitRun(t, srv, created.Data.ID)

	base := srv.URL + "/api/v1/runs/" + created.Data.ID.String()

	var body errorEnvelope
	resp := doJSON(t, http.MethodPost, base+"/pause", nil, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity || body.Error.Code != ErrCodeInvalidState {
		t.Errorf("finished run: expected 422, got %d %s", resp.StatusCode, body.Error.Code)
	}

	resp = doJSON(t, http.MethodPost, base+"/explode", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown command: expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs/"+uuid.NewString()+"/stop", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run: expected 404, got %d", resp.StatusCode)
	}
}

// --- Graph Tests ---

func TestValidateGraph(t *testing.T) {
	srv := newTestServer(t, nil)

	var valid struct {
		Data ValidateGraphResponse `json:"data"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/graphs/validate", map[string]any{"graph": doublerYAML}, &valid)
	if !valid.Data.Valid || valid.Data.Nodes != 3 || valid.Data.Edges != 2 {
		t.Errorf("unexpected response: %+v", valid.Data)
	}
	if len(valid.Data.Order) != 3 || valid.Data.Order[2] != "result" {
		t.Errorf("unexpected order: %v", valid.Data.Order)
	}

	var invalid struct {
		Data ValidateGraphResponse `json:"data"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/graphs/validate",
		map[string]any{"graph": "nodes:\n  - {id: c, kind: IF}\n"}, &invalid)
	if invalid.Data.Valid || !strings.Contains(invalid.Data.Error, "expression") {
		t.Errorf("expected invalid graph, got %+v", invalid.Data)
	}
}

func TestListServices(t *testing.T) {
	srv := newTestServer(t, nil)

	var list struct {
		Data []string `json:"data"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/api/v1/services", nil, &list)

	found := map[string]bool{}
	for _, s := range list.Data {
		found[s] = true
	}
	if !found["func"] || !found["http"] {
		t.Errorf("expected func and http services, got %v", list.Data)
	}
}

// --- Middleware Tests ---

func TestRequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/services", nil, nil)
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/services", nil)
	req.Header.Set(RequestIDHeader, "abc")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.Header.Get(RequestIDHeader) != "abc" {
		t.Errorf("expected request id to be propagated, got %q", resp2.Header.Get(RequestIDHeader))
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

// --- Provenance Tests ---

func TestGetProvenance(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := provenance.NewMemoryStore()
	runID := uuid.New()
	ctx := context.Background()
	store.SaveRecord(ctx, provenance.Record{RunID: runID.String(), NodeID: "dbl", Kind: provenance.RecordInput, Value: 5})
	store.SaveRecord(ctx, provenance.Record{RunID: runID.String(), NodeID: "dbl", Kind: provenance.RecordOutput, Value: 10})
	store.SaveStatus(ctx, runID.String(), domain.RunStatusSucceeded)

	orch := orchestrator.New(orchestrator.Config{Logger: logger})
	t.Cleanup(orch.Stop)

	mux := http.NewServeMux()
	NewHandler(Config{Orchestrator: orch, Provenance: store, Logger: logger}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var got struct {
		Data ProvenanceResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+runID.String()+"/provenance", nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.Data.Status != domain.RunStatusSucceeded || len(got.Data.Records) != 2 {
		t.Fatalf("unexpected provenance: %+v", got.Data)
	}
	if got.Data.Records[1].Kind != provenance.RecordOutput || got.Data.Records[1].Value != float64(10) {
		t.Errorf("unexpected output record: %+v", got.Data.Records[1])
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+uuid.NewString()+"/provenance", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestGetProvenance_NotConfigured(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+uuid.NewString()+"/provenance", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
