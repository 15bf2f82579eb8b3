package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Типы ответов повторяют api/dto.go: клиент не импортирует сервер.

// RunResponse — run из API.
type RunResponse struct {
	ID         string            `json:"id"`
	Workflow   string            `json:"workflow"`
	Status     string            `json:"status"`
	Inputs     map[string]any    `json:"inputs,omitempty"`
	Outputs    map[string]any    `json:"outputs,omitempty"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  string            `json:"created_at"`
	Execution  string            `json:"execution_state,omitempty"`
	Nodes      map[string]string `json:"nodes,omitempty"`
	Failed     []string          `json:"failed,omitempty"`
	Stopped    bool              `json:"stopped,omitempty"`
}

// CommandResponse — результат команды управления run.
type CommandResponse struct {
	RunID     string `json:"run_id"`
	Command   string `json:"command"`
	Execution string `json:"execution_state"`
}

// ValidateResponse — результат проверки графа.
type ValidateResponse struct {
	Valid    bool     `json:"valid"`
	Workflow string   `json:"workflow,omitempty"`
	Nodes    int      `json:"nodes"`
	Edges    int      `json:"edges"`
	Order    []string `json:"order,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ProvenanceRecord — одно сохранённое значение узла.
type ProvenanceRecord struct {
	NodeID     string `json:"node_id"`
	Kind       string `json:"kind"`
	Value      any    `json:"value"`
	RecordedAt string `json:"recorded_at"`
}

// ProvenanceResponse — provenance run.
type ProvenanceResponse struct {
	RunID   string             `json:"run_id"`
	Status  string             `json:"status,omitempty"`
	Records []ProvenanceRecord `json:"records"`
}

// --- Request types ---

// CreateRunRequest — запуск графа на сервере. Graph — текст документа
// (YAML или JSON).
type CreateRunRequest struct {
	Graph  string         `json:"graph"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Workflow string
	Status   string
	Limit    int

	// Store — читать историю из БД, а не реестр процесса.
	Store bool
}

// envelope — общий формат ответов API: data для списков и объектов,
// error при ошибке.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Client ходит в HTTP API interflow-api.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	q := url.Values{}
	for key, val := range map[string]string{"workflow": opts.Workflow, "status": opts.Status} {
		if val != "" {
			q.Set(key, val)
		}
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Store {
		q.Set("source", "store")
	}

	var runs []RunResponse
	return runs, c.call(http.MethodGet, "/api/v1/runs", q, nil, &runs)
}

func (c *Client) CreateRun(req CreateRunRequest) (*RunResponse, error) {
	run := new(RunResponse)
	return run, c.call(http.MethodPost, "/api/v1/runs", nil, req, run)
}

func (c *Client) GetRun(id string) (*RunResponse, error) {
	run := new(RunResponse)
	return run, c.call(http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, run)
}

func (c *Client) GetProvenance(id string) (*ProvenanceResponse, error) {
	prov := new(ProvenanceResponse)
	return prov, c.call(http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/provenance", nil, nil, prov)
}

// Command отправляет pause, resume, step или stop.
func (c *Client) Command(id, command string) (*CommandResponse, error) {
	resp := new(CommandResponse)
	return resp, c.call(http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/"+command, nil, nil, resp)
}

func (c *Client) ValidateGraph(doc string) (*ValidateResponse, error) {
	resp := new(ValidateResponse)
	return resp, c.call(http.MethodPost, "/api/v1/graphs/validate", nil, map[string]string{"graph": doc}, resp)
}

// ListServices — сервисы invoker'ов, известные серверу.
func (c *Client) ListServices() ([]string, error) {
	var services []string
	return services, c.call(http.MethodGet, "/api/v1/services", nil, nil, &services)
}

// call выполняет запрос и раскладывает data ответа в dst.
// Ответ 4xx/5xx превращается в *APIError.
func (c *Client) call(method, path string, query url.Values, body, dst any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, target, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= http.StatusBadRequest {
		if decodeErr != nil || env.Error == nil {
			return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
		}
		env.Error.Status = resp.StatusCode
		return env.Error
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}
