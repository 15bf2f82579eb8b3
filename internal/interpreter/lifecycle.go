package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
)

// Credentials — учётные данные для LIFECYCLE узлов.
type Credentials struct {
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
}

// Valid проверяет, что учётные данные заданы. Nil допустим.
func (c *Credentials) Valid() bool {
	return c != nil && c.AccessKey != "" && c.SecretKey != ""
}

// ProvisionRequest — запрос на выделение внешнего ресурса.
type ProvisionRequest struct {
	RunID  string         `json:"run_id"`
	NodeID string         `json:"node_id"`
	Config map[string]any `json:"config,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// Provisioner выделяет и освобождает внешние ресурсы для LIFECYCLE узлов.
type Provisioner interface {
	// Provision выделяет ресурс и возвращает его ID.
	Provision(ctx context.Context, req ProvisionRequest) (string, error)

	// Terminate освобождает ресурс.
	Terminate(ctx context.Context, id string) error
}

// runLifecycleStart выделяет ресурс. ID ресурса публикуется на первом выходе.
func (i *Interpreter) runLifecycleStart(ctx context.Context, node *domain.Node) error {
	id, err := i.cfg.Provisioner.Provision(ctx, ProvisionRequest{
		RunID:  i.runID.String(),
		NodeID: node.ID,
		Config: node.Config,
		Inputs: i.state.InputMap(node),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvision, err)
	}

	if len(node.Outputs) > 0 {
		i.state.SetOutput(node.Outputs[0], id)
	}
	for _, ctl := range node.ControlOut {
		i.state.SetCondition(ctl, true)
	}

	i.logger.Info("resource provisioned", "node_id", node.ID, "resource_id", id)
	return nil
}

// runLifecycleEnd освобождает ресурс, ID которого пришёл на первый вход.
func (i *Interpreter) runLifecycleEnd(ctx context.Context, node *domain.Node) error {
	if len(node.Inputs) == 0 {
		return fmt.Errorf("%w: %s has no resource input", ErrProvision, node.ID)
	}
	v, _ := i.state.InputValue(node.Inputs[0])
	id, ok := v.(string)
	if !ok || id == "" {
		return fmt.Errorf("%w: %s got resource id %v", ErrProvision, node.ID, v)
	}

	if err := i.cfg.Provisioner.Terminate(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrProvision, err)
	}

	if len(node.Outputs) > 0 {
		i.state.SetOutput(node.Outputs[0], id)
	}
	i.logger.Info("resource terminated", "node_id", node.ID, "resource_id", id)
	return nil
}

// HTTPProvisioner — Provisioner поверх HTTP API:
//
//	POST   {endpoint}/resources       → {"id": "..."}
//	DELETE {endpoint}/resources/{id}
//
// Ключи передаются заголовками X-Access-Key и X-Secret-Key.
type HTTPProvisioner struct {
	creds  Credentials
	client *http.Client
}

// NewHTTPProvisioner создаёт provisioner. Если client == nil, используется
// клиент с таймаутом 30 секунд.
func NewHTTPProvisioner(creds Credentials, client *http.Client) *HTTPProvisioner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvisioner{creds: creds, client: client}
}

// Provision реализует Provisioner.
func (p *HTTPProvisioner) Provision(ctx context.Context, req ProvisionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := p.do(ctx, http.MethodPost, p.resourceURL(""), body)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provisioner returned empty id")
	}
	return resp.ID, nil
}

// Terminate реализует Provisioner.
func (p *HTTPProvisioner) Terminate(ctx context.Context, id string) error {
	_, err := p.do(ctx, http.MethodDelete, p.resourceURL(id), nil)
	return err
}

func (p *HTTPProvisioner) resourceURL(id string) string {
	u := strings.TrimRight(p.creds.Endpoint, "/") + "/resources"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (p *HTTPProvisioner) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Access-Key", p.creds.AccessKey)
	req.Header.Set("X-Secret-Key", p.creds.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
