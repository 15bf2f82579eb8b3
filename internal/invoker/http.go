package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPInvoker — invoker сервиса "http".
//
// Отправляет POST {"operation": ..., "inputs": {...}} на url из конфигурации
// узла и ожидает в ответ JSON объект с выходами по именам портов.
// Если ответ не объект, значение кладётся в первый выходной порт.
//
// Config узла (строки рендерятся как Go templates, см. engine.Render):
//   - url (string): адрес сервиса (обязательно)
//   - method (string): HTTP-метод. Default: POST
//   - headers (map[string]any): HTTP-заголовки
//   - timeout_sec (number): таймаут запроса в секундах. Default: 30
type HTTPInvoker struct {
	base

	node   *domain.Node
	client *http.Client
	config map[string]any
}

// NewHTTPFactory возвращает фабрику HTTP invoker'ов.
// Если client == nil, используется http.DefaultClient.
func NewHTTPFactory(client *http.Client) Factory {
	if client == nil {
		client = http.DefaultClient
	}
	return func(node *domain.Node) (Invoker, error) {
		return &HTTPInvoker{
			base:   newBase(),
			node:   node,
			client: client,
		}, nil
	}
}

// Setup проверяет конфигурацию узла.
func (h *HTTPInvoker) Setup(ctx context.Context) error {
	if getString(h.node.Config, "url", "") == "" {
		return fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}
	return nil
}

// Invoke рендерит конфигурацию с текущими входами и выполняет HTTP-запрос.
func (h *HTTPInvoker) Invoke(ctx context.Context) (bool, error) {
	inputs, err := h.begin()
	if err != nil {
		return false, err
	}

	tmplCtx := engine.NewContext(inputs, engine.NodeContext{
		ID:        h.node.ID,
		Name:      h.node.Name,
		Operation: h.operation,
	})
	config, err := engine.RenderConfig(h.node.Config, tmplCtx)
	if err != nil {
		return h.finish(nil, err)
	}
	h.config = config

	outputs, err := h.do(ctx, inputs)
	return h.finish(outputs, err)
}

func (h *HTTPInvoker) do(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, getTimeout(h.config))
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"operation": h.operation,
		"inputs":    inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
	}

	method := getString(h.config, "method", http.MethodPost)
	req, err := http.NewRequestWithContext(ctx, method, getString(h.config, "url", ""), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	setHeaders(req, h.config)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200))
	}

	return h.buildOutputs(respBody), nil
}

// buildOutputs разбирает ответ: JSON объект → выходы по именам,
// иначе всё тело → первый выходной порт.
func (h *HTTPInvoker) buildOutputs(body []byte) map[string]any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = string(body)
	}

	if obj, ok := parsed.(map[string]any); ok {
		return obj
	}
	if len(h.node.Outputs) == 0 {
		return map[string]any{}
	}
	return map[string]any{h.node.Outputs[0].Name: parsed}
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok && s != "" {
			return s
		}
	}
	return defaultVal
}

// getTimeout извлекает таймаут из конфигурации.
func getTimeout(config map[string]any) time.Duration {
	if val, ok := config["timeout_sec"]; ok {
		switch v := val.(type) {
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Second))
			}
		case int:
			if v > 0 {
				return time.Duration(v) * time.Second
			}
		}
	}
	return defaultHTTPTimeout
}

// setHeaders устанавливает заголовки из конфигурации.
func setHeaders(req *http.Request, config map[string]any) {
	switch h := config["headers"].(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
