package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

// configMappings — ключ Config с шаблонами выходных портов.
const configMappings = "mappings"

// TemplateInvoker — invoker сервиса "template": преобразует входы узла
// Go templates без внешних вызовов.
//
// Config узла:
//
//	mappings:
//	  total: "{{ len .Inputs.items }}"
//	  greeting: "hello, {{ .Inputs.name | upper }}"
//
// Каждый mapping рендерится в выходной порт с тем же именем. Результат,
// похожий на JSON (объект, массив, число, bool), декодируется.
// Операция узла не используется.
type TemplateInvoker struct {
	base

	node     *domain.Node
	mappings map[string]string
}

// NewTemplateFactory возвращает фабрику template invoker'ов.
func NewTemplateFactory() Factory {
	return func(node *domain.Node) (Invoker, error) {
		inv := &TemplateInvoker{
			base: newBase(),
			node: node,
		}
		inv.SetOperation(node.Operation)
		return inv, nil
	}
}

// Setup проверяет, что mappings заданы и ссылаются на выходы узла.
func (t *TemplateInvoker) Setup(ctx context.Context) error {
	mappings, err := parseMappings(t.node.Config)
	if err != nil {
		return err
	}
	for name := range mappings {
		if t.node.OutputByName(name) == nil {
			return fmt.Errorf("%w: mapping %q has no output port", ErrInvalidArgument, name)
		}
	}
	t.mappings = mappings
	return nil
}

// Invoke рендерит mappings с текущими входами.
func (t *TemplateInvoker) Invoke(ctx context.Context) (bool, error) {
	inputs, err := t.begin()
	if err != nil {
		return false, err
	}
	if t.mappings == nil {
		if err := t.Setup(ctx); err != nil {
			return t.finish(nil, err)
		}
	}

	tmplCtx := engine.NewContext(inputs, engine.NodeContext{
		ID:        t.node.ID,
		Name:      t.node.Name,
		Operation: t.operation,
	})

	outputs := make(map[string]any, len(t.mappings))
	for name, tmpl := range t.mappings {
		if err := ctx.Err(); err != nil {
			return t.finish(nil, err)
		}
		rendered, err := engine.Render(tmpl, tmplCtx)
		if err != nil {
			return t.finish(nil, fmt.Errorf("mapping %s: %w", name, err))
		}
		outputs[name] = decodeRendered(rendered)
	}
	return t.finish(outputs, nil)
}

func parseMappings(config map[string]any) (map[string]string, error) {
	raw, ok := config[configMappings]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidArgument, configMappings)
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a map, got %T", ErrInvalidArgument, configMappings, raw)
	}

	result := make(map[string]string, len(m))
	for name, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: mapping %q must be a string, got %T", ErrInvalidArgument, name, val)
		}
		result[name] = s
	}
	return result, nil
}

// decodeRendered декодирует JSON-подобный результат; иначе строка как есть.
func decodeRendered(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int(n)
		}
		return n
	case string:
		// Строка в кавычках остаётся как есть.
		return s
	}
	return v
}
