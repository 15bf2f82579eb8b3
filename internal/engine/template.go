package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"
)

var (
	ErrTemplateParse  = errors.New("template parse failed")
	ErrTemplateRender = errors.New("template render failed")
)

// Context — данные, видимые шаблонам в Config узла:
// {{ .Inputs.port }}, {{ .Node.ID }}, {{ .Env.NAME }}.
type Context struct {
	Inputs map[string]any    `json:"inputs"`
	Node   NodeContext       `json:"node"`
	Env    map[string]string `json:"env"`
}

// NodeContext — поля узла для шаблонов.
type NodeContext struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Operation string `json:"operation"`
}

// NewContext собирает контекст из входов узла и окружения процесса.
func NewContext(inputs map[string]any, node NodeContext) *Context {
	if inputs == nil {
		inputs = map[string]any{}
	}
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return &Context{Inputs: inputs, Node: node, Env: env}
}

func isBlank(v any) bool {
	s, isString := v.(string)
	return v == nil || (isString && s == "")
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"default": func(fallback, v any) any {
		if isBlank(v) {
			return fallback
		}
		return v
	},
	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// parsed — разобранные шаблоны по исходному тексту. Один Config
// рендерится на каждом вызове узла, в том числе внутри циклов.
var parsed sync.Map

func compile(text string) (*template.Template, error) {
	if t, ok := parsed.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("config").Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}
	actual, _ := parsed.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}

// Render подставляет ctx в text. Строка без "{{" возвращается как есть.
func Render(text string, ctx *Context) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := compile(text)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := t.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return out.String(), nil
}

// RenderValue рендерит строки внутри value, обходя вложенные map и
// slice. Возвращает новое значение; value не изменяется.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			r, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderConfig рендерит Config узла. nil даёт пустую map.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		r, err := RenderValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}
