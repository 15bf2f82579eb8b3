package cli

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseInputs разбирает значения Input узлов вида NAME=VALUE.
//
// VALUE читается как YAML: 5 — число, true — bool, [1, 2] — список,
// {a: 1} — объект; всё остальное остаётся строкой.
func ParseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid input format %q, expected NAME=VALUE", kv)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		inputs[name] = value
	}
	return inputs, nil
}
