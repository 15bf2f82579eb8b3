package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// argRef — позиционная ссылка на входное значение: $0, $1, ...
var argRef = regexp.MustCompile(`\$(\d+)`)

// conditionFuncs — функции, доступные в условиях IF и DO_WHILE.
var conditionFuncs = map[string]function.Function{
	"abs":        stdlib.AbsoluteFunc,
	"ceil":       stdlib.CeilFunc,
	"contains":   stdlib.ContainsFunc,
	"floor":      stdlib.FloorFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"length":     stdlib.LengthFunc,
	"lower":      stdlib.LowerFunc,
	"max":        stdlib.MaxFunc,
	"min":        stdlib.MinFunc,
	"strlen":     stdlib.StrlenFunc,
	"upper":      stdlib.UpperFunc,
}

// EvaluateCondition вычисляет булево выражение над позиционными аргументами.
//
// $N в выражении подставляется значением args[N]. Синтаксис выражений —
// HCL: `$0 > 3`, `$0 == "done" && $1 < 10`, `length($0) > 0`.
// Строки, похожие на числа, приводятся к числу в арифметике и сравнениях.
func EvaluateCondition(expr string, args []any) (bool, error) {
	rewritten, err := bindArguments(expr, len(args))
	if err != nil {
		return false, err
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(rewritten), "condition", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: %q: %s", ErrExpressionParse, expr, diags.Error())
	}

	vars := make(map[string]cty.Value, len(args))
	for i, arg := range args {
		v, err := ToCtyValue(arg)
		if err != nil {
			return false, fmt.Errorf("%w: argument $%d: %v", ErrExpressionEval, i, err)
		}
		vars[argName(i)] = v
	}

	val, diags := parsed.Value(&hcl.EvalContext{Variables: vars, Functions: conditionFuncs})
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: %q: %s", ErrExpressionEval, expr, diags.Error())
	}

	val, err = convert.Convert(val, cty.Bool)
	if err != nil || val.IsNull() || !val.IsKnown() {
		return false, fmt.Errorf("%w: %q", ErrExpressionNotBool, expr)
	}

	return val.True(), nil
}

// bindArguments заменяет $N на имена переменных HCL.
func bindArguments(expr string, argc int) (string, error) {
	var bindErr error
	rewritten := argRef.ReplaceAllStringFunc(expr, func(m string) string {
		idx, err := strconv.Atoi(m[1:])
		if (err != nil || idx >= argc) && bindErr == nil {
			bindErr = fmt.Errorf("%w: %s with %d arguments", ErrArgumentIndex, m, argc)
		}
		return argName(idx)
	})
	return rewritten, bindErr
}

func argName(i int) string {
	return "arg_" + strconv.Itoa(i)
}

// ToCtyValue преобразует значение Go в cty.Value.
func ToCtyValue(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return val, nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int32:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float32:
		return cty.NumberFloatVal(float64(val)), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, e := range val {
			ev, err := ToCtyValue(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return ToCtyValue(items)
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]cty.Value, len(val))
		for _, k := range keys {
			av, err := ToCtyValue(val[k])
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %q: %w", k, err)
			}
			attrs[k] = av
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
	}
}
