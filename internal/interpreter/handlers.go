package interpreter

import (
	"context"
	"fmt"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
)

// runLeaf выполняет SERVICE или SUB_GRAPH узел вне области ForEach/DoWhile.
func (i *Interpreter) runLeaf(ctx context.Context, node *domain.Node) error {
	outputs, err := i.runBody(ctx, node, i.state.InputMap(node), true)
	if err != nil {
		return err
	}
	i.state.SetOutputs(node, outputs)
	return nil
}

// runBody выполняет тело: SERVICE через invoker, SUB_GRAPH вложенным run.
// Возвращает значения выходных портов по именам.
func (i *Interpreter) runBody(ctx context.Context, node *domain.Node, inputs map[string]any, track bool) (map[string]any, error) {
	if node.Kind == domain.NodeKindSubGraph {
		return i.runSubGraph(ctx, node, inputs)
	}
	return i.invokeWithRetry(ctx, node, inputs, track)
}

// runIf вычисляет условие и открывает ровно одну из двух веток.
//
// ControlOut[0] — ветка true, ControlOut[1] — ветка false. Входные
// значения передаются на выходы по позиции, чтобы ветки могли их читать.
func (i *Interpreter) runIf(ctx context.Context, node *domain.Node) error {
	args := i.state.InputValues(node)

	cond, err := engine.EvaluateCondition(node.Expression, args)
	if err != nil {
		return err
	}

	for idx, out := range node.Outputs {
		if idx < len(args) {
			i.state.SetOutput(out, args[idx])
		}
	}

	i.state.SetCondition(node.ControlOut[0], cond)
	i.state.SetCondition(node.ControlOut[1], !cond)

	i.logger.Debug("if evaluated", "node_id", node.ID, "expression", node.Expression, "result", cond)
	return nil
}

// runEndIf публикует на выходе k единственное значение пары входов (2k, 2k+1).
func (i *Interpreter) runEndIf(ctx context.Context, node *domain.Node) error {
	for k, out := range node.Outputs {
		var (
			value any
			count int
		)
		for _, in := range node.Inputs[2*k : 2*k+2] {
			v, ok := i.branchValue(in)
			if ok {
				value = v
				count++
			}
		}
		if count != 1 {
			return fmt.Errorf("%w: output %s has %d values", ErrEndIfBranches, out.Name, count)
		}
		i.state.SetOutput(out, value)
	}
	return nil
}

// branchValue возвращает значение входа END_IF, если ветка выполнилась.
func (i *Interpreter) branchValue(in *domain.Port) (any, bool) {
	edges := in.Edges()
	if len(edges) == 0 {
		return nil, false
	}
	if i.state.NodeState(edges[0].From.Node().ID) != domain.NodeStateFinished {
		return nil, false
	}
	v, ok := i.state.OutputValue(edges[0].From)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
