package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interaction"
)

// runSubGraph выполняет вложенный граф SUB_GRAPH узла до конца.
//
// Входной порт узла связывается с INPUT узлом вложенного графа того же
// имени, выходной порт — с OUTPUT узлом того же имени. Runner для
// вложенного графа сначала запрашивается у порта; если порт его не
// поставляет, строится вложенный интерпретатор с общим Control.
func (i *Interpreter) runSubGraph(ctx context.Context, node *domain.Node, inputs map[string]any) (map[string]any, error) {
	g := node.SubGraph

	nestedInputs := make(map[string]any, len(node.Inputs))
	for _, in := range node.Inputs {
		target := g.InputNodeByName(in.Name)
		if target == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrSubGraphInput, node.ID, in.Name)
		}
		if v, ok := inputs[in.Name]; ok {
			nestedInputs[target.Name] = v
		}
	}

	i.emit(ctx, interaction.Event{
		Kind:     interaction.EventSubGraphOpened,
		NodeID:   node.ID,
		NodeKind: node.Kind,
	})

	runner, err := i.cfg.Port.NestedInterpreter(ctx, interaction.NestedRequest{
		ParentRunID: i.runID.String(),
		NodeID:      node.ID,
		Depth:       i.depth + 1,
		Graph:       g,
		Inputs:      nestedInputs,
	})
	switch {
	case errors.Is(err, interaction.ErrNestedUnsupported):
		child, err := i.newNested(g, nestedInputs)
		if err != nil {
			return nil, err
		}
		i.logger.Debug("nested run created", "node_id", node.ID, "nested_run_id", child.RunID())
		runner = child
	case err != nil:
		return nil, fmt.Errorf("nested interpreter for %s: %w", node.ID, err)
	}

	res, err := runner.RunNested(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSubGraphFailed, node.ID, err)
	}
	if res.Stopped && res.Status == domain.RunStatusSucceeded {
		if missing := missingOutputs(node, res.Outputs); len(missing) > 0 {
			return nil, fmt.Errorf("%w: sub-graph %s did not produce %v", ErrStopped, node.ID, missing)
		}
	}
	if res.Status != domain.RunStatusSucceeded {
		return nil, fmt.Errorf("%w: %s ended %s", ErrSubGraphFailed, node.ID, res.Status)
	}

	outputs := make(map[string]any, len(node.Outputs))
	for _, out := range node.Outputs {
		v, ok := res.Outputs[out.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingOutput, node.ID, out.Name)
		}
		outputs[out.Name] = v
	}
	return outputs, nil
}

func missingOutputs(node *domain.Node, outputs map[string]any) []string {
	var missing []string
	for _, out := range node.Outputs {
		if _, ok := outputs[out.Name]; !ok {
			missing = append(missing, out.Name)
		}
	}
	return missing
}
