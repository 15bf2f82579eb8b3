package engine

import (
	"fmt"

	"github.com/shaiso/Interflow/internal/domain"
)

// Validate выполняет полную валидацию графа.
//
// Проверяет:
// - Наличие узлов и непустые ID
// - Корректность типов узлов и их обязательных полей
// - Не больше одного ребра на входной порт данных
// - Управляющие выходы IF и парные входы END_IF
// - Области ForEach/DoWhile (ровно одно тело и закрывающий узел)
// - Отсутствие циклов
// - Вложенные графы (рекурсивно)
func Validate(g *domain.Graph) error {
	if g == nil || g.Size() == 0 {
		return ErrEmptyGraph
	}

	for _, node := range g.Nodes() {
		if err := ValidateNode(node); err != nil {
			return err
		}
	}

	if _, err := TopologicalOrder(g); err != nil {
		return err
	}

	return nil
}

// ValidateNode валидирует один узел.
func ValidateNode(node *domain.Node) error {
	if node.ID == "" {
		return NewValidationError("", "id", "node has empty ID", ErrEmptyNodeID)
	}

	if !node.Kind.IsValid() {
		return NewValidationError(node.ID, "kind",
			fmt.Sprintf("unknown node kind: %q", node.Kind), ErrUnknownNodeKind)
	}

	for _, in := range node.Inputs {
		if len(in.Edges()) > 1 {
			return NewValidationError(node.ID, "inputs",
				fmt.Sprintf("port %s has %d edges", in.Name, len(in.Edges())), ErrMultipleEdges)
		}
	}

	switch node.Kind {
	case domain.NodeKindService:
		if node.Service == "" {
			return NewValidationError(node.ID, "service", "service node has no service", ErrMissingService)
		}

	case domain.NodeKindIf:
		if node.Expression == "" {
			return NewValidationError(node.ID, "expression", "if node has no expression", ErrMissingExpression)
		}
		if len(node.ControlOut) != 2 {
			return NewValidationError(node.ID, "control_out",
				fmt.Sprintf("if node has %d control outputs", len(node.ControlOut)), ErrIfControlPorts)
		}

	case domain.NodeKindEndIf:
		if len(node.Outputs) == 0 || len(node.Inputs) != 2*len(node.Outputs) {
			return NewValidationError(node.ID, "inputs",
				fmt.Sprintf("end-if has %d inputs for %d outputs", len(node.Inputs), len(node.Outputs)), ErrEndIfPorts)
		}

	case domain.NodeKindDoWhile:
		if node.Expression == "" {
			return NewValidationError(node.ID, "expression", "do-while node has no expression", ErrMissingExpression)
		}
		if _, _, err := ScopeOf(node); err != nil {
			return err
		}

	case domain.NodeKindForEach:
		if _, _, err := ScopeOf(node); err != nil {
			return err
		}

	case domain.NodeKindSubGraph:
		if node.SubGraph == nil {
			return NewValidationError(node.ID, "graph", "sub-graph node has no graph", ErrMissingSubGraph)
		}
		if err := Validate(node.SubGraph); err != nil {
			return fmt.Errorf("sub-graph %s: %w", node.ID, err)
		}
	}

	return nil
}

// ScopeOf возвращает тело и закрывающий узел области ForEach или DoWhile.
//
// Тело — единственный узел, который читает выходы открывающего узла.
// Оно должно быть SERVICE или SUB_GRAPH и передавать данные закрывающему
// узлу соответствующего типа.
func ScopeOf(start *domain.Node) (body, end *domain.Node, err error) {
	var endKind domain.NodeKind
	switch start.Kind {
	case domain.NodeKindForEach:
		endKind = domain.NodeKindEndForEach
	case domain.NodeKindDoWhile:
		endKind = domain.NodeKindEndDoWhile
	default:
		return nil, nil, NewValidationError(start.ID, "kind",
			fmt.Sprintf("%s does not open a scope", start.Kind), ErrScopeBody)
	}

	consumers := start.DataConsumers()
	if len(consumers) != 1 || !consumers[0].Kind.IsBody() {
		return nil, nil, NewValidationError(start.ID, "outputs",
			fmt.Sprintf("scope has %d body candidates", len(consumers)), ErrScopeBody)
	}
	body = consumers[0]

	for _, c := range body.DataConsumers() {
		if c.Kind == endKind {
			if end != nil && end != c {
				return nil, nil, NewValidationError(start.ID, "outputs",
					"scope body feeds more than one end node", ErrScopeEnd)
			}
			end = c
		}
	}
	if end == nil {
		return nil, nil, NewValidationError(start.ID, "outputs",
			fmt.Sprintf("body %s is not connected to %s", body.ID, endKind), ErrScopeEnd)
	}

	return body, end, nil
}
