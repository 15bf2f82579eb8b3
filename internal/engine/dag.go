package engine

import (
	"github.com/shaiso/Interflow/internal/domain"
)

// StateView — чтение состояния run, нужное для вычисления готовности.
//
// Реализуется RunState. Отдельный интерфейс позволяет проверять правила
// готовности на произвольных снимках состояния.
type StateView interface {
	// NodeState возвращает состояние узла.
	NodeState(nodeID string) domain.NodeState

	// ConditionMet сообщает, выполнено ли условие выходного управляющего порта.
	ConditionMet(port *domain.Port) bool
}

// ReadyNodes возвращает узлы в состоянии WAITING, готовые к запуску.
//
// Правила по типам узлов:
//   - SERVICE, SUB_GRAPH, FOR_EACH, IF, LIFECYCLE_START, LIFECYCLE_END:
//     все источники данных FINISHED и все управляющие входы выполнены
//   - END_IF: количество входных портов с завершённым источником
//     равно количеству выходов (по одной ветке на выход)
//   - DO_WHILE: выполнены управляющие входы (тело обрабатывается внутри)
//   - INPUT, CONSTANT, OUTPUT, END_FOR_EACH, END_DO_WHILE: никогда,
//     ими управляют инициализация run и обработчики областей
//
// Функция чистая: повторный вызов без изменения состояния
// возвращает тот же набор в том же порядке.
func ReadyNodes(g *domain.Graph, view StateView) []*domain.Node {
	ready := make([]*domain.Node, 0)

	for _, node := range g.Nodes() {
		if view.NodeState(node.ID) != domain.NodeStateWaiting {
			continue
		}
		if IsReady(node, view) {
			ready = append(ready, node)
		}
	}

	return ready
}

// IsReady проверяет готовность одного узла без учёта его собственного состояния.
func IsReady(node *domain.Node, view StateView) bool {
	switch node.Kind {
	case domain.NodeKindService, domain.NodeKindSubGraph, domain.NodeKindForEach,
		domain.NodeKindIf, domain.NodeKindLifecycleStart, domain.NodeKindLifecycleEnd:
		return dataReady(node, view) && controlReady(node, view)

	case domain.NodeKindEndIf:
		return finishedInputs(node, view) == len(node.Outputs) && controlReady(node, view)

	case domain.NodeKindDoWhile:
		return controlReady(node, view)

	default:
		return false
	}
}

// dataReady — все узлы, питающие входные порты данных, завершены.
func dataReady(node *domain.Node, view StateView) bool {
	for _, in := range node.Inputs {
		for _, e := range in.Edges() {
			if view.NodeState(e.From.Node().ID) != domain.NodeStateFinished {
				return false
			}
		}
	}
	return true
}

// controlReady — условия всех входящих управляющих рёбер выполнены (логическое И).
func controlReady(node *domain.Node, view StateView) bool {
	for _, e := range node.ControlSources() {
		if !view.ConditionMet(e.From) {
			return false
		}
	}
	return true
}

// finishedInputs считает входные порты, источник которых завершён.
func finishedInputs(node *domain.Node, view StateView) int {
	count := 0
	for _, in := range node.Inputs {
		for _, e := range in.Edges() {
			if view.NodeState(e.From.Node().ID) == domain.NodeStateFinished {
				count++
				break
			}
		}
	}
	return count
}

// TopologicalOrder выполняет топологическую сортировку (алгоритм Кана)
// по рёбрам данных и управления. Возвращает ErrCyclicDependency,
// если граф содержит цикл.
func TopologicalOrder(g *domain.Graph) ([]*domain.Node, error) {
	inDegree := make(map[string]int, g.Size())
	dependents := make(map[string][]*domain.Node, g.Size())

	for _, node := range g.Nodes() {
		seen := make(map[string]bool)
		for _, src := range upstream(node) {
			if seen[src.ID] {
				continue
			}
			seen[src.ID] = true
			inDegree[node.ID]++
			dependents[src.ID] = append(dependents[src.ID], node)
		}
	}

	// Очередь узлов с inDegree = 0
	queue := make([]*domain.Node, 0)
	for _, node := range g.Nodes() {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]*domain.Node, 0, g.Size())
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range dependents[node.ID] {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != g.Size() {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// upstream возвращает узлы, от которых узел зависит по данным или управлению.
func upstream(node *domain.Node) []*domain.Node {
	result := node.DataProducers()
	for _, e := range node.ControlSources() {
		result = append(result, e.From.Node())
	}
	return result
}
