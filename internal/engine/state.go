package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Interflow/internal/domain"
)

// ErrNodeTerminal — попытка повторно перевести узел из финального состояния.
var ErrNodeTerminal = errors.New("node already in terminal state")

// ErrNodeNotWaiting — узел нельзя запустить, он уже не в WAITING.
var ErrNodeNotWaiting = errors.New("node is not waiting")

// RunState — состояние выполнения одного графа в памяти.
//
// RunState создаётся на каждый запуск графа (включая вложенные SubGraph)
// и хранит:
//   - состояние каждого узла
//   - значения выходных портов данных
//   - явно выставленные условия управляющих портов
//   - тексты ошибок упавших узлов
//   - узлы, прерванные остановкой run (они FAILED, но не считаются сбоем)
//
// Все методы потокобезопасны.
type RunState struct {
	graph *domain.Graph

	states     map[string]domain.NodeState
	values     map[domain.PortKey]any
	conditions map[domain.PortKey]bool
	errors     map[string]string
	halted     map[string]bool

	mu sync.RWMutex
}

// NewRunState создаёт состояние, в котором все узлы графа в WAITING.
func NewRunState(g *domain.Graph) *RunState {
	s := &RunState{
		graph:      g,
		states:     make(map[string]domain.NodeState, g.Size()),
		values:     make(map[domain.PortKey]any),
		conditions: make(map[domain.PortKey]bool),
		errors:     make(map[string]string),
		halted:     make(map[string]bool),
	}
	for _, node := range g.Nodes() {
		s.states[node.ID] = domain.NodeStateWaiting
	}
	return s
}

// Graph возвращает граф, к которому относится состояние.
func (s *RunState) Graph() *domain.Graph {
	return s.graph
}

// NodeState возвращает состояние узла.
func (s *RunState) NodeState(nodeID string) domain.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[nodeID]
}

// ConditionMet реализует StateView.
//
// Явно выставленное условие имеет приоритет. Иначе условие считается
// выполненным, когда узел-источник завершён. Исключение — IF: его ветки
// открываются только явным решением обработчика.
func (s *RunState) ConditionMet(port *domain.Port) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conditionMetLocked(port)
}

func (s *RunState) conditionMetLocked(port *domain.Port) bool {
	if met, ok := s.conditions[port.Key()]; ok {
		return met
	}
	if port.Node().Kind == domain.NodeKindIf {
		return false
	}
	return s.states[port.Node().ID] == domain.NodeStateFinished
}

// lockedView даёт ReadyNodes доступ к состоянию под уже взятой блокировкой.
type lockedView struct{ s *RunState }

func (v lockedView) NodeState(id string) domain.NodeState { return v.s.states[id] }
func (v lockedView) ConditionMet(p *domain.Port) bool     { return v.s.conditionMetLocked(p) }

// ReadyNodes возвращает готовые к запуску узлы.
func (s *RunState) ReadyNodes() []*domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ReadyNodes(s.graph, lockedView{s})
}

// SetCondition явно выставляет условие управляющего порта.
func (s *RunState) SetCondition(port *domain.Port, met bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditions[port.Key()] = met
}

// SeedSources переводит Input и Constant узлы в FINISHED
// и публикует их значения на всех выходных портах.
//
// overrides — значения Input узлов по имени (или ID) узла; если значения
// нет, используется Node.Value.
func (s *RunState) SeedSources(overrides map[string]any) []*domain.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seeded []*domain.Node
	for _, node := range s.graph.Nodes() {
		if !node.Kind.IsSource() {
			continue
		}

		value := node.Value
		if node.Kind == domain.NodeKindInput {
			if v, ok := overrides[node.Name]; ok {
				value = v
			} else if v, ok := overrides[node.ID]; ok {
				value = v
			}
		}

		for _, out := range node.Outputs {
			s.values[out.Key()] = value
		}
		s.states[node.ID] = domain.NodeStateFinished
		seeded = append(seeded, node)
	}
	return seeded
}

// MarkExecuting переводит узел WAITING → EXECUTING.
func (s *RunState) MarkExecuting(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[nodeID] != domain.NodeStateWaiting {
		return fmt.Errorf("%w: %s is %s", ErrNodeNotWaiting, nodeID, s.states[nodeID])
	}
	s.states[nodeID] = domain.NodeStateExecuting
	return nil
}

// MarkFinished переводит узел в FINISHED.
//
// Узлы, которыми управляют обработчики областей (тело ForEach, END_FOR_EACH,
// OUTPUT), завершаются прямо из WAITING.
func (s *RunState) MarkFinished(nodeID string) error {
	return s.finish(nodeID, domain.NodeStateFinished, "")
}

// MarkFailed переводит узел в FAILED и сохраняет текст ошибки.
func (s *RunState) MarkFailed(nodeID string, errMsg string) error {
	return s.finish(nodeID, domain.NodeStateFailed, errMsg)
}

// MarkInterrupted переводит узел в FAILED без признака сбоя: узел не
// доделал работу, потому что run остановлен. Такие узлы не попадают
// в FailedNodes и HasFailed.
func (s *RunState) MarkInterrupted(nodeID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.finishLocked(nodeID, domain.NodeStateFailed, errMsg); err != nil {
		return err
	}
	s.halted[nodeID] = true
	return nil
}

func (s *RunState) finish(nodeID string, to domain.NodeState, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(nodeID, to, errMsg)
}

func (s *RunState) finishLocked(nodeID string, to domain.NodeState, errMsg string) error {
	if s.states[nodeID].IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNodeTerminal, nodeID, s.states[nodeID])
	}
	s.states[nodeID] = to
	if errMsg != "" {
		s.errors[nodeID] = errMsg
	}
	return nil
}

// SetOutput сохраняет значение выходного порта.
func (s *RunState) SetOutput(port *domain.Port, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[port.Key()] = value
}

// SetOutputs сохраняет значения выходных портов узла по именам.
// Порты, для которых значения нет, не изменяются.
func (s *RunState) SetOutputs(node *domain.Node, outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range node.Outputs {
		if v, ok := outputs[out.Name]; ok {
			s.values[out.Key()] = v
		}
	}
}

// OutputValue возвращает значение выходного порта.
func (s *RunState) OutputValue(port *domain.Port) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[port.Key()]
	return v, ok
}

// InputValue возвращает значение входного порта: значение выходного порта
// на другом конце ребра. ok=false, если ребра нет или источник ещё ничего
// не опубликовал.
func (s *RunState) InputValue(port *domain.Port) (any, bool) {
	edges := port.Edges()
	if len(edges) == 0 {
		return nil, false
	}
	return s.OutputValue(edges[0].From)
}

// InputValues возвращает значения входных портов узла по позиции.
func (s *RunState) InputValues(node *domain.Node) []any {
	values := make([]any, len(node.Inputs))
	for i, in := range node.Inputs {
		values[i], _ = s.InputValue(in)
	}
	return values
}

// InputMap возвращает значения входных портов узла по именам портов.
func (s *RunState) InputMap(node *domain.Node) map[string]any {
	values := make(map[string]any, len(node.Inputs))
	for _, in := range node.Inputs {
		if v, ok := s.InputValue(in); ok {
			values[in.Name] = v
		}
	}
	return values
}

// Error возвращает текст ошибки узла.
func (s *RunState) Error(nodeID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[nodeID]
}

// HasFailed проверяет, есть ли упавшие узлы.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, st := range s.states {
		if st == domain.NodeStateFailed && !s.halted[id] {
			return true
		}
	}
	return false
}

// FailedNodes возвращает отсортированный список упавших узлов.
// Прерванные остановкой узлы сюда не входят.
func (s *RunState) FailedNodes() []string {
	return s.nodesWhere(func(id string, st domain.NodeState) bool {
		return st == domain.NodeStateFailed && !s.halted[id]
	})
}

// InterruptedNodes возвращает отсортированный список узлов,
// прерванных остановкой run.
func (s *RunState) InterruptedNodes() []string {
	return s.nodesWhere(func(id string, _ domain.NodeState) bool {
		return s.halted[id]
	})
}

// WaitingNodes возвращает отсортированный список узлов в WAITING.
func (s *RunState) WaitingNodes() []string {
	return s.nodesWhere(func(_ string, st domain.NodeState) bool {
		return st == domain.NodeStateWaiting
	})
}

func (s *RunState) nodesWhere(match func(id string, st domain.NodeState) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, st := range s.states {
		if match(id, st) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ReadyOutputNodes возвращает OUTPUT узлы в WAITING, чей единственный
// источник уже завершён.
func (s *RunState) ReadyOutputNodes() []*domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ready := make([]*domain.Node, 0)
	for _, node := range s.graph.NodesOfKind(domain.NodeKindOutput) {
		if s.states[node.ID] != domain.NodeStateWaiting {
			continue
		}
		producers := node.DataProducers()
		if len(producers) == 1 && s.states[producers[0].ID] == domain.NodeStateFinished {
			ready = append(ready, node)
		}
	}
	return ready
}

// Snapshot возвращает копию состояний всех узлов.
func (s *RunState) Snapshot() map[string]domain.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]domain.NodeState, len(s.states))
	for id, st := range s.states {
		snapshot[id] = st
	}
	return snapshot
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalNodes: len(s.states)}
	for id, st := range s.states {
		if s.halted[id] {
			stats.InterruptedNodes++
			continue
		}
		switch st {
		case domain.NodeStateWaiting:
			stats.WaitingNodes++
		case domain.NodeStateExecuting:
			stats.ExecutingNodes++
		case domain.NodeStateFinished:
			stats.FinishedNodes++
		case domain.NodeStateFailed:
			stats.FailedNodes++
		}
	}
	return stats
}

// RunStats — статистика выполнения графа.
type RunStats struct {
	TotalNodes     int `json:"total_nodes"`
	WaitingNodes   int `json:"waiting_nodes"`
	ExecutingNodes int `json:"executing_nodes"`
	FinishedNodes  int `json:"finished_nodes"`
	FailedNodes    int `json:"failed_nodes"`

	// InterruptedNodes — узлы, прерванные остановкой run.
	InterruptedNodes int `json:"interrupted_nodes,omitempty"`
}

// Pending возвращает количество узлов, которые ещё не завершились.
func (st RunStats) Pending() int {
	return st.WaitingNodes + st.ExecutingNodes
}

// Progressing сообщает, может ли run ещё продвинуться: есть готовые
// узлы или выполняющиеся узлы вне skip. Проверка атомарна.
func (s *RunState) Progressing(skip map[string]bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, st := range s.states {
		if st == domain.NodeStateExecuting && !skip[id] {
			return true
		}
	}
	return len(ReadyNodes(s.graph, lockedView{s})) > 0
}
