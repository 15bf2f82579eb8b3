package domain

import "fmt"

// NodeKind — тип узла графа.
//
// Тип определяет, какой обработчик выполняет узел и по какому правилу
// вычисляется его готовность.
type NodeKind string

const (
	// NodeKindInput — входной параметр workflow (значение задано до запуска).
	NodeKindInput NodeKind = "INPUT"

	// NodeKindOutput — выходное значение workflow.
	NodeKindOutput NodeKind = "OUTPUT"

	// NodeKindConstant — константа, известная до запуска.
	NodeKindConstant NodeKind = "CONSTANT"

	// NodeKindService — вызов внешнего сервиса через Invoker.
	NodeKindService NodeKind = "SERVICE"

	// NodeKindIf — условное ветвление.
	NodeKindIf NodeKind = "IF"

	// NodeKindEndIf — слияние веток условия.
	NodeKindEndIf NodeKind = "END_IF"

	// NodeKindForEach — начало области репликации.
	NodeKindForEach NodeKind = "FOR_EACH"

	// NodeKindEndForEach — конец области репликации, собирает коллекции.
	NodeKindEndForEach NodeKind = "END_FOR_EACH"

	// NodeKindDoWhile — начало ограниченного цикла.
	NodeKindDoWhile NodeKind = "DO_WHILE"

	// NodeKindEndDoWhile — конец цикла, публикует значения последней итерации.
	NodeKindEndDoWhile NodeKind = "END_DO_WHILE"

	// NodeKindSubGraph — вложенный workflow.
	NodeKindSubGraph NodeKind = "SUB_GRAPH"

	// NodeKindLifecycleStart — выделение внешнего ресурса.
	NodeKindLifecycleStart NodeKind = "LIFECYCLE_START"

	// NodeKindLifecycleEnd — освобождение внешнего ресурса.
	NodeKindLifecycleEnd NodeKind = "LIFECYCLE_END"
)

// AllNodeKinds — все известные типы узлов.
var AllNodeKinds = []NodeKind{
	NodeKindInput, NodeKindOutput, NodeKindConstant, NodeKindService,
	NodeKindIf, NodeKindEndIf, NodeKindForEach, NodeKindEndForEach,
	NodeKindDoWhile, NodeKindEndDoWhile, NodeKindSubGraph,
	NodeKindLifecycleStart, NodeKindLifecycleEnd,
}

// IsValid проверяет, что тип узла известен.
func (k NodeKind) IsValid() bool {
	for _, known := range AllNodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsSource возвращает true для узлов, значение которых известно до запуска.
func (k NodeKind) IsSource() bool {
	return k == NodeKindInput || k == NodeKindConstant
}

// IsBody возвращает true для типов, которые могут быть телом ForEach/DoWhile.
func (k NodeKind) IsBody() bool {
	return k == NodeKindService || k == NodeKindSubGraph
}

// NodeState — состояние выполнения узла.
//
// Жизненный цикл (ровно один раз за run):
//
//	WAITING → EXECUTING → FINISHED
//	                    ↘ FAILED
type NodeState string

const (
	// NodeStateWaiting — узел ждёт готовности зависимостей.
	NodeStateWaiting NodeState = "WAITING"

	// NodeStateExecuting — узел выполняется.
	NodeStateExecuting NodeState = "EXECUTING"

	// NodeStateFinished — узел успешно завершён.
	NodeStateFinished NodeState = "FINISHED"

	// NodeStateFailed — узел завершился с ошибкой.
	NodeStateFailed NodeState = "FAILED"
)

// IsTerminal возвращает true, если состояние финальное.
func (s NodeState) IsTerminal() bool {
	return s == NodeStateFinished || s == NodeStateFailed
}

// PortKind — тип порта.
type PortKind string

const (
	// PortKindData — порт данных, передаёт значение.
	PortKindData PortKind = "DATA"

	// PortKindControl — управляющий порт, передаёт только флаг "условие выполнено".
	PortKindControl PortKind = "CONTROL"
)

// PortDirection — направление порта относительно узла.
type PortDirection string

const (
	PortIn  PortDirection = "IN"
	PortOut PortDirection = "OUT"
)

// Port — точка подключения рёбер к узлу.
type Port struct {
	// Name — имя порта, уникальное среди портов узла в одном направлении.
	Name string `json:"name" yaml:"name"`

	// Type — объявленный тип значения (только для портов данных).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Kind — данные или управление.
	Kind PortKind `json:"kind" yaml:"kind"`

	// Direction — входной или выходной.
	Direction PortDirection `json:"direction" yaml:"direction"`

	// Index — позиция порта в списке портов узла.
	Index int `json:"index" yaml:"index"`

	node  *Node
	edges []*Edge
}

// Node возвращает узел, которому принадлежит порт.
func (p *Port) Node() *Node {
	return p.node
}

// Edges возвращает рёбра, подключённые к порту.
func (p *Port) Edges() []*Edge {
	return p.edges
}

// Key возвращает глобальный ключ порта внутри графа.
func (p *Port) Key() PortKey {
	return PortKey{NodeID: p.node.ID, Port: p.Name, Direction: p.Direction, Kind: p.Kind}
}

// PortKey — адрес порта в графе. Используется как ключ в картах состояния run.
type PortKey struct {
	NodeID    string
	Port      string
	Direction PortDirection
	Kind      PortKind
}

// String реализует fmt.Stringer.
func (k PortKey) String() string {
	return fmt.Sprintf("%s.%s", k.NodeID, k.Port)
}

// Edge — ребро от выходного порта к входному.
type Edge struct {
	From *Port
	To   *Port
}

// IsControl возвращает true для управляющего ребра.
func (e *Edge) IsControl() bool {
	return e.From.Kind == PortKindControl
}

// Node — узел графа workflow.
//
// Node не содержит состояния выполнения: состояние принадлежит конкретному
// run, а один и тот же граф может выполняться многократно.
type Node struct {
	// ID — идентификатор узла, уникальный в графе.
	ID string `json:"id"`

	// Name — человекочитаемое имя. Для Input/Output узлов имя связывает
	// порты SubGraph узла с узлами вложенного графа.
	Name string `json:"name"`

	// Kind — тип узла.
	Kind NodeKind `json:"kind"`

	// Service — имя invoker'а в реестре (для SERVICE).
	Service string `json:"service,omitempty"`

	// Operation — имя операции сервиса.
	Operation string `json:"operation,omitempty"`

	// Expression — булево выражение для IF и DO_WHILE.
	// $0, $1, ... ссылаются на значения входных портов по позиции.
	Expression string `json:"expression,omitempty"`

	// Value — значение Input/Constant узла.
	Value any `json:"value,omitempty"`

	// Config — дополнительная конфигурация invoker'а (url, timeout_sec и т.п.).
	Config map[string]any `json:"config,omitempty"`

	// Break — точка останова: run ставится на паузу после запуска узла.
	Break bool `json:"break,omitempty"`

	// SubGraph — вложенный граф (для SUB_GRAPH).
	SubGraph *Graph `json:"-"`

	// Inputs, Outputs — порты данных в порядке объявления.
	Inputs  []*Port `json:"-"`
	Outputs []*Port `json:"-"`

	// ControlIn — единственный входной управляющий порт (может быть nil).
	ControlIn *Port `json:"-"`

	// ControlOut — выходные управляющие порты. У IF первый порт — ветка true,
	// второй — ветка false.
	ControlOut []*Port `json:"-"`
}

// AddInput добавляет входной порт данных.
func (n *Node) AddInput(name, typ string) *Port {
	p := &Port{Name: name, Type: typ, Kind: PortKindData, Direction: PortIn, Index: len(n.Inputs), node: n}
	n.Inputs = append(n.Inputs, p)
	return p
}

// AddOutput добавляет выходной порт данных.
func (n *Node) AddOutput(name, typ string) *Port {
	p := &Port{Name: name, Type: typ, Kind: PortKindData, Direction: PortOut, Index: len(n.Outputs), node: n}
	n.Outputs = append(n.Outputs, p)
	return p
}

// EnsureControlIn возвращает входной управляющий порт, создавая его при необходимости.
func (n *Node) EnsureControlIn() *Port {
	if n.ControlIn == nil {
		n.ControlIn = &Port{Name: "control", Kind: PortKindControl, Direction: PortIn, node: n}
	}
	return n.ControlIn
}

// AddControlOut добавляет выходной управляющий порт.
func (n *Node) AddControlOut(name string) *Port {
	p := &Port{Name: name, Kind: PortKindControl, Direction: PortOut, Index: len(n.ControlOut), node: n}
	n.ControlOut = append(n.ControlOut, p)
	return p
}

// InputByName возвращает входной порт по имени.
func (n *Node) InputByName(name string) *Port {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// OutputByName возвращает выходной порт по имени.
func (n *Node) OutputByName(name string) *Port {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ControlOutByName возвращает выходной управляющий порт по имени.
func (n *Node) ControlOutByName(name string) *Port {
	for _, p := range n.ControlOut {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// DataProducers возвращает узлы, которые питают входные порты данных.
func (n *Node) DataProducers() []*Node {
	var producers []*Node
	seen := make(map[string]bool)
	for _, in := range n.Inputs {
		for _, e := range in.edges {
			src := e.From.node
			if !seen[src.ID] {
				seen[src.ID] = true
				producers = append(producers, src)
			}
		}
	}
	return producers
}

// DataConsumers возвращает узлы, которые читают выходные порты данных.
func (n *Node) DataConsumers() []*Node {
	var consumers []*Node
	seen := make(map[string]bool)
	for _, out := range n.Outputs {
		for _, e := range out.edges {
			dst := e.To.node
			if !seen[dst.ID] {
				seen[dst.ID] = true
				consumers = append(consumers, dst)
			}
		}
	}
	return consumers
}

// ControlSources возвращает рёбра, входящие в управляющий порт.
func (n *Node) ControlSources() []*Edge {
	if n.ControlIn == nil {
		return nil
	}
	return n.ControlIn.edges
}

// String реализует fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.ID, n.Kind)
}
