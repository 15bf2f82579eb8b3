package domain

import (
	"errors"
	"fmt"
)

// Ошибки построения графа.
var (
	// ErrDuplicateNode — узел с таким ID уже есть в графе.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrUnknownNode — ребро ссылается на несуществующий узел.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownPort — ребро ссылается на несуществующий порт.
	ErrUnknownPort = errors.New("unknown port")

	// ErrPortKindMismatch — ребро соединяет порт данных с управляющим.
	ErrPortKindMismatch = errors.New("port kind mismatch")
)

// Graph — граф workflow: узлы, порты и рёбра.
//
// Graph создаётся внешним компонентом (парсером) и не изменяется
// во время выполнения. Состояние выполнения хранится отдельно, поэтому
// один граф можно запускать много раз и параллельно.
type Graph struct {
	// Name — имя workflow.
	Name string

	nodes []*Node
	index map[string]*Node
	edges []*Edge
}

// NewGraph создаёт пустой граф.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		index: make(map[string]*Node),
	}
}

// AddNode добавляет узел в граф.
func (g *Graph) AddNode(n *Node) error {
	if _, exists := g.index[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.index[n.ID] = n
	g.nodes = append(g.nodes, n)
	return nil
}

// Node возвращает узел по ID или nil.
func (g *Graph) Node(id string) *Node {
	return g.index[id]
}

// Nodes возвращает узлы в порядке добавления.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Edges возвращает все рёбра графа.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// NodesOfKind возвращает узлы указанного типа в порядке добавления.
func (g *Graph) NodesOfKind(kind NodeKind) []*Node {
	var result []*Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			result = append(result, n)
		}
	}
	return result
}

// InputNodeByName возвращает Input узел с указанным именем.
func (g *Graph) InputNodeByName(name string) *Node {
	for _, n := range g.nodes {
		if n.Kind == NodeKindInput && n.Name == name {
			return n
		}
	}
	return nil
}

// Connect соединяет выходной порт данных fromPort узла fromID
// с входным портом toPort узла toID.
func (g *Graph) Connect(fromID, fromPort, toID, toPort string) error {
	from, to, err := g.endpoints(fromID, toID)
	if err != nil {
		return err
	}

	src := from.OutputByName(fromPort)
	if src == nil {
		return fmt.Errorf("%w: %s.%s (output)", ErrUnknownPort, fromID, fromPort)
	}
	dst := to.InputByName(toPort)
	if dst == nil {
		return fmt.Errorf("%w: %s.%s (input)", ErrUnknownPort, toID, toPort)
	}

	g.link(src, dst)
	return nil
}

// ConnectControl соединяет выходной управляющий порт fromPort узла fromID
// с управляющим входом узла toID.
func (g *Graph) ConnectControl(fromID, fromPort, toID string) error {
	from, to, err := g.endpoints(fromID, toID)
	if err != nil {
		return err
	}

	src := from.ControlOutByName(fromPort)
	if src == nil {
		if from.OutputByName(fromPort) != nil {
			return fmt.Errorf("%w: %s.%s is a data port", ErrPortKindMismatch, fromID, fromPort)
		}
		return fmt.Errorf("%w: %s.%s (control)", ErrUnknownPort, fromID, fromPort)
	}

	g.link(src, to.EnsureControlIn())
	return nil
}

func (g *Graph) endpoints(fromID, toID string) (*Node, *Node, error) {
	from := g.index[fromID]
	if from == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, fromID)
	}
	to := g.index[toID]
	if to == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, toID)
	}
	return from, to, nil
}

func (g *Graph) link(src, dst *Port) {
	e := &Edge{From: src, To: dst}
	src.edges = append(src.edges, e)
	dst.edges = append(dst.edges, e)
	g.edges = append(g.edges, e)
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}
