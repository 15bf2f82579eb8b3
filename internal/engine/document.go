package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Interflow/internal/domain"
)

// GraphDocument — сериализованное описание графа (YAML или JSON).
//
// Пример:
//
//	name: doubler
//	nodes:
//	  - id: x
//	    kind: INPUT
//	    value: 5
//	  - id: dbl
//	    kind: SERVICE
//	    service: func
//	    operation: double
//	    inputs: [{name: in}]
//	    outputs: [{name: out}]
//	  - id: result
//	    kind: OUTPUT
//	edges:
//	  - {from: x.value, to: dbl.in}
//	  - {from: dbl.out, to: result.value}
type GraphDocument struct {
	Name    string         `yaml:"name" json:"name"`
	Nodes   []NodeDocument `yaml:"nodes" json:"nodes"`
	Edges   []EdgeDocument `yaml:"edges" json:"edges"`
	Control []EdgeDocument `yaml:"control,omitempty" json:"control,omitempty"`
}

// NodeDocument — описание одного узла.
type NodeDocument struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name,omitempty" json:"name,omitempty"`
	Kind       string         `yaml:"kind" json:"kind"`
	Service    string         `yaml:"service,omitempty" json:"service,omitempty"`
	Operation  string         `yaml:"operation,omitempty" json:"operation,omitempty"`
	Expression string         `yaml:"expression,omitempty" json:"expression,omitempty"`
	Value      any            `yaml:"value,omitempty" json:"value,omitempty"`
	Config     map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Break      bool           `yaml:"break,omitempty" json:"break,omitempty"`
	Inputs     []PortDocument `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs    []PortDocument `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	ControlOut []string       `yaml:"control_out,omitempty" json:"control_out,omitempty"`

	// Graph — вложенный граф для SUB_GRAPH (inline).
	Graph *GraphDocument `yaml:"graph,omitempty" json:"graph,omitempty"`

	// GraphFile — путь к файлу вложенного графа, относительно родительского файла.
	GraphFile string `yaml:"graph_file,omitempty" json:"graph_file,omitempty"`
}

// PortDocument — описание порта данных.
type PortDocument struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
}

// EdgeDocument — ребро "node.port" → "node.port".
// Для управляющих рёбер To содержит только ID узла.
type EdgeDocument struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Порты по умолчанию для узлов, у которых они не объявлены.
const (
	defaultValuePort   = "value"
	defaultControlPort = "control"
	ifTruePort         = "true"
	ifFalsePort        = "false"
)

// ParseGraph декодирует граф из YAML/JSON и валидирует его.
func ParseGraph(data []byte) (*domain.Graph, error) {
	return parseGraph(data, "")
}

// LoadGraphFile загружает граф из файла. Пути graph_file вложенных
// графов разрешаются относительно каталога файла.
func LoadGraphFile(path string) (*domain.Graph, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	g, err := parseGraph(content, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	return g, nil
}

func parseGraph(data []byte, baseDir string) (*domain.Graph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc GraphDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode graph document: %w", err)
	}

	g, err := doc.Build(baseDir)
	if err != nil {
		return nil, err
	}

	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Build строит domain.Graph из документа без валидации.
func (d *GraphDocument) Build(baseDir string) (*domain.Graph, error) {
	g := domain.NewGraph(d.Name)

	for i := range d.Nodes {
		node, err := d.Nodes[i].build(baseDir)
		if err != nil {
			return nil, err
		}
		if err := g.AddNode(node); err != nil {
			return nil, NewValidationError(node.ID, "id", err.Error(), err)
		}
	}

	for _, e := range d.Edges {
		fromID, fromPort, err := splitRef(e.From, defaultValuePort)
		if err != nil {
			return nil, err
		}
		toID, toPort, err := splitRef(e.To, defaultValuePort)
		if err != nil {
			return nil, err
		}
		if err := g.Connect(fromID, fromPort, toID, toPort); err != nil {
			return nil, NewValidationError(toID, "edges", err.Error(), err)
		}
	}

	for _, e := range d.Control {
		fromID, fromPort, err := splitRef(e.From, defaultControlPort)
		if err != nil {
			return nil, err
		}
		toID, _, err := splitRef(e.To, "")
		if err != nil {
			return nil, err
		}
		// Управляющий выход по умолчанию создаётся по первому обращению.
		if from := g.Node(fromID); from != nil && from.Kind != domain.NodeKindIf &&
			fromPort == defaultControlPort && from.ControlOutByName(fromPort) == nil {
			from.AddControlOut(defaultControlPort)
		}
		if err := g.ConnectControl(fromID, fromPort, toID); err != nil {
			return nil, NewValidationError(toID, "control", err.Error(), err)
		}
	}

	return g, nil
}

func (nd *NodeDocument) build(baseDir string) (*domain.Node, error) {
	kind := domain.NodeKind(strings.ToUpper(nd.Kind))
	name := nd.Name
	if name == "" {
		name = nd.ID
	}

	node := &domain.Node{
		ID:         nd.ID,
		Name:       name,
		Kind:       kind,
		Service:    nd.Service,
		Operation:  nd.Operation,
		Expression: nd.Expression,
		Value:      nd.Value,
		Config:     nd.Config,
		Break:      nd.Break,
	}

	for _, p := range nd.Inputs {
		node.AddInput(p.Name, p.Type)
	}
	for _, p := range nd.Outputs {
		node.AddOutput(p.Name, p.Type)
	}

	// Порты по умолчанию
	switch kind {
	case domain.NodeKindInput, domain.NodeKindConstant:
		if len(node.Outputs) == 0 {
			node.AddOutput(defaultValuePort, "")
		}
	case domain.NodeKindOutput:
		if len(node.Inputs) == 0 {
			node.AddInput(defaultValuePort, "")
		}
	case domain.NodeKindIf:
		if len(nd.ControlOut) == 0 {
			node.AddControlOut(ifTruePort)
			node.AddControlOut(ifFalsePort)
		}
	}

	for _, name := range nd.ControlOut {
		node.AddControlOut(name)
	}

	if kind == domain.NodeKindSubGraph {
		sub, err := nd.buildSubGraph(baseDir)
		if err != nil {
			return nil, err
		}
		node.SubGraph = sub
	}

	return node, nil
}

func (nd *NodeDocument) buildSubGraph(baseDir string) (*domain.Graph, error) {
	switch {
	case nd.Graph != nil:
		sub, err := nd.Graph.Build(baseDir)
		if err != nil {
			return nil, fmt.Errorf("sub-graph %s: %w", nd.ID, err)
		}
		if sub.Name == "" {
			sub.Name = nd.ID
		}
		return sub, nil
	case nd.GraphFile != "":
		path := nd.GraphFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sub-graph %s: read %s: %w", nd.ID, path, err)
		}
		var doc GraphDocument
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("sub-graph %s: decode %s: %w", nd.ID, path, err)
		}
		return doc.Build(filepath.Dir(path))
	default:
		// Отсутствие графа ловит Validate.
		return nil, nil
	}
}

// splitRef разбирает ссылку "node.port". Если порт не указан, используется def.
func splitRef(ref, def string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: empty reference", ErrInvalidEdge)
	}
	nodeID, port, found := strings.Cut(ref, ".")
	if !found {
		if def == "" {
			return nodeID, "", nil
		}
		return nodeID, def, nil
	}
	if nodeID == "" || port == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEdge, ref)
	}
	return nodeID, port, nil
}
