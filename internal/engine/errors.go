package engine

import "errors"

// Ошибки валидации графа.
var (
	// ErrEmptyGraph — граф не содержит узлов.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrUnknownNodeKind — неизвестный тип узла.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrMissingService — SERVICE узел без имени сервиса.
	ErrMissingService = errors.New("service node has no service")

	// ErrMissingExpression — IF или DO_WHILE без выражения.
	ErrMissingExpression = errors.New("node has no expression")

	// ErrMissingSubGraph — SUB_GRAPH узел без вложенного графа.
	ErrMissingSubGraph = errors.New("sub-graph node has no graph")

	// ErrMultipleEdges — во входной порт данных входит больше одного ребра.
	ErrMultipleEdges = errors.New("input port has more than one edge")

	// ErrIfControlPorts — у IF должно быть ровно два управляющих выхода.
	ErrIfControlPorts = errors.New("if node must have exactly two control outputs")

	// ErrEndIfPorts — входы END_IF должны идти парами на каждый выход.
	ErrEndIfPorts = errors.New("end-if inputs must come in pairs per output")

	// ErrScopeBody — область ForEach/DoWhile должна содержать ровно одно тело.
	ErrScopeBody = errors.New("scope must contain exactly one body node")

	// ErrScopeEnd — тело ForEach/DoWhile не соединено с закрывающим узлом.
	ErrScopeEnd = errors.New("scope body is not connected to its end node")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки парсинга документа графа.
var (
	// ErrEmptyDocument — пустой документ.
	ErrEmptyDocument = errors.New("graph document is empty")

	// ErrInvalidEdge — ребро в документе имеет неверный формат.
	ErrInvalidEdge = errors.New("invalid edge reference")
)

// Ошибки вычисления выражений.
var (
	// ErrExpressionParse — выражение не парсится.
	ErrExpressionParse = errors.New("expression parse failed")

	// ErrExpressionEval — ошибка вычисления выражения.
	ErrExpressionEval = errors.New("expression evaluation failed")

	// ErrExpressionNotBool — выражение вернуло не булево значение.
	ErrExpressionNotBool = errors.New("expression result is not a bool")

	// ErrArgumentIndex — выражение ссылается на несуществующий аргумент.
	ErrArgumentIndex = errors.New("expression argument index out of range")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
