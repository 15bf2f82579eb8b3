package interaction

import (
	"context"
	"errors"

	"github.com/shaiso/Interflow/internal/domain"
)

// ErrNestedUnsupported — порт не поставляет своих вложенных интерпретаторов,
// интерпретатор строит вложенный run сам.
var ErrNestedUnsupported = errors.New("nested interpreter not supplied by port")

// Port — граница между интерпретатором и фронтендом.
//
// Наружу идут события (Notify), внутрь — единственный запрос:
// интерпретатор для вложенного графа (NestedInterpreter). Так один и тот же
// цикл работает без присмотра или под управлением человека.
type Port interface {
	// Notify доставляет событие. Реализация не должна паниковать;
	// ошибки доставки реализация обрабатывает сама.
	Notify(ctx context.Context, ev Event)

	// NestedInterpreter возвращает runner для вложенного графа
	// или ErrNestedUnsupported.
	NestedInterpreter(ctx context.Context, req NestedRequest) (NestedRunner, error)
}

// NestedRequest — запрос на вложенный интерпретатор.
type NestedRequest struct {
	ParentRunID string
	NodeID      string
	Depth       int
	Graph       *domain.Graph
	Inputs      map[string]any
}

// NestedRunner выполняет вложенный граф до конца.
type NestedRunner interface {
	RunNested(ctx context.Context) (NestedResult, error)
}

// NestedResult — итог вложенного run.
type NestedResult struct {
	Status  domain.RunStatus
	Outputs map[string]any

	// Stopped — вложенный run закончился остановкой, выходы могут быть неполными.
	Stopped bool
}

// Nop — порт, который ничего не делает.
type Nop struct{}

// Notify реализует Port.
func (Nop) Notify(context.Context, Event) {}

// NestedInterpreter реализует Port.
func (Nop) NestedInterpreter(context.Context, NestedRequest) (NestedRunner, error) {
	return nil, ErrNestedUnsupported
}
