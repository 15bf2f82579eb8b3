package interaction

import (
	"context"
	"errors"
)

// Multi рассылает события всем портам по порядку. Вложенный интерпретатор
// берётся у первого порта, который его поставляет.
type Multi []Port

// Notify реализует Port.
func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Notify(ctx, ev)
	}
}

// NestedInterpreter реализует Port.
func (m Multi) NestedInterpreter(ctx context.Context, req NestedRequest) (NestedRunner, error) {
	for _, p := range m {
		runner, err := p.NestedInterpreter(ctx, req)
		if errors.Is(err, ErrNestedUnsupported) {
			continue
		}
		return runner, err
	}
	return nil, ErrNestedUnsupported
}
