package invoker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Interflow/internal/domain"
)

// Invoker — выполняет работу одного узла и отдаёт его выходы по именам портов.
//
// Экземпляр одноразовый: создаётся на каждую попытку выполнения узла
// (и на каждый элемент ForEach) и выбрасывается после сбора выходов.
//
// Порядок вызовов:
//
//	Setup → SetOperation → SetInput... → Invoke → GetOutput/GetOutputs
type Invoker interface {
	// Setup готовит invoker к вызову (соединения, сессии).
	Setup(ctx context.Context) error

	// SetOperation задаёт имя операции сервиса.
	SetOperation(name string)

	// SetInput задаёт значение входного порта. Можно вызывать повторно.
	SetInput(port string, value any)

	// Invoke выполняет вызов. false всегда сопровождается ошибкой.
	Invoke(ctx context.Context) (bool, error)

	// GetOutput блокируется, пока значение порта не станет доступно
	// или пока не станет известно, что вызов упал.
	GetOutput(ctx context.Context, port string) (any, error)

	// GetOutputs возвращает все доступные выходы.
	GetOutputs() map[string]any
}

// Factory создаёт новый invoker для узла.
type Factory func(node *domain.Node) (Invoker, error)

// Registry — реестр фабрик invoker'ов по имени сервиса.
//
// Потокобезопасен.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry создаёт реестр со стандартными сервисами: http, func и template.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("http", NewHTTPFactory(nil))
	r.Register("func", NewFuncFactory(DefaultFunctions()))
	r.Register("template", NewTemplateFactory())
	return r
}

// Register регистрирует фабрику сервиса.
// Если сервис с таким именем уже есть, он будет перезаписан.
func (r *Registry) Register(service string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[service] = factory
}

// Get возвращает фабрику по имени сервиса.
func (r *Registry) Get(service string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return factory, nil
}

// New создаёт новый invoker для узла по его Service.
func (r *Registry) New(node *domain.Node) (Invoker, error) {
	factory, err := r.Get(node.Service)
	if err != nil {
		return nil, err
	}
	return factory(node)
}

// Has проверяет, зарегистрирован ли сервис.
func (r *Registry) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[service]
	return ok
}

// Services возвращает отсортированный список сервисов.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.factories))
	for s := range r.factories {
		services = append(services, s)
	}
	sort.Strings(services)
	return services
}

// base — общая часть invoker'ов: входы, операция и блокирующая выдача выходов.
type base struct {
	operation string

	mu      sync.Mutex
	inputs  map[string]any
	outputs map[string]any
	err     error
	invoked bool
	done    chan struct{}
}

func newBase() base {
	return base{
		inputs:  make(map[string]any),
		outputs: make(map[string]any),
		done:    make(chan struct{}),
	}
}

func (b *base) SetOperation(name string) {
	b.operation = name
}

func (b *base) SetInput(port string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs[port] = value
}

// begin отмечает начало вызова и возвращает копию входов.
func (b *base) begin() (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.invoked {
		return nil, ErrAlreadyInvoked
	}
	b.invoked = true

	inputs := make(map[string]any, len(b.inputs))
	for k, v := range b.inputs {
		inputs[k] = v
	}
	return inputs, nil
}

// finish публикует результат вызова и будит ожидающих GetOutput.
func (b *base) finish(outputs map[string]any, err error) (bool, error) {
	b.mu.Lock()
	for k, v := range outputs {
		b.outputs[k] = v
	}
	b.err = err
	b.mu.Unlock()
	close(b.done)

	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *base) GetOutput(ctx context.Context, port string) (any, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvocationFailed, b.err)
	}
	v, ok := b.outputs[port]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, port)
	}
	return v, nil
}

func (b *base) GetOutputs() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	outputs := make(map[string]any, len(b.outputs))
	for k, v := range b.outputs {
		outputs[k] = v
	}
	return outputs
}
