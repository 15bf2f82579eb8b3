package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/invoker"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// RetryPolicy — политика повторов неудачного вызова invoker'а.
type RetryPolicy struct {
	// MaxAttempts — общее число попыток, включая первую. По умолчанию 2.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff — "fixed" или "exponential".
	Backoff string `yaml:"backoff" json:"backoff"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

func (p *RetryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 2
	}
	if p.Backoff == "" {
		p.Backoff = "exponential"
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
}

// calculateBackoff вычисляет задержку перед повтором номер attempt (с 1).
func calculateBackoff(attempt int, policy RetryPolicy) time.Duration {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	if policy.Backoff == "exponential" {
		// delay = initialDelay * 2^(attempt-1)
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// permanent — ошибки, которые повтор не исправит.
func permanent(err error) bool {
	return errors.Is(err, invoker.ErrUnknownService) ||
		errors.Is(err, invoker.ErrUnknownOperation) ||
		errors.Is(err, invoker.ErrInvalidArgument)
}

// invokeWithRetry выполняет узел свежим invoker'ом на каждую попытку.
//
// track — привязывать ли invoker к узлу в общей таблице. Реплики тела
// ForEach и итерации DoWhile не привязываются.
func (i *Interpreter) invokeWithRetry(ctx context.Context, node *domain.Node, inputs map[string]any, track bool) (map[string]any, error) {
	policy := i.cfg.Retry
	logger := telemetry.WithNodeID(i.logger, node.ID)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if i.control.State() == domain.ExecutionStopped {
				logger.Debug("execution stopped, not retrying", "attempt", attempt)
				break
			}

			delay := calculateBackoff(attempt-1, policy)
			logger.Debug("retrying invocation",
				"service", node.Service,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			i.cfg.Metrics.NodeRetried(node.Service)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		outputs, err := i.invokeOnce(ctx, node, inputs, track)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if permanent(err) {
			break
		}
	}

	return nil, lastErr
}

// invokeOnce — одна попытка: setup, setOperation, setInput, invoke, getOutput.
func (i *Interpreter) invokeOnce(ctx context.Context, node *domain.Node, inputs map[string]any, track bool) (map[string]any, error) {
	inv, err := i.cfg.Registry.New(node)
	if err != nil {
		return nil, err
	}
	if track {
		i.bind(node.ID, inv)
		defer i.unbind(node.ID)
	}

	if err := inv.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup %s: %w", node.ID, err)
	}
	inv.SetOperation(node.Operation)
	for name, value := range inputs {
		inv.SetInput(name, value)
	}

	ok, err := inv.Invoke(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", invoker.ErrInvocationFailed, node.ID)
	}

	outputs := make(map[string]any, len(node.Outputs))
	for _, out := range node.Outputs {
		v, err := inv.GetOutput(ctx, out.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrMissingOutput, node.ID, out.Name, err)
		}
		outputs[out.Name] = v
	}
	return outputs, nil
}
