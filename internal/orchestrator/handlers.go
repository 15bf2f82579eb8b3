package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/mq"
)

// handleControl обрабатывает команду управления из очереди.
//
// Команды для неизвестных runs уходят в DLQ: их мог запустить другой
// экземпляр. Недопустимый переход (например resume без pause)
// подтверждается и только логируется.
func (o *Orchestrator) handleControl(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ControlPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: parse control payload: %v", mq.ErrPermanent, err)
	}

	o.logger.Debug("received control command",
		"run_id", payload.RunID,
		"command", payload.Command,
	)

	err = o.Command(payload.RunID, payload.Command)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrRunNotActive):
		return fmt.Errorf("%w: %v", mq.ErrPermanent, err)
	case errors.Is(err, interpreter.ErrInvalidTransition):
		o.logger.Warn("control command rejected",
			"run_id", payload.RunID,
			"command", payload.Command,
			"error", err,
		)
		return nil
	default:
		return err
	}
}
