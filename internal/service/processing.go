package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bank_turns/backend/internal/events"
	"github.com/bank_turns/backend/internal/models"
)

// Executor performs a single banking operation against the account, card and
// customer records. It runs while the operation's resource keys are held.
type Executor interface {
	Execute(ctx context.Context, turn *models.Turn, op models.Operation) error
}

type ExecutorFunc func(ctx context.Context, turn *models.Turn, op models.Operation) error

func (f ExecutorFunc) Execute(ctx context.Context, turn *models.Turn, op models.Operation) error {
	return f(ctx, turn, op)
}

// serve runs one turn on one worker from in_progress to a terminal status.
func (d *Dispatcher) serve(ctx context.Context, slot *workerSlot, turn *models.Turn) {
	if err := turn.StartService(string(slot.info.Kind), slot.acceptOps); err != nil {
		if errors.Is(err, models.ErrServiceRejected) {
			// an advisor-only operation was appended after the dequeue
			if qErr := d.Turns.Queue.Enqueue(turn); qErr != nil {
				d.Logger.Error().Err(qErr).Str("turn_id", turn.ID).Msg("failed to requeue turn")
			}
			d.Logger.Debug().Str("turn_id", turn.ID).Str("worker", slot.info.ID).Msg("turn handed back to the queue")
			return
		}
		d.Logger.Warn().Err(err).Str("turn_id", turn.ID).Msg("dequeued turn is not pending")
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.assign(slot, turn, cancel)
	d.Turns.publish(ctx, events.EventTurnStatusChanged, turn, models.StatusPending, slot.info.ID)

	start := time.Now()
	executed, err := d.runOperations(turnCtx, turn)
	if err != nil {
		if markErr := turn.MarkFailed(err.Error()); markErr != nil && !errors.Is(markErr, models.ErrInvalidTransition) {
			d.Logger.Error().Err(markErr).Str("turn_id", turn.ID).Msg("failed to mark turn failed")
		}
	}

	status := turn.Status()
	tracked := d.release(slot, turn)

	logEvent := d.Logger.Info()
	if status == models.StatusFailed {
		logEvent = d.Logger.Warn().Str("reason", turn.FailReason())
	}
	logEvent.
		Str("turn_id", turn.ID).
		Str("worker", slot.info.ID).
		Str("status", string(status)).
		Int("operations", executed).
		Dur("elapsed", time.Since(start)).
		Msg("turn finished")

	if !tracked {
		return
	}
	d.Turns.publish(ctx, events.EventTurnStatusChanged, turn, models.StatusInProgress, slot.info.ID)
	d.Turns.Retire(ctx, turn)
}

// runOperations executes operations in append order until none remain. The
// turn is completed only when the last one ran and nothing new was added.
func (d *Dispatcher) runOperations(ctx context.Context, turn *models.Turn) (int, error) {
	executed := 0
	for {
		if turn.Status() != models.StatusInProgress {
			return executed, nil
		}

		op, ok := turn.OperationAt(executed)
		if !ok {
			done, err := turn.CompleteAfter(executed)
			if err != nil {
				if turn.Status().Terminal() {
					return executed, nil
				}
				return executed, err
			}
			if done {
				return executed, nil
			}
			continue
		}

		err := d.Guard.WithResources(ctx, turn.ID, op.ResourceKeys(), func() error {
			return d.Executor.Execute(ctx, turn, op)
		})
		if err != nil {
			return executed, fmt.Errorf("operation %d (%s): %w", executed+1, op.Type, err)
		}
		executed++
	}
}
