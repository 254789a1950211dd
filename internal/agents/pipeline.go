package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"botarmy/internal/events"
	"botarmy/internal/logging"
	"botarmy/internal/metrics"
	"botarmy/internal/models"
	"botarmy/internal/store"
)

// Runner drains the message queue through the agent pipeline. Processing is
// strictly sequential: one message at a time, agents in pipeline order, each
// handoff enqueued by one agent picked up on the next sweep.
type Runner struct {
	store    *store.Store
	registry *Registry
	broker   *events.Broker
	log      *zap.Logger

	maxAttempts int

	mu sync.Mutex // one drain at a time
}

// NewRunner creates a pipeline runner.
func NewRunner(st *store.Store, registry *Registry, broker *events.Broker) *Runner {
	return &Runner{
		store:       st,
		registry:    registry,
		broker:      broker,
		log:         logging.L().Named("pipeline"),
		maxAttempts: 3,
	}
}

// Drain processes pending messages until the queue is empty or ctx is
// cancelled. Messages produced by handoffs during the drain are processed in
// the same call.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed := false
		for _, agent := range r.registry.All() {
			if agent.Paused() {
				continue
			}

			msgs, err := r.store.PendingMessages(agent.ID())
			if err != nil {
				return err
			}
			for i := range msgs {
				if err := ctx.Err(); err != nil {
					return err
				}
				r.processOne(ctx, agent, &msgs[i])
				processed = true
			}
		}

		r.updateQueueGauge()
		if !processed {
			return nil
		}
	}
}

func (r *Runner) processOne(ctx context.Context, agent Agent, msg *models.Message) {
	if err := r.store.UpdateMessageStatus(msg.ID, models.MessageStatusProcessing); err != nil {
		r.log.Error("failed to claim message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	result, err := agent.ProcessMessage(ctx, msg)
	if err != nil {
		r.handleFailure(agent, msg, err)
		return
	}

	if err := r.store.UpdateMessageStatus(msg.ID, models.MessageStatusCompleted); err != nil {
		r.log.Error("failed to complete message", zap.String("message_id", msg.ID), zap.Error(err))
	}
	r.log.Info("message processed",
		zap.String("agent", agent.ID()),
		zap.String("message_id", msg.ID),
		zap.String("result", result.Status),
		zap.Int("tokens", result.TokensUsed))
}

func (r *Runner) handleFailure(agent Agent, msg *models.Message, procErr error) {
	if errors.Is(procErr, ErrPaused) {
		// Put the message back; it will be picked up after a resume.
		if err := r.store.UpdateMessageStatus(msg.ID, models.MessageStatusPending); err != nil {
			r.log.Error("failed to requeue message", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	r.log.Warn("message processing failed",
		zap.String("agent", agent.ID()),
		zap.String("message_id", msg.ID),
		zap.Int("attempt", msg.AttemptNumber),
		zap.Error(procErr))

	if msg.AttemptNumber < r.maxAttempts {
		if err := r.store.IncrementMessageAttempt(msg.ID); err != nil {
			r.log.Error("failed to schedule retry", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	if err := r.store.UpdateMessageStatus(msg.ID, models.MessageStatusFailed); err != nil {
		r.log.Error("failed to fail message", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if r.broker != nil {
		r.broker.Publish(events.Event{
			Type:      events.TypeLogMessage,
			ProjectID: msg.ProjectID,
			Payload: map[string]interface{}{
				"id":   msg.ID,
				"text": fmt.Sprintf("%s failed after %d attempts: %v", agent.ID(), msg.AttemptNumber, procErr),
				"type": "error",
			},
		})
	}
}

func (r *Runner) updateQueueGauge() {
	if n, err := r.store.PendingMessageCount(); err == nil {
		metrics.PendingMessages.Set(float64(n))
	}
}
