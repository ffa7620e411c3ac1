package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photo-restore/internal/domain"
	workerdomain "github.com/cuongbtq/photo-restore/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// setupConsumer starts consuming from the task queue. QoS is applied by the client.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// Create unique consumer tag using worker ID
	consumerTag := w.workerID

	deliveries, err := w.source.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches runs to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			msg, err := parseRunMessage(delivery.Body)
			if err != nil {
				w.logger.Error("Dropping malformed run message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - malformed messages go to the DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg.DeliveryTag = delivery.DeliveryTag
			msg.Delivery = delivery

			if !w.dispatch(ctx, msg) {
				return nil
			}
		}
	}
}

// dispatch hands msg to the pool. It returns false, after requeueing msg, when the worker stops first.
func (w *Worker) dispatch(ctx context.Context, msg *workerdomain.RunMessage) bool {
	select {
	case w.jobsChan <- msg:
		w.logger.Debug("Run dispatched to worker pool",
			slog.String("run_id", msg.RunID),
			slog.Uint64("delivery_tag", msg.DeliveryTag),
		)
		return true
	case <-ctx.Done():
	case <-w.stopChan:
	}

	w.logger.Info("Message dispatcher stopped while dispatching run")
	// NACK the message so it can be reprocessed
	if nackErr := msg.Delivery.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("error", nackErr.Error()),
		)
	}
	return false
}

func parseRunMessage(body []byte) (*workerdomain.RunMessage, error) {
	var m domain.RunMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", workerdomain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(m.RunID); err != nil {
		return nil, fmt.Errorf("%w: run_id %q is not a UUID", workerdomain.ErrInvalidPayload, m.RunID)
	}
	return &workerdomain.RunMessage{RunID: m.RunID, TaskName: m.TaskName}, nil
}
