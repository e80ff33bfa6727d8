package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer delivers queue notifications
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// ListenForWakeups consumes job notifications and wakes the polling loop for
// each one. The database stays the source of truth, so a lost or duplicate
// notification only changes latency. It returns nil when ctx is canceled or
// the delivery channel closes; the loop keeps polling either way.
func (w *Worker) ListenForWakeups(ctx context.Context, consumer Consumer) error {
	deliveries, err := consumer.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Wake-up listener started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Wake-up listener stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				return nil
			}
			w.handleDelivery(delivery)
		}
	}
}

func (w *Worker) handleDelivery(delivery amqp.Delivery) {
	// Parse message body to extract job_id
	var msg struct {
		JobID string `json:"job_id"`
	}

	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// NACK without requeue - malformed messages go to DLQ
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK message with invalid job_id",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK job notification",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Debug("Job notification received",
		slog.String("job_id", msg.JobID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
	w.Wake()
}
