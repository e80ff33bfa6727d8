// Package notify tells workers that a job was enqueued.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier announces newly committed jobs
type Notifier interface {
	JobEnqueued(ctx context.Context, jobID uuid.UUID)
}

// Publisher is the broker side of a Notifier
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Message is the notification body
type Message struct {
	JobID string `json:"job_id"`
}

// Broker publishes job notifications through a message broker. Failures are
// logged only: workers still find the job on their next poll.
type Broker struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewBroker creates a broker-backed notifier
func NewBroker(publisher Publisher, logger *slog.Logger) *Broker {
	return &Broker{publisher: publisher, logger: logger}
}

// JobEnqueued publishes {"job_id": ...}
func (b *Broker) JobEnqueued(ctx context.Context, jobID uuid.UUID) {
	body, err := json.Marshal(Message{JobID: jobID.String()})
	if err != nil {
		b.logger.Error("Failed to encode job notification",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := b.publisher.Publish(ctx, body, "application/json"); err != nil {
		b.logger.Warn("Failed to publish job notification, workers will pick it up by polling",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	b.logger.Debug("Job notification published",
		slog.String("job_id", jobID.String()),
	)
}

// Nop drops notifications
type Nop struct{}

// JobEnqueued does nothing
func (Nop) JobEnqueued(context.Context, uuid.UUID) {}
