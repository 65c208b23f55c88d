package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	drainBatch = 100
	maxBackoff = 5 * time.Minute
)

// Publisher delivers outbox events. natsjs.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// OutboxMessage represents a message in the outbox
type OutboxMessage struct {
	ID      int64  `db:"id"`
	Subject string `db:"subject"`
	Payload []byte `db:"payload"`
	MsgID   string `db:"msg_id"`
	Retries int    `db:"retries"`
}

// DequeueOutbox fetches unpublished messages that are due
func (j *Journal) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := j.db.SelectContext(ctx, &messages, `
		SELECT id, subject, payload, msg_id, retries
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, j.now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	return messages, nil
}

// MarkPublished marks an outbox message as published
func (j *Journal) MarkPublished(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, j.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry updates retry count and next attempt time
func (j *Journal) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, j.now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// PendingCount returns the number of unpublished outbox rows
func (j *Journal) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := j.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

// Drain publishes due outbox rows in id order. A failed publish schedules
// the row for retry with exponential backoff and does not stop the drain.
// It returns the number of rows published.
func (j *Journal) Drain(ctx context.Context, p Publisher) (int, error) {
	published := 0
	for {
		batch, err := j.DequeueOutbox(ctx, drainBatch)
		if err != nil {
			return published, err
		}
		if len(batch) == 0 {
			return published, nil
		}

		progressed := false
		for _, msg := range batch {
			if err := p.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
				j.logger.Warn("outbox publish failed",
					zap.Int64("outbox_id", msg.ID),
					zap.Int("retries", msg.Retries),
					zap.Error(err))
				if err := j.MarkOutboxRetry(ctx, msg.ID, backoff(msg.Retries)); err != nil {
					return published, err
				}
				continue
			}
			if err := j.MarkPublished(ctx, msg.ID); err != nil {
				return published, err
			}
			published++
			progressed = true
		}

		if !progressed || len(batch) < drainBatch {
			return published, nil
		}
	}
}

func backoff(retries int) time.Duration {
	if retries > 8 {
		return maxBackoff
	}
	d := time.Second << retries
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
