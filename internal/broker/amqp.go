package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// idleSweepInterval is how long the AMQP connection waits between priority
// sweeps when every watched queue is empty.
const idleSweepInterval = 200 * time.Millisecond

// amqpConn delivers jobs from AMQP queues. AMQP has no multi-queue blocking
// pop, so FetchNext polls the queues with basic.get in priority order.
type amqpConn struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queues  []string
	logger  *slog.Logger
}

func dialAMQP(uri string, queues []string, logger *slog.Logger) (*amqpConn, error) {
	if _, err := amqp.ParseURI(uri); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// Declare every watched queue so fetching from a not-yet-used queue is
	// not an error. Durable, matching the producer side.
	for _, q := range queues {
		if _, err := channel.QueueDeclare(q, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("%w: failed to declare queue %s: %v", ErrUnreachable, q, err)
		}
	}

	logger.Info("Connected to AMQP broker",
		slog.Any("queues", queues),
	)

	return &amqpConn{
		conn:    conn,
		channel: channel,
		queues:  queues,
		logger:  logger,
	}, nil
}

// FetchNext sweeps the watched queues in priority order, sleeping briefly
// between empty sweeps.
func (c *amqpConn) FetchNext(ctx context.Context) (*domain.Job, error) {
	for {
		for _, q := range c.queues {
			msg, ok, err := c.channel.Get(q, true)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: %v", ErrLost, err)
			}
			if !ok {
				continue
			}

			var job domain.Job
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				c.logger.Error("Dropping undecodable queue entry",
					slog.String("queue", q),
					slog.String("error", err.Error()),
				)
				continue
			}

			return &job, nil
		}

		if c.conn.IsClosed() {
			return nil, fmt.Errorf("%w: connection closed", ErrLost)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(idleSweepInterval):
		}
	}
}

// Enqueue publishes a job to the named queue via the default exchange.
func (c *amqpConn) Enqueue(ctx context.Context, queue string, payload json.RawMessage) (*domain.Job, error) {
	job := &domain.Job{
		JobID:      uuid.New().String(),
		Queue:      queue,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	// Declare the target queue so enqueues to not-yet-watched queues are
	// not silently dropped by the default exchange.
	if _, err := c.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	c.logger.Debug("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("queue", queue),
	)

	return job, nil
}

func (c *amqpConn) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close AMQP channel",
				slog.Any("error", err),
			)
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
