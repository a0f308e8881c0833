package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// queueKeyPrefix namespaces the per-queue lists inside Redis.
const queueKeyPrefix = "jobs:"

// redisConn delivers jobs from Redis lists. BLPOP checks its keys in
// argument order, which is exactly the priority-scan contract of FetchNext.
type redisConn struct {
	client *redis.Client
	keys   []string
	logger *slog.Logger
}

func dialRedis(ctx context.Context, uri string, queues []string, logger *slog.Logger) (*redisConn, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKeyPrefix + q
	}

	logger.Info("Connected to Redis broker",
		slog.String("addr", opts.Addr),
		slog.Any("queues", queues),
	)

	return &redisConn{
		client: client,
		keys:   keys,
		logger: logger,
	}, nil
}

// FetchNext blocks on BLPOP across the watched queue keys. Entries that do
// not decode as jobs are dropped with a log line and the wait resumes.
func (c *redisConn) FetchNext(ctx context.Context) (*domain.Job, error) {
	for {
		res, err := c.client.BLPop(ctx, 0, c.keys...).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrLost, err)
		}

		// BLPOP returns [key, value].
		if len(res) != 2 {
			continue
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			c.logger.Error("Dropping undecodable queue entry",
				slog.String("key", res[0]),
				slog.String("error", err.Error()),
			)
			continue
		}

		return &job, nil
	}
}

// Enqueue appends a job to the tail of the named queue list.
func (c *redisConn) Enqueue(ctx context.Context, queue string, payload json.RawMessage) (*domain.Job, error) {
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

	if err := c.client.RPush(ctx, queueKeyPrefix+queue, body).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	c.logger.Debug("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("queue", queue),
	)

	return job, nil
}

func (c *redisConn) Close() error {
	return c.client.Close()
}
