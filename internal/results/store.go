// Package results stores JobResults with a bounded retention window. The
// store is shared with external readers (the results API), so every write is
// a single atomic SET and expiry is enforced server-side by Redis.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// resultKeyPrefix namespaces result entries inside Redis.
const resultKeyPrefix = "results:"

// Store persists job results for the configured TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects a result store at uri. A ttl of zero disables server-side
// expiry; results then live until the backing store is cleared.
func New(ctx context.Context, uri string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid results URI: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("results store unreachable: %w", err)
	}

	logger.Info("Connected to results store",
		slog.String("addr", opts.Addr),
		slog.Duration("ttl", ttl),
	)

	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// TTL returns the retention window results are stored with.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Put writes one result as a single SET with expiry. Concurrent readers see
// the whole entry or, past expiry, nothing.
func (s *Store) Put(ctx context.Context, res *domain.JobResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.Set(ctx, resultKeyPrefix+res.JobID, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	s.logger.Debug("Result stored",
		slog.String("job_id", res.JobID),
		slog.String("status", res.Status),
		slog.Time("expires_at", res.ExpiresAt),
	)

	return nil
}

// Get retrieves a result by job id. Expired or never-written results return
// domain.ErrResultNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.JobResult, error) {
	body, err := s.client.Get(ctx, resultKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	var res domain.JobResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	return &res, nil
}

// Close releases the store connection.
func (s *Store) Close() error {
	return s.client.Close()
}
