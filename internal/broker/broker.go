// Package broker provides the queue connection the worker fetches jobs from.
// The broker is selected by URI scheme; every implementation delivers jobs
// FIFO per queue and scans the watched queues in priority order.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

var (
	// ErrInvalidURI is returned for broker URIs with an unsupported scheme
	// or malformed contents. Fatal, never retried.
	ErrInvalidURI = errors.New("invalid broker URI")

	// ErrUnreachable is returned when the broker cannot be reached.
	// Retryable with backoff.
	ErrUnreachable = errors.New("broker unreachable")

	// ErrLost is returned when an established connection drops mid-stream.
	// The supervisor reconnects with backoff.
	ErrLost = errors.New("broker connection lost")
)

// Conn is an established broker connection watching a fixed, ordered set of
// queues.
type Conn interface {
	// FetchNext blocks until a job is available on any watched queue.
	// Queues are checked in the order given at dial time; within a queue
	// delivery is FIFO. Cancelling ctx aborts the wait with ctx.Err().
	FetchNext(ctx context.Context) (*domain.Job, error)

	// Enqueue pushes a new job onto the named queue and returns it.
	Enqueue(ctx context.Context, queue string, payload json.RawMessage) (*domain.Job, error)

	// Close releases the underlying connection.
	Close() error
}

// Dial connects to the broker at uri and watches the given queues.
func Dial(ctx context.Context, uri string, queues []string, logger *slog.Logger) (Conn, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return dialRedis(ctx, uri, queues, logger)
	case "amqp", "amqps":
		return dialAMQP(uri, queues, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
}
