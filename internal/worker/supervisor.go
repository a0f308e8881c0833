package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cuongbtq/queue-runner/internal/broker"
	"github.com/cuongbtq/queue-runner/internal/config"
	"github.com/cuongbtq/queue-runner/internal/metrics"
	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateStarting   State = "starting"
	StateSecuring   State = "securing"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// stateGauge maps states to the exported gauge value.
var stateGauge = map[State]float64{
	StateStarting:   0,
	StateSecuring:   1,
	StateConnecting: 2,
	StateRunning:    3,
	StateDraining:   4,
	StateStopped:    5,
	StateFailed:     6,
}

// Gate applies the sandboxing step before any job fetch.
type Gate interface {
	Apply(ctx context.Context) error
}

// ResultSink receives terminal job results.
type ResultSink interface {
	Put(ctx context.Context, res *domain.JobResult) error
}

// Recorder keeps the durable completion ledger. Optional.
type Recorder interface {
	Record(ctx context.Context, res *domain.JobResult) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// Dialer opens a broker connection; swappable in tests.
type Dialer func(ctx context.Context, uri string, queues []string, logger *slog.Logger) (broker.Conn, error)

// SupervisorConfig holds supervisor dependencies
type SupervisorConfig struct {
	Logger   *slog.Logger
	Config   *config.Config
	Gate     Gate
	Executor *Executor
	Results  ResultSink
	Ledger   Recorder // nil disables the ledger
	Dial     Dialer   // nil uses broker.Dial
}

// Supervisor drives the worker through securing, connecting, the
// fetch/execute/record loop, and graceful drain. Single worker thread;
// parallelism comes from running more processes against the same broker.
type Supervisor struct {
	logger   *slog.Logger
	cfg      *config.Config
	gate     Gate
	executor *Executor
	results  ResultSink
	ledger   Recorder
	dial     Dialer

	mu    sync.RWMutex
	state State
}

// NewSupervisor creates a new supervisor instance
func NewSupervisor(sc *SupervisorConfig) *Supervisor {
	dial := sc.Dial
	if dial == nil {
		dial = broker.Dial
	}
	return &Supervisor{
		logger:   sc.Logger,
		cfg:      sc.Config,
		gate:     sc.Gate,
		executor: sc.Executor,
		results:  sc.Results,
		ledger:   sc.Ledger,
		dial:     dial,
		state:    StateStarting,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run drives the supervisor until ctx is cancelled (graceful drain, nil
// error) or a fatal failure moves it to the failed state (non-nil error).
func (s *Supervisor) Run(ctx context.Context) error {
	s.transition(StateSecuring)
	if err := s.gate.Apply(ctx); err != nil {
		s.transition(StateFailed)
		return fmt.Errorf("security gate: %w", err)
	}

	conn, err := s.connect(ctx)
	if err != nil {
		s.transition(StateFailed)
		return fmt.Errorf("broker connect: %w", err)
	}
	defer conn.Close()

	s.transition(StateRunning)
	s.logger.Info("Worker running",
		slog.Any("queues", s.cfg.Queues),
		slog.Duration("results_ttl", s.cfg.ResultsTTL),
		slog.String("conda_env", s.cfg.CondaEnv),
	)

	for {
		job, err := conn.FetchNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Termination signal while blocked waiting; nothing in flight.
				s.drain(nil)
				return nil
			}
			if errors.Is(err, broker.ErrLost) {
				s.logger.Warn("Broker connection lost, reconnecting",
					slog.String("error", err.Error()),
				)
				conn.Close()
				conn, err = s.connect(ctx)
				if err != nil {
					s.transition(StateFailed)
					return fmt.Errorf("broker reconnect: %w", err)
				}
				s.transition(StateRunning)
				continue
			}
			s.transition(StateFailed)
			return fmt.Errorf("fetch next job: %w", err)
		}

		s.logger.Info("Job fetched",
			slog.String("job_id", job.JobID),
			slog.String("queue", job.Queue),
		)

		res := s.execute(ctx, job)
		s.record(res)

		if ctx.Err() != nil {
			// Termination signal arrived during execution; the in-flight
			// job was allowed to finish, fetch no further jobs.
			s.drain(res)
			return nil
		}
	}
}

// connect dials the broker with bounded exponential backoff. Malformed URIs
// fail immediately; unreachable brokers are retried up to the configured
// attempt budget.
func (s *Supervisor) connect(ctx context.Context) (broker.Conn, error) {
	s.transition(StateConnecting)

	backoff := retry.WithMaxRetries(
		uint64(s.cfg.Reconnect.MaxAttempts-1),
		retry.WithCappedDuration(
			s.cfg.Reconnect.MaxInterval,
			retry.NewExponential(s.cfg.Reconnect.InitialInterval),
		),
	)

	var conn broker.Conn
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := s.dial(ctx, s.cfg.BrokerURI, s.cfg.Queues, s.logger)
		if err != nil {
			if errors.Is(err, broker.ErrInvalidURI) {
				return err
			}
			metrics.ReconnectsTotal.Inc()
			s.logger.Warn("Broker connection attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", s.cfg.Reconnect.MaxAttempts),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exhausted %d connection attempts: %w", attempt, err)
	}

	return conn, nil
}

// execute runs a job on a context that survives the termination signal.
// After a signal, the in-flight job gets the drain timeout to finish before
// it is cancelled.
func (s *Supervisor) execute(ctx context.Context, job *domain.Job) *domain.JobResult {
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.logger.Warn("Drain timeout elapsed, cancelling in-flight job",
				slog.String("job_id", job.JobID),
			)
			cancel()
		case <-done:
		}
	}()

	return s.executor.Run(execCtx, job)
}

// record writes the result to the TTL store and, when configured, the
// durable ledger. Neither failure is fatal to the worker.
func (s *Supervisor) record(res *domain.JobResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.results.Put(ctx, res); err != nil {
		metrics.ResultWriteFailuresTotal.Inc()
		s.logger.Error("Failed to store job result",
			slog.String("job_id", res.JobID),
			slog.String("error", err.Error()),
		)
	}

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, res); err != nil {
			s.logger.Error("Failed to record job result in ledger",
				slog.String("job_id", res.JobID),
				slog.String("error", err.Error()),
			)
		} else if _, err := s.ledger.PurgeExpired(ctx); err != nil {
			s.logger.Warn("Ledger purge failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Job recorded",
		slog.String("job_id", res.JobID),
		slog.String("queue", res.Queue),
		slog.String("status", res.Status),
	)
}

// drain moves through draining to stopped once nothing more will be fetched.
func (s *Supervisor) drain(inflight *domain.JobResult) {
	s.transition(StateDraining)
	if inflight != nil {
		s.logger.Info("In-flight job finished during drain",
			slog.String("job_id", inflight.JobID),
			slog.String("status", inflight.Status),
		)
	}
	s.transition(StateStopped)
}

// transition moves to the next state and logs the change.
func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	metrics.SupervisorState.Set(stateGauge[to])
	s.logger.Info("Supervisor state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
