package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cuongbtq/queue-runner/internal/metrics"
	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// maxOutputBytes bounds how much captured command output is kept on a result.
const maxOutputBytes = 64 * 1024

// jobPayload is the decoded form of a job's opaque payload.
type jobPayload struct {
	Command        []string `json:"command"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// ExecutorConfig holds job execution settings
type ExecutorConfig struct {
	Logger         *slog.Logger
	Workdir        string
	CondaEnv       string
	ResultsTTL     time.Duration
	DefaultTimeout time.Duration
}

// Executor runs job payloads as commands in the configured working directory
// and execution environment. Job failures of any kind are captured into the
// JobResult; only executor infrastructure failures surface as fatal.
type Executor struct {
	logger         *slog.Logger
	workdir        string
	condaEnv       string
	resultsTTL     time.Duration
	defaultTimeout time.Duration
}

// NewExecutor creates a new executor instance
func NewExecutor(cfg *ExecutorConfig) *Executor {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Executor{
		logger:         cfg.Logger,
		workdir:        cfg.Workdir,
		condaEnv:       cfg.CondaEnv,
		resultsTTL:     cfg.ResultsTTL,
		defaultTimeout: timeout,
	}
}

// Run executes one job and always returns a terminal JobResult.
func (e *Executor) Run(ctx context.Context, job *domain.Job) (res *domain.JobResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = e.failed(job, fmt.Sprintf("panic during job execution: %v", r))
		}
		metrics.JobsProcessedTotal.WithLabelValues(res.Status, job.Queue).Inc()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	e.logger.Info("Executing job",
		slog.String("job_id", job.JobID),
		slog.String("queue", job.Queue),
	)

	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return e.failed(job, fmt.Sprintf("%s: %v", domain.ErrInvalidPayload, err))
	}
	if len(payload.Command) == 0 {
		return e.failed(job, domain.ErrInvalidPayload.Error()+": empty command")
	}

	timeout := e.defaultTimeout
	if payload.TimeoutSeconds > 0 {
		timeout = time.Duration(payload.TimeoutSeconds) * time.Second
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := e.argv(payload.Command)
	cmd := exec.CommandContext(jobCtx, argv[0], argv[1:]...)
	cmd.Dir = e.workdir

	output, err := cmd.CombinedOutput()
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes]
	}

	if err != nil {
		detail := err.Error()
		if jobCtx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("job timed out after %s", timeout)
		} else {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				detail = fmt.Sprintf("command exited with code %d", exitErr.ExitCode())
			}
		}

		e.logger.Warn("Job failed",
			slog.String("job_id", job.JobID),
			slog.String("queue", job.Queue),
			slog.String("error", detail),
		)

		res = e.failed(job, detail)
		res.Output = string(output)
		return res
	}

	e.logger.Info("Job succeeded",
		slog.String("job_id", job.JobID),
		slog.String("queue", job.Queue),
		slog.Duration("elapsed", time.Since(start)),
	)

	now := time.Now().UTC()
	return &domain.JobResult{
		JobID:       job.JobID,
		Queue:       job.Queue,
		Status:      domain.StatusSucceeded,
		Output:      string(output),
		CompletedAt: now,
		ExpiresAt:   now.Add(e.resultsTTL),
	}
}

// argv wraps the job command in conda run when an execution environment is
// configured.
func (e *Executor) argv(command []string) []string {
	if e.condaEnv == "" {
		return command
	}
	return append([]string{"conda", "run", "--no-capture-output", "-n", e.condaEnv}, command...)
}

// failed builds a failed result with completion and expiry stamps.
func (e *Executor) failed(job *domain.Job, detail string) *domain.JobResult {
	now := time.Now().UTC()
	return &domain.JobResult{
		JobID:       job.JobID,
		Queue:       job.Queue,
		Status:      domain.StatusFailed,
		Error:       detail,
		CompletedAt: now,
		ExpiresAt:   now.Add(e.resultsTTL),
	}
}
