package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(&ExecutorConfig{
		Logger:     discardLogger(),
		Workdir:    t.TempDir(),
		CondaEnv:   "", // run commands directly in tests
		ResultsTTL: 500 * time.Second,
	})
}

func testJob(payload string) *domain.Job {
	return &domain.Job{
		JobID:      "f3b0cbe4-54d4-4c07-9c5d-9a5ef4f25c38",
		Queue:      "default",
		Payload:    json.RawMessage(payload),
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestExecutor_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("successful command", func(t *testing.T) {
		exec := newTestExecutor(t)
		res := exec.Run(ctx, testJob(`{"command": ["echo", "hello"]}`))

		assert.Equal(t, domain.StatusSucceeded, res.Status)
		assert.Contains(t, res.Output, "hello")
		assert.Empty(t, res.Error)
		assert.Equal(t, res.CompletedAt.Add(500*time.Second), res.ExpiresAt)
	})

	t.Run("failing command is captured, not fatal", func(t *testing.T) {
		exec := newTestExecutor(t)
		res := exec.Run(ctx, testJob(`{"command": ["sh", "-c", "exit 7"]}`))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.Error, "exited with code 7")
	})

	t.Run("missing binary is captured", func(t *testing.T) {
		exec := newTestExecutor(t)
		res := exec.Run(ctx, testJob(`{"command": ["definitely-not-a-binary-4711"]}`))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("malformed payload", func(t *testing.T) {
		exec := newTestExecutor(t)
		res := exec.Run(ctx, testJob(`{not json`))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.Error, "invalid job payload")
	})

	t.Run("empty command", func(t *testing.T) {
		exec := newTestExecutor(t)
		res := exec.Run(ctx, testJob(`{"command": []}`))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.Error, "empty command")
	})

	t.Run("per-job timeout", func(t *testing.T) {
		exec := newTestExecutor(t)
		start := time.Now()
		res := exec.Run(ctx, testJob(`{"command": ["sleep", "30"], "timeout_seconds": 1}`))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.Error, "timed out")
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("expiry never precedes completion", func(t *testing.T) {
		exec := newTestExecutor(t)
		for _, payload := range []string{
			`{"command": ["true"]}`,
			`{"command": ["false"]}`,
			`{bad`,
		} {
			res := exec.Run(ctx, testJob(payload))
			require.False(t, res.ExpiresAt.Before(res.CompletedAt), "payload %s", payload)
		}
	})
}

func TestExecutor_CondaWrapping(t *testing.T) {
	exec := NewExecutor(&ExecutorConfig{
		Logger:     discardLogger(),
		Workdir:    t.TempDir(),
		CondaEnv:   "mlcv",
		ResultsTTL: time.Second,
	})

	assert.Equal(t,
		[]string{"conda", "run", "--no-capture-output", "-n", "mlcv", "python", "train.py"},
		exec.argv([]string{"python", "train.py"}),
	)

	bare := newTestExecutor(t)
	assert.Equal(t, []string{"python", "train.py"}, bare.argv([]string{"python", "train.py"}))
}
