package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTest(t *testing.T, queues ...string) (*miniredis.Miniredis, Conn) {
	t.Helper()

	srv := miniredis.RunT(t)

	conn, err := Dial(context.Background(), "redis://"+srv.Addr(), queues, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, conn
}

func TestDial(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		errIs error
	}{
		{name: "unsupported scheme", uri: "nats://localhost:4222", errIs: ErrInvalidURI},
		{name: "no scheme", uri: "localhost:6379", errIs: ErrInvalidURI},
		{name: "redis unreachable", uri: "redis://127.0.0.1:1", errIs: ErrUnreachable},
		{name: "amqp malformed", uri: "amqp://bad uri ::", errIs: ErrInvalidURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dial(context.Background(), tt.uri, []string{"default"}, discardLogger())
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestRedisConn_EnqueueFetchFIFO(t *testing.T) {
	_, conn := dialTest(t, "default")
	ctx := context.Background()

	first, err := conn.Enqueue(ctx, "default", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	second, err := conn.Enqueue(ctx, "default", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	require.NotEqual(t, first.JobID, second.JobID)

	got, err := conn.FetchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, got.JobID)
	assert.Equal(t, "default", got.Queue)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))

	got, err = conn.FetchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.JobID, got.JobID)
}

func TestRedisConn_PriorityOrder(t *testing.T) {
	// Watch order is ["high", "low"]; enqueue on low first. With both
	// queues non-empty the high-priority queue must win.
	_, conn := dialTest(t, "high", "low")
	ctx := context.Background()

	lowJob, err := conn.Enqueue(ctx, "low", json.RawMessage(`{}`))
	require.NoError(t, err)
	highJob, err := conn.Enqueue(ctx, "high", json.RawMessage(`{}`))
	require.NoError(t, err)

	got, err := conn.FetchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, highJob.JobID, got.JobID)

	got, err = conn.FetchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, lowJob.JobID, got.JobID)
}

func TestRedisConn_FetchNextCancellable(t *testing.T) {
	_, conn := dialTest(t, "default")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := conn.FetchNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisConn_SkipsUndecodableEntries(t *testing.T) {
	srv, conn := dialTest(t, "default")
	ctx := context.Background()

	_, err := srv.Lpush("jobs:default", "not json")
	require.NoError(t, err)
	job, err := conn.Enqueue(ctx, "default", json.RawMessage(`{}`))
	require.NoError(t, err)

	got, err := conn.FetchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
}

func TestRedisConn_LostConnection(t *testing.T) {
	srv, conn := dialTest(t, "default")

	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.FetchNext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLost)
}
