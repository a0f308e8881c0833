package results

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Store) {
	t.Helper()

	srv := miniredis.RunT(t)

	store, err := New(context.Background(), "redis://"+srv.Addr(), ttl, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return srv, store
}

func sampleResult(status string) *domain.JobResult {
	now := time.Now().UTC()
	return &domain.JobResult{
		JobID:       "6c3f9a1e-0b6f-4a5e-9b2e-8f3d2c1a0b9d",
		Queue:       "tensorflow_cpu",
		Status:      status,
		Output:      "accuracy: 0.93",
		CompletedAt: now,
		ExpiresAt:   now.Add(500 * time.Second),
	}
}

func TestStore_New_InvalidURI(t *testing.T) {
	_, err := New(context.Background(), "redis://", 0, discardLogger())
	assert.Error(t, err)
}

func TestStore_PutGet(t *testing.T) {
	_, store := newTestStore(t, 500*time.Second)
	ctx := context.Background()

	want := sampleResult(domain.StatusSucceeded)
	require.NoError(t, store.Put(ctx, want))

	got, err := store.Get(ctx, want.JobID)
	require.NoError(t, err)

	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
	assert.Equal(t, want.Output, got.Output)
	assert.True(t, got.Succeeded())
	assert.False(t, got.ExpiresAt.Before(got.CompletedAt))
}

func TestStore_GetMissing(t *testing.T) {
	_, store := newTestStore(t, 500*time.Second)

	_, err := store.Get(context.Background(), "never-written")
	assert.ErrorIs(t, err, domain.ErrResultNotFound)
}

func TestStore_Expiry(t *testing.T) {
	srv, store := newTestStore(t, 10*time.Second)
	ctx := context.Background()

	res := sampleResult(domain.StatusFailed)
	require.NoError(t, store.Put(ctx, res))

	// Still retrievable before the TTL elapses.
	_, err := store.Get(ctx, res.JobID)
	require.NoError(t, err)

	srv.FastForward(11 * time.Second)

	_, err = store.Get(ctx, res.JobID)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)
}

func TestStore_ZeroTTLKeepsResult(t *testing.T) {
	srv, store := newTestStore(t, 0)
	ctx := context.Background()

	res := sampleResult(domain.StatusSucceeded)
	require.NoError(t, store.Put(ctx, res))

	srv.FastForward(time.Hour)

	_, err := store.Get(ctx, res.JobID)
	assert.NoError(t, err)
}

func TestStore_OverwriteIsAtomic(t *testing.T) {
	_, store := newTestStore(t, time.Minute)
	ctx := context.Background()

	first := sampleResult(domain.StatusFailed)
	require.NoError(t, store.Put(ctx, first))

	second := sampleResult(domain.StatusSucceeded)
	second.Output = "retried fine"
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)
	assert.Equal(t, "retried fine", got.Output)
}
