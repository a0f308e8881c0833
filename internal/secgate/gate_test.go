package secgate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeHook(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestGate_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("hook succeeds", func(t *testing.T) {
		gate := New(writeHook(t, "exit 0"), false, discardLogger())
		assert.NoError(t, gate.Apply(ctx))
	})

	t.Run("hook exits non-zero", func(t *testing.T) {
		gate := New(writeHook(t, "exit 3"), false, discardLogger())

		err := gate.Apply(ctx)
		require.Error(t, err)

		var hookErr *HookError
		require.ErrorAs(t, err, &hookErr)
		assert.Equal(t, 3, hookErr.ExitCode)
	})

	t.Run("hook missing", func(t *testing.T) {
		gate := New(filepath.Join(t.TempDir(), "nope.sh"), false, discardLogger())

		err := gate.Apply(ctx)
		assert.ErrorIs(t, err, ErrHookMissing)
	})

	t.Run("hook path is a directory", func(t *testing.T) {
		gate := New(t.TempDir(), false, discardLogger())

		err := gate.Apply(ctx)
		assert.ErrorIs(t, err, ErrHookMissing)
	})

	t.Run("explicitly disabled", func(t *testing.T) {
		gate := New("", true, discardLogger())
		assert.NoError(t, gate.Apply(ctx))
	})
}
