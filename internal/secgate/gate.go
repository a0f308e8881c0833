// Package secgate applies the sandboxing hook that must succeed before the
// worker is allowed to touch the broker.
package secgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

var (
	// ErrHookMissing is returned when the configured hook executable does
	// not exist. This is fatal; the supervisor must not proceed.
	ErrHookMissing = errors.New("security hook not found")
)

// HookError reports a hook that ran but exited non-zero.
type HookError struct {
	Path     string
	ExitCode int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("security hook %s exited with code %d", e.Path, e.ExitCode)
}

// Gate wraps the external restriction hook. The hook takes no arguments and
// signals success with exit code zero.
type Gate struct {
	hookPath string
	disabled bool
	logger   *slog.Logger
}

// New creates a gate for the given hook path. An empty path with allowUnrestricted
// produces a disabled gate; config validation rejects the combination otherwise.
func New(hookPath string, allowUnrestricted bool, logger *slog.Logger) *Gate {
	return &Gate{
		hookPath: hookPath,
		disabled: hookPath == "" && allowUnrestricted,
		logger:   logger,
	}
}

// Apply runs the hook once. It must be called before any job fetch.
func (g *Gate) Apply(ctx context.Context) error {
	if g.disabled {
		g.logger.Warn("Security gate disabled, jobs will run unrestricted")
		return nil
	}

	info, err := os.Stat(g.hookPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrHookMissing, g.hookPath)
		}
		return fmt.Errorf("failed to stat security hook %s: %w", g.hookPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrHookMissing, g.hookPath)
	}

	g.logger.Info("Applying security hook",
		slog.String("hook", g.hookPath),
	)

	cmd := exec.CommandContext(ctx, g.hookPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			g.logger.Error("Security hook failed",
				slog.String("hook", g.hookPath),
				slog.Int("exit_code", exitErr.ExitCode()),
				slog.String("output", string(output)),
			)
			return &HookError{Path: g.hookPath, ExitCode: exitErr.ExitCode()}
		}
		return fmt.Errorf("failed to run security hook %s: %w", g.hookPath, err)
	}

	g.logger.Info("Security hook applied",
		slog.String("hook", g.hookPath),
	)

	return nil
}
