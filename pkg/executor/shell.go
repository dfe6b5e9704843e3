package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultShell = "sh"

// Shell executes commands on the host through a shell. The step
// environment is layered over the host environment so PATH and friends
// stay available.
type Shell struct {
	shellPath string
}

// NewShell creates a shell executor. An empty shellPath selects sh.
func NewShell(shellPath string) *Shell {
	if shellPath == "" {
		shellPath = defaultShell
	}
	return &Shell{shellPath: shellPath}
}

func (s *Shell) Run(ctx context.Context, spec Spec) (Result, error) {
	if _, err := exec.LookPath(s.shellPath); err != nil {
		return Result{}, fmt.Errorf("shell %q not found in PATH: %w", s.shellPath, err)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.shellPath, "-c", spec.Command)
	cmd.Dir = filepath.Join(spec.Dir, spec.SubDir)
	// Later entries win, so step env overrides the host.
	cmd.Env = append(os.Environ(), flattenEnv(spec.Env)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{ExitCode: -1, Output: out.Bytes()}, fmt.Errorf("command aborted: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
		}
		return Result{Output: out.Bytes()}, fmt.Errorf("running command: %w", err)
	}
	return Result{Output: out.Bytes()}, nil
}
