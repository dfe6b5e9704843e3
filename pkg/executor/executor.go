package executor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/systemstart/gridrun/pkg/api"
)

// Spec describes one command execution inside a job instance workspace.
type Spec struct {
	Command string
	Dir     string            // absolute host path of the instance workspace
	SubDir  string            // optional working directory relative to the workspace
	Env     map[string]string // step environment
	Timeout time.Duration     // zero means no limit
}

// Result is the outcome of a completed execution. A non-zero ExitCode is a
// step failure, not an error; errors mean the backend could not run the
// command at all.
type Result struct {
	ExitCode int
	Output   []byte // combined stdout and stderr
}

// Executor runs step commands in some backend environment. Implementations
// must be safe for use by a single instance at a time; the engine creates
// one executor per instance.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// For resolves the executor for a runs-on label through the runner mapping.
func For(label string, mapping *api.RunnerMapping) (Executor, error) {
	cfg := mapping.Lookup(label)
	switch cfg.Backend {
	case api.BackendShell:
		return NewShell(cfg.Shell), nil
	case api.BackendContainer:
		return NewContainer(cfg.Image)
	default:
		return nil, fmt.Errorf("label %q: unknown backend %q", label, cfg.Backend)
	}
}

// flattenEnv turns an environment map into sorted KEY=value form.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
