package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/systemstart/gridrun/pkg/api"
)

// InterpreterEnv is exported into the instance environment by the
// setup-interpreter action so run steps can see which version they
// were provisioned with.
const InterpreterEnv = "GRIDRUN_INTERPRETER"

// setupAction provisions the requested interpreter version for the instance.
// When the runner mapping carries a toolchain directory for the version, it
// is prepended to PATH; otherwise the host interpreter is assumed unless
// strict mode is requested.
type setupAction struct{}

func (a *setupAction) Name() string {
	return api.ActionSetupInterpreter
}

func (a *setupAction) Run(_ context.Context, actx *Context) error {
	version := actx.With["version"]
	actx.Env[InterpreterEnv] = version

	dir, ok := actx.Mapping.Toolchain(version)
	if !ok {
		strict, _ := strconv.ParseBool(actx.With["strict"])
		if strict {
			return fmt.Errorf("no toolchain configured for interpreter %s", version)
		}

		slog.Debug("no toolchain configured, assuming host interpreter", "version", version)

		return nil
	}

	path := actx.Env["PATH"]
	if path == "" {
		path = os.Getenv("PATH")
	}
	actx.Env["PATH"] = dir + string(os.PathListSeparator) + path

	slog.Debug("interpreter toolchain selected", "version", version, "dir", dir)

	return nil
}
