package actions

import (
	"context"
	"fmt"
	"net/http"

	"github.com/systemstart/gridrun/pkg/api"
)

// Context provides the runtime context for a builtin action.
type Context struct {
	InputDir string            // source tree the run was triggered on
	WorkDir  string            // instance workspace
	With     map[string]string // rendered with-arguments
	Env      map[string]string // instance environment; actions may export into it
	Mapping  *api.RunnerMapping
	HTTP     *http.Client
	Meta     Meta
}

// Meta identifies the run and instance an action executes for.
type Meta struct {
	Run      string
	Workflow string
	Job      string
	Combo    api.Combination
}

// Action is the interface all builtin actions implement. Actions run on the
// host against the instance workspace; their effects are workspace files,
// exported environment, or outbound I/O.
type Action interface {
	Name() string
	Run(ctx context.Context, actx *Context) error
}

// New creates an Action implementation from a uses reference.
func New(uses string) (Action, error) {
	switch uses {
	case api.ActionCheckout:
		return &checkoutAction{}, nil
	case api.ActionSetupInterpreter:
		return &setupAction{}, nil
	case api.ActionCoverageUpload:
		return &coverageAction{}, nil
	default:
		return nil, fmt.Errorf("unknown action: %s", uses)
	}
}

func (c *Context) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
