package executor

import (
	"testing"

	"github.com/systemstart/gridrun/pkg/api"
)

func TestFlattenEnv(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1", "PATH": "/bin"}

	got := flattenEnv(env)

	want := []string{"A=1", "B=2", "PATH=/bin"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, got[i], want[i])
		}
	}
}

func TestFor_NilMappingDefaultsToShell(t *testing.T) {
	e, err := For("anything", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*Shell); !ok {
		t.Fatalf("expected shell executor, got %T", e)
	}
}

func TestFor_MappedContainer(t *testing.T) {
	mapping := &api.RunnerMapping{
		Runners: map[string]api.RunnerConfig{
			"ubuntu-latest": {Backend: api.BackendContainer, Image: "ubuntu:24.04"},
		},
	}

	e, err := For("ubuntu-latest", mapping)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*Container); !ok {
		t.Fatalf("expected container executor, got %T", e)
	}
}

func TestFor_UnmappedLabelFallsBackToShell(t *testing.T) {
	mapping := &api.RunnerMapping{
		Runners: map[string]api.RunnerConfig{
			"ubuntu-latest": {Backend: api.BackendContainer, Image: "ubuntu:24.04"},
		},
	}

	e, err := For("windows-latest", mapping)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*Shell); !ok {
		t.Fatalf("expected shell executor, got %T", e)
	}
}
