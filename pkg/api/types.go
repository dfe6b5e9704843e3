package api

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const (
	EventPush        = "push"
	EventPullRequest = "pull_request"

	ActionCheckout         = "checkout"
	ActionSetupInterpreter = "setup-interpreter"
	ActionCoverageUpload   = "coverage-upload"

	BackendShell     = "shell"
	BackendContainer = "container"
)

// Workflow is a single workflow document.
type Workflow struct {
	Name string               `yaml:"name"`
	On   Triggers             `yaml:"on"`
	Env  map[string]string    `yaml:"env"`
	Jobs map[string]JobConfig `yaml:"jobs"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
}

// Triggers declares which events start the workflow. It accepts the short
// forms "on: push" and "on: [push, pull_request]" as well as the mapping
// form with per-event filters.
type Triggers struct {
	Push        *PushTrigger        `yaml:"push,omitempty"`
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty"`
}

// PushTrigger filters push events. Branch and tag patterns are doublestar
// globs; a filter and its ignore variant are mutually exclusive.
type PushTrigger struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Tags           []string `yaml:"tags"`
	TagsIgnore     []string `yaml:"tags-ignore"`
	Paths          []string `yaml:"paths"`
	PathsIgnore    []string `yaml:"paths-ignore"`
}

// PullRequestTrigger filters pull request events. Branch patterns match the
// base branch of the pull request.
type PullRequestTrigger struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Paths          []string `yaml:"paths"`
	PathsIgnore    []string `yaml:"paths-ignore"`
}

// JobConfig defines one job of a workflow. A job with a matrix strategy
// expands into one instance per combination.
type JobConfig struct {
	Name     string            `yaml:"name"`
	RunsOn   string            `yaml:"runs-on"`
	Strategy *StrategyConfig   `yaml:"strategy,omitempty"`
	Env      map[string]string `yaml:"env"`
	Steps    []StepConfig      `yaml:"steps"`
}

// StrategyConfig holds the matrix and its scheduling knobs.
type StrategyConfig struct {
	Matrix      MatrixConfig `yaml:"matrix"`
	MaxParallel int          `yaml:"max-parallel"`
}

// MatrixConfig is a set of named axes plus optional include/exclude entries.
// Axis values are YAML scalars; version-like numbers should be quoted so
// "3.10" is not read as the float 3.1.
type MatrixConfig struct {
	Axes    map[string][]any
	Include []map[string]any
	Exclude []map[string]any
}

// StepConfig defines a single step within a job. Exactly one of Run or Uses
// must be set. The If guard is a template expression; when it evaluates
// false the step is skipped, never failed.
type StepConfig struct {
	Name             string            `yaml:"name"`
	If               string            `yaml:"if"`
	Run              string            `yaml:"run"`
	Uses             string            `yaml:"uses"`
	With             map[string]string `yaml:"with"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working-directory"`
	Timeout          string            `yaml:"timeout"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
}

func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		return t.enable(name)
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		for _, name := range names {
			if err := t.enable(name); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		type plain Triggers
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*t = Triggers(p)
		return nil
	default:
		return fmt.Errorf("on: expected event name, list, or mapping")
	}
}

func (t *Triggers) enable(event string) error {
	switch event {
	case EventPush:
		t.Push = &PushTrigger{}
	case EventPullRequest:
		t.PullRequest = &PullRequestTrigger{}
	default:
		return fmt.Errorf("unknown event %q", event)
	}
	return nil
}

// Empty reports whether no event is declared.
func (t Triggers) Empty() bool {
	return t.Push == nil && t.PullRequest == nil
}

func (m *MatrixConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping of axes")
	}

	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	m.Axes = make(map[string][]any)
	for key, val := range raw {
		switch key {
		case "include":
			entries, err := matrixEntryList(key, val)
			if err != nil {
				return err
			}
			m.Include = entries
		case "exclude":
			entries, err := matrixEntryList(key, val)
			if err != nil {
				return err
			}
			m.Exclude = entries
		default:
			values, ok := val.([]any)
			if !ok {
				return fmt.Errorf("matrix axis %q must be a list of values", key)
			}
			m.Axes[key] = values
		}
	}
	return nil
}

func matrixEntryList(key string, val any) ([]map[string]any, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("matrix %s must be a list of mappings", key)
	}
	entries := make([]map[string]any, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("matrix %s entry %d must be a mapping", key, i)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
