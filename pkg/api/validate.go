package api

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/systemstart/gridrun/pkg/expr"
)

var builtinActions = map[string]bool{
	ActionCheckout:         true,
	ActionSetupInterpreter: true,
	ActionCoverageUpload:   true,
}

// allowedWith lists the with-arguments each builtin action accepts.
var allowedWith = map[string]map[string]bool{
	ActionCheckout:         {"exclude": true},
	ActionSetupInterpreter: {"version": true, "strict": true},
	ActionCoverageUpload:   {"file": true, "url": true, "token": true},
}

// requiredWith lists the with-arguments each builtin action requires.
var requiredWith = map[string][]string{
	ActionSetupInterpreter: {"version"},
	ActionCoverageUpload:   {"file"},
}

// Validate checks the workflow for structural errors.
func (w *Workflow) Validate() error {
	if w.On.Empty() {
		return fmt.Errorf("workflow declares no trigger events")
	}
	if w.On.Push != nil {
		if err := w.On.Push.validate(); err != nil {
			return fmt.Errorf("on.push: %w", err)
		}
	}
	if w.On.PullRequest != nil {
		if err := w.On.PullRequest.validate(); err != nil {
			return fmt.Errorf("on.pull_request: %w", err)
		}
	}

	if len(w.Jobs) == 0 {
		return fmt.Errorf("workflow has no jobs")
	}
	for id, job := range w.Jobs {
		if id == "" {
			return fmt.Errorf("job id must not be empty")
		}
		if err := validateJob(job); err != nil {
			return fmt.Errorf("job %q: %w", id, err)
		}
	}
	return nil
}

func (t *PushTrigger) validate() error {
	if len(t.Branches) > 0 && len(t.BranchesIgnore) > 0 {
		return fmt.Errorf("branches and branches-ignore are mutually exclusive")
	}
	if len(t.Tags) > 0 && len(t.TagsIgnore) > 0 {
		return fmt.Errorf("tags and tags-ignore are mutually exclusive")
	}
	if len(t.Paths) > 0 && len(t.PathsIgnore) > 0 {
		return fmt.Errorf("paths and paths-ignore are mutually exclusive")
	}
	return validatePatterns(t.Branches, t.BranchesIgnore, t.Tags, t.TagsIgnore, t.Paths, t.PathsIgnore)
}

func (t *PullRequestTrigger) validate() error {
	if len(t.Branches) > 0 && len(t.BranchesIgnore) > 0 {
		return fmt.Errorf("branches and branches-ignore are mutually exclusive")
	}
	if len(t.Paths) > 0 && len(t.PathsIgnore) > 0 {
		return fmt.Errorf("paths and paths-ignore are mutually exclusive")
	}
	return validatePatterns(t.Branches, t.BranchesIgnore, t.Paths, t.PathsIgnore)
}

func validatePatterns(lists ...[]string) error {
	for _, list := range lists {
		for _, pattern := range list {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid glob pattern %q", pattern)
			}
		}
	}
	return nil
}

func validateJob(job JobConfig) error {
	if job.RunsOn == "" {
		return fmt.Errorf("runs-on is required")
	}
	if err := expr.Check(job.RunsOn); err != nil {
		return fmt.Errorf("runs-on: %w", err)
	}

	if job.Strategy != nil {
		if job.Strategy.MaxParallel < 0 {
			return fmt.Errorf("max-parallel must not be negative")
		}
		if err := validateMatrix(job.Strategy.Matrix); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}

	if len(job.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}

	names := make(map[string]int)
	for i, step := range job.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if prev, exists := names[step.Name]; exists {
			return fmt.Errorf("step %d: duplicate step name %q (first defined at step %d)", i, step.Name, prev)
		}
		names[step.Name] = i

		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}
	return nil
}

func validateStep(step StepConfig) error {
	switch {
	case step.Run == "" && step.Uses == "":
		return fmt.Errorf("either run or uses is required")
	case step.Run != "" && step.Uses != "":
		return fmt.Errorf("run and uses are mutually exclusive")
	}

	if err := expr.CheckGuard(step.If); err != nil {
		return fmt.Errorf("if: %w", err)
	}
	for key, val := range step.Env {
		if err := expr.Check(val); err != nil {
			return fmt.Errorf("env %q: %w", key, err)
		}
	}
	if step.Timeout != "" {
		d, err := time.ParseDuration(step.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q", step.Timeout)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}

	if step.Uses != "" {
		return validateUsesStep(step)
	}
	return validateRunStep(step)
}

func validateRunStep(step StepConfig) error {
	if len(step.With) > 0 {
		return fmt.Errorf("with is only valid for uses steps")
	}
	return expr.Check(step.Run)
}

func validateUsesStep(step StepConfig) error {
	if !builtinActions[step.Uses] {
		valid := make([]string, 0, len(builtinActions))
		for name := range builtinActions {
			valid = append(valid, name)
		}
		slices.Sort(valid)
		return fmt.Errorf("unknown action %q (valid: %s)", step.Uses, strings.Join(valid, ", "))
	}
	if step.WorkingDirectory != "" {
		return fmt.Errorf("working-directory is only valid for run steps")
	}

	allowed := allowedWith[step.Uses]
	for key, val := range step.With {
		if !allowed[key] {
			return fmt.Errorf("action %q does not accept with.%s", step.Uses, key)
		}
		if err := expr.Check(val); err != nil {
			return fmt.Errorf("with.%s: %w", key, err)
		}
	}
	for _, key := range requiredWith[step.Uses] {
		if step.With[key] == "" {
			return fmt.Errorf("action %q requires with.%s", step.Uses, key)
		}
	}
	return nil
}

func validateMatrix(m MatrixConfig) error {
	for axis, values := range m.Axes {
		if axis == "" {
			return fmt.Errorf("axis name must not be empty")
		}
		if len(values) == 0 {
			return fmt.Errorf("axis %q has no values", axis)
		}
		for _, v := range values {
			if _, err := ScalarString(v); err != nil {
				return fmt.Errorf("axis %q: %w", axis, err)
			}
		}
	}

	for i, entry := range m.Exclude {
		if len(entry) == 0 {
			return fmt.Errorf("exclude entry %d is empty", i)
		}
		for key, v := range entry {
			if _, ok := m.Axes[key]; !ok {
				return fmt.Errorf("exclude entry %d references unknown axis %q", i, key)
			}
			if _, err := ScalarString(v); err != nil {
				return fmt.Errorf("exclude entry %d: %w", i, err)
			}
		}
	}

	for i, entry := range m.Include {
		if len(entry) == 0 {
			return fmt.Errorf("include entry %d is empty", i)
		}
		for _, v := range entry {
			if _, err := ScalarString(v); err != nil {
				return fmt.Errorf("include entry %d: %w", i, err)
			}
		}
	}
	return nil
}
