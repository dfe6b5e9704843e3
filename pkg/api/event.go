package api

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Event is one trigger occurrence delivered to the runner. For push events
// Ref is the pushed branch or tag ref; for pull_request events it is the
// base branch. Paths lists the changed files, when known.
type Event struct {
	Name  string   `json:"event" yaml:"event"`
	Ref   string   `json:"ref" yaml:"ref"`
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// Validate checks the event for use as a trigger.
func (e Event) Validate() error {
	switch e.Name {
	case EventPush, EventPullRequest:
	default:
		return fmt.Errorf("unknown event %q", e.Name)
	}
	if e.Ref == "" {
		return fmt.Errorf("event ref is required")
	}
	return nil
}

// Branch returns the branch name, accepting both the refs/heads/ form and a
// bare name. Tag refs have no branch.
func (e Event) Branch() string {
	if strings.HasPrefix(e.Ref, "refs/tags/") {
		return ""
	}
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// Tag returns the tag name for refs/tags/ refs, otherwise "".
func (e Event) Tag() string {
	if name, ok := strings.CutPrefix(e.Ref, "refs/tags/"); ok {
		return name
	}
	return ""
}

// Triggered reports whether the event starts this workflow according to its
// trigger declaration and filters.
func (w *Workflow) Triggered(e Event) (bool, error) {
	switch e.Name {
	case EventPush:
		if w.On.Push == nil {
			return false, nil
		}
		return w.On.Push.matches(e)
	case EventPullRequest:
		if w.On.PullRequest == nil {
			return false, nil
		}
		return w.On.PullRequest.matches(e)
	default:
		return false, fmt.Errorf("unknown event %q", e.Name)
	}
}

func (t *PushTrigger) matches(e Event) (bool, error) {
	if tag := e.Tag(); tag != "" {
		if len(t.Tags) == 0 && len(t.TagsIgnore) == 0 {
			// A branch filter narrows the workflow to branch pushes.
			if len(t.Branches) > 0 || len(t.BranchesIgnore) > 0 {
				return false, nil
			}
		} else {
			ok, err := matchFilter(tag, t.Tags, t.TagsIgnore)
			if err != nil || !ok {
				return false, err
			}
		}
	} else {
		if len(t.Tags) > 0 {
			// A tags-only filter narrows the workflow to tag pushes.
			return false, nil
		}
		ok, err := matchFilter(e.Branch(), t.Branches, t.BranchesIgnore)
		if err != nil || !ok {
			return false, err
		}
	}
	return matchPaths(e.Paths, t.Paths, t.PathsIgnore)
}

func (t *PullRequestTrigger) matches(e Event) (bool, error) {
	ok, err := matchFilter(e.Branch(), t.Branches, t.BranchesIgnore)
	if err != nil || !ok {
		return false, err
	}
	return matchPaths(e.Paths, t.Paths, t.PathsIgnore)
}

// matchFilter applies an include or ignore pattern list to a name. With no
// patterns everything matches.
func matchFilter(name string, include, ignore []string) (bool, error) {
	if len(include) > 0 {
		return matchAny(include, name)
	}
	if len(ignore) > 0 {
		matched, err := matchAny(ignore, name)
		if err != nil {
			return false, err
		}
		return !matched, nil
	}
	return true, nil
}

// matchPaths applies path filters to the changed file list. An event
// without path information always passes.
func matchPaths(changed, include, ignore []string) (bool, error) {
	if len(changed) == 0 {
		return true, nil
	}
	if len(include) > 0 {
		for _, p := range changed {
			matched, err := matchAny(include, p)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	}
	if len(ignore) > 0 {
		// At least one changed path must fall outside the ignore set.
		for _, p := range changed {
			matched, err := matchAny(ignore, p)
			if err != nil {
				return false, err
			}
			if !matched {
				return true, nil
			}
		}
		return false, nil
	}
	return true, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
