package store

import (
	"time"

	"github.com/systemstart/gridrun/pkg/api"
)

// Status describes the lifecycle state of a run, instance or step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// RunSummary is the persisted record of one engine run. It is written as
// summary.yaml in the run directory and served back over the HTTP API.
type RunSummary struct {
	ID         string            `yaml:"id" json:"id"`
	Event      api.Event         `yaml:"event" json:"event"`
	Workflows  []string          `yaml:"workflows" json:"workflows"`
	Status     Status            `yaml:"status" json:"status"`
	StartedAt  time.Time         `yaml:"started-at" json:"started_at"`
	FinishedAt time.Time         `yaml:"finished-at" json:"finished_at"`
	Instances  []InstanceSummary `yaml:"instances" json:"instances"`
}

// InstanceSummary records the outcome of one matrix instance.
type InstanceSummary struct {
	ID          string          `yaml:"id" json:"id"`
	Workflow    string          `yaml:"workflow" json:"workflow"`
	Job         string          `yaml:"job" json:"job"`
	Combination api.Combination `yaml:"combination,omitempty" json:"combination,omitempty"`
	RunsOn      string          `yaml:"runs-on" json:"runs_on"`
	Status      Status          `yaml:"status" json:"status"`
	StartedAt   time.Time       `yaml:"started-at" json:"started_at"`
	FinishedAt  time.Time       `yaml:"finished-at" json:"finished_at"`
	Steps       []StepSummary   `yaml:"steps" json:"steps"`
	Failure     string          `yaml:"failure,omitempty" json:"failure,omitempty"`
}

// StepSummary records the outcome of one step within an instance. Log holds
// the file name of the captured output relative to the instance log
// directory, empty when the step produced none.
type StepSummary struct {
	Name           string `yaml:"name" json:"name"`
	Status         Status `yaml:"status" json:"status"`
	ExitCode       int    `yaml:"exit-code,omitempty" json:"exit_code,omitempty"`
	Log            string `yaml:"log,omitempty" json:"log,omitempty"`
	Error          string `yaml:"error,omitempty" json:"error,omitempty"`
	AllowedFailure bool   `yaml:"allowed-failure,omitempty" json:"allowed_failure,omitempty"`
}

// Failed reports whether any instance of the run failed.
func (r *RunSummary) Failed() bool {
	for _, instance := range r.Instances {
		if instance.Status == StatusFailure {
			return true
		}
	}

	return false
}
