package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/systemstart/gridrun/pkg/api"
	"github.com/systemstart/gridrun/pkg/store"
)

// Engine expands triggered workflows into matrix instances and executes
// them. One Engine can serve many runs; all per-run state lives in the
// Request and the store.
type Engine struct {
	Store   *store.Store
	Mapping *api.RunnerMapping

	// InputDir is the source tree runs are triggered on. The checkout
	// action copies it into each instance workspace.
	InputDir string

	// MaxParallel caps the number of concurrently running instances per
	// job when positive; zero defers to each job's strategy.
	MaxParallel int

	// HTTP is used by actions with outbound I/O. nil means
	// http.DefaultClient.
	HTTP *http.Client
}

// Request describes one run: the event that arrived and the workflows it
// may trigger. RunID is assigned when empty.
type Request struct {
	RunID     string
	Event     api.Event
	Workflows []*api.Workflow
}

// instance is one expanded matrix combination of a job, scheduled as an
// independent unit.
type instance struct {
	ID       string
	Workflow *api.Workflow
	JobID    string
	Job      api.JobConfig
	Combo    api.Combination
}

// Run executes all instances the event triggers and persists the outcome.
// The returned summary is valid even when the error reports failed
// instances; a nil summary means the run could not start at all.
func (e *Engine) Run(ctx context.Context, req Request) (*store.RunSummary, error) {
	if err := req.Event.Validate(); err != nil {
		return nil, fmt.Errorf("validating event: %w", err)
	}

	if req.RunID == "" {
		id, err := e.Store.NewRunID(time.Now())
		if err != nil {
			return nil, err
		}
		req.RunID = id
	}

	if err := e.Store.CreateRun(req.RunID); err != nil {
		return nil, err
	}

	triggered, err := selectTriggered(req.Workflows, req.Event)
	if err != nil {
		return nil, err
	}

	summary := &store.RunSummary{
		ID:        req.RunID,
		Event:     req.Event,
		Status:    store.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	for _, workflow := range triggered {
		summary.Workflows = append(summary.Workflows, workflow.Name)
	}

	groups, err := expandAll(triggered)
	if err != nil {
		return nil, err
	}

	e.runGroups(ctx, req, groups, summary)

	summary.FinishedAt = time.Now().UTC()
	summary.Status = store.StatusSuccess
	if summary.Failed() {
		summary.Status = store.StatusFailure
	}

	if err := e.Store.WriteSummary(summary); err != nil {
		return summary, err
	}

	var failed []string
	for _, inst := range summary.Instances {
		if inst.Status == store.StatusFailure {
			failed = append(failed, inst.ID)
		}
	}
	if len(failed) > 0 {
		return summary, fmt.Errorf("%d instance(s) failed: %v", len(failed), failed)
	}

	slog.Info("run succeeded", "run", req.RunID, "instances", len(summary.Instances))
	return summary, nil
}

func selectTriggered(workflows []*api.Workflow, event api.Event) ([]*api.Workflow, error) {
	var triggered []*api.Workflow
	for _, workflow := range workflows {
		ok, err := workflow.Triggered(event)
		if err != nil {
			return nil, fmt.Errorf("matching workflow %s: %w", workflow.FilePath, err)
		}
		if !ok {
			slog.Info("workflow not triggered", "workflow", workflow.Name, "event", event.Name, "ref", event.Ref)
			continue
		}
		triggered = append(triggered, workflow)
	}

	if len(triggered) == 0 {
		slog.Warn("no workflow triggered by event", "event", event.Name, "ref", event.Ref)
	}

	return triggered, nil
}

// jobGroup holds the instances of one job. Scheduling limits apply per
// group; groups themselves all run concurrently.
type jobGroup struct {
	instances []*instance
	limit     int
}

// expandAll turns every job of every triggered workflow into its matrix
// instances. Instance ids are unique within the run; a clash across
// workflows gets a numeric suffix.
func expandAll(workflows []*api.Workflow) ([]jobGroup, error) {
	var groups []jobGroup
	seen := map[string]int{}

	for _, workflow := range workflows {
		jobIDs := make([]string, 0, len(workflow.Jobs))
		for jobID := range workflow.Jobs {
			jobIDs = append(jobIDs, jobID)
		}
		slices.Sort(jobIDs)
		for _, jobID := range jobIDs {
			job := workflow.Jobs[jobID]

			combos := []api.Combination{{}}
			limit := 0
			if job.Strategy != nil {
				expanded, err := job.Strategy.Matrix.Expand()
				if err != nil {
					return nil, fmt.Errorf("expanding matrix for job %q: %w", jobID, err)
				}
				combos = expanded
				limit = job.Strategy.MaxParallel
			}

			group := jobGroup{limit: limit}
			for _, combo := range combos {
				id := jobID + "-" + combo.Slug()
				seen[id]++
				if n := seen[id]; n > 1 {
					id = fmt.Sprintf("%s-%d", id, n)
				}

				group.instances = append(group.instances, &instance{
					ID:       id,
					Workflow: workflow,
					JobID:    jobID,
					Job:      job,
					Combo:    combo,
				})
			}
			groups = append(groups, group)
		}
	}

	return groups, nil
}

// runGroups schedules all instances and blocks until they finish. Each job
// group gets its own semaphore so one job's max-parallel never starves
// another job. Instances only ever write their own summary slot.
func (e *Engine) runGroups(ctx context.Context, req Request, groups []jobGroup, summary *store.RunSummary) {
	total := 0
	for _, group := range groups {
		total += len(group.instances)
	}
	summary.Instances = make([]store.InstanceSummary, total)

	slog.Info("run started", "run", req.RunID, "event", req.Event.Name, "instances", total)

	var wg sync.WaitGroup
	slot := 0
	for _, group := range groups {
		limit := group.limit
		if e.MaxParallel > 0 && (limit == 0 || e.MaxParallel < limit) {
			limit = e.MaxParallel
		}

		var sem chan struct{}
		if limit > 0 {
			sem = make(chan struct{}, limit)
		}

		for _, inst := range group.instances {
			wg.Add(1)
			go func(inst *instance, slot int) {
				defer wg.Done()

				if sem != nil {
					sem <- struct{}{}
					defer func() { <-sem }()
				}

				summary.Instances[slot] = e.runInstance(ctx, req, inst)
			}(inst, slot)
			slot++
		}
	}
	wg.Wait()
}
