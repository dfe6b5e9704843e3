package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/systemstart/gridrun/pkg/actions"
	"github.com/systemstart/gridrun/pkg/api"
	"github.com/systemstart/gridrun/pkg/executor"
	"github.com/systemstart/gridrun/pkg/expr"
	"github.com/systemstart/gridrun/pkg/store"
)

// runInstance executes one matrix instance from start to finish. Failures
// stay inside the returned summary; nothing an instance does can affect its
// siblings.
func (e *Engine) runInstance(ctx context.Context, req Request, inst *instance) store.InstanceSummary {
	summary := store.InstanceSummary{
		ID:          inst.ID,
		Workflow:    inst.Workflow.Name,
		Job:         inst.JobID,
		Combination: inst.Combo,
		RunsOn:      inst.Job.RunsOn,
		Status:      store.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	log := slog.With("run", req.RunID, "instance", inst.ID)
	log.Info("instance started", "combination", inst.Combo.String(), "runs-on", inst.Job.RunsOn)

	e.runInstanceSteps(ctx, req, inst, log, &summary)

	summary.FinishedAt = time.Now().UTC()
	if summary.Failure != "" {
		summary.Status = store.StatusFailure
		log.Error("instance failed", "error", summary.Failure)
	} else {
		summary.Status = store.StatusSuccess
		log.Info("instance succeeded")
	}

	return summary
}

// runInstanceSteps prepares the instance workspace and walks the step list,
// recording per-step outcomes and the first fatal error in the summary.
func (e *Engine) runInstanceSteps(ctx context.Context, req Request, inst *instance, log *slog.Logger, summary *store.InstanceSummary) {
	steps := make([]store.StepSummary, len(inst.Job.Steps))
	for i, cfg := range inst.Job.Steps {
		steps[i] = store.StepSummary{Name: stepName(cfg, i), Status: store.StatusSkipped}
	}
	summary.Steps = steps

	layout, err := e.Store.CreateInstance(req.RunID, inst.ID)
	if err != nil {
		summary.Failure = err.Error()
		return
	}

	env := mergeEnv(inst.Workflow.Env, inst.Job.Env)
	data := expr.Data{
		Workflow: inst.Workflow.Name,
		Job:      inst.JobID,
		Matrix:   map[string]string(inst.Combo),
		Event:    eventData(req.Event),
		Env:      env,
	}

	env, err = expr.RenderAll(env, data)
	if err != nil {
		summary.Failure = fmt.Sprintf("interpolating environment: %v", err)
		return
	}
	data.Env = env

	runsOn, err := expr.Render(inst.Job.RunsOn, data)
	if err != nil {
		summary.Failure = fmt.Sprintf("interpolating runs-on: %v", err)
		return
	}
	summary.RunsOn = runsOn

	exec, err := executor.For(runsOn, e.Mapping)
	if err != nil {
		summary.Failure = err.Error()
		return
	}

	for i, cfg := range inst.Job.Steps {
		if summary.Failure != "" {
			continue
		}

		name := steps[i].Name

		ok, err := expr.EvalBool(cfg.If, data)
		if err != nil {
			steps[i] = store.StepSummary{Name: name, Status: store.StatusFailure, Error: err.Error()}
			summary.Failure = fmt.Sprintf("step %q failed: %v", name, err)
			continue
		}
		if !ok {
			log.Info("step skipped", "step", name, "if", cfg.If)
			continue
		}

		log.Info("running step", "step", name)
		steps[i] = e.runStep(ctx, req, inst, cfg, name, i, layout, exec, data, env)

		if steps[i].Status == store.StatusFailure {
			if cfg.ContinueOnError {
				steps[i].AllowedFailure = true
				log.Warn("step failed but is allowed to", "step", name, "error", steps[i].Error)
				continue
			}
			summary.Failure = fmt.Sprintf("step %q failed: %s", name, steps[i].Error)
		}
	}
}

// runStep executes a single non-skipped step and classifies the outcome.
func (e *Engine) runStep(ctx context.Context, req Request, inst *instance, cfg api.StepConfig, name string, index int, layout store.InstanceLayout, exec executor.Executor, data expr.Data, env map[string]string) store.StepSummary {
	step := store.StepSummary{Name: name, Status: store.StatusRunning}

	if cfg.Uses != "" {
		if err := e.runAction(ctx, req, inst, cfg, layout, data, env); err != nil {
			step.Status = store.StatusFailure
			step.Error = err.Error()
			return step
		}
		step.Status = store.StatusSuccess
		return step
	}

	command, err := expr.Render(cfg.Run, data)
	if err != nil {
		step.Status = store.StatusFailure
		step.Error = err.Error()
		return step
	}

	subDir, err := expr.Render(cfg.WorkingDirectory, data)
	if err != nil {
		step.Status = store.StatusFailure
		step.Error = err.Error()
		return step
	}

	stepEnv, err := expr.RenderAll(cfg.Env, data)
	if err != nil {
		step.Status = store.StatusFailure
		step.Error = err.Error()
		return step
	}

	spec := executor.Spec{
		Command: command,
		Dir:     layout.WorkDir,
		SubDir:  subDir,
		Env:     mergeEnv(env, stepEnv),
	}

	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			step.Status = store.StatusFailure
			step.Error = fmt.Sprintf("parsing timeout: %v", err)
			return step
		}
		spec.Timeout = timeout
	}

	result, runErr := exec.Run(ctx, spec)
	step.ExitCode = result.ExitCode

	if len(result.Output) > 0 {
		logFile, err := e.Store.WriteStepLog(layout, index+1, name, result.Output)
		if err != nil {
			slog.Warn("failed to persist step log", "run", req.RunID, "instance", inst.ID, "step", name, "error", err)
		} else {
			step.Log = logFile
		}
	}

	switch {
	case runErr != nil:
		step.Status = store.StatusFailure
		step.Error = runErr.Error()
	case result.ExitCode != 0:
		step.Status = store.StatusFailure
		step.Error = fmt.Sprintf("exited with status %d", result.ExitCode)
	default:
		step.Status = store.StatusSuccess
	}

	return step
}

// runAction resolves and executes a builtin uses step.
func (e *Engine) runAction(ctx context.Context, req Request, inst *instance, cfg api.StepConfig, layout store.InstanceLayout, data expr.Data, env map[string]string) error {
	action, err := actions.New(cfg.Uses)
	if err != nil {
		return err
	}

	with, err := expr.RenderAll(cfg.With, data)
	if err != nil {
		return err
	}

	actx := actions.Context{
		InputDir: e.InputDir,
		WorkDir:  layout.WorkDir,
		With:     with,
		Env:      env,
		Mapping:  e.Mapping,
		HTTP:     e.HTTP,
		Meta: actions.Meta{
			Run:      req.RunID,
			Workflow: inst.Workflow.Name,
			Job:      inst.JobID,
			Combo:    inst.Combo,
		},
	}

	return action.Run(ctx, &actx)
}

func stepName(cfg api.StepConfig, index int) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if cfg.Uses != "" {
		return cfg.Uses
	}
	return fmt.Sprintf("step-%d", index+1)
}

func mergeEnv(layers ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, layer := range layers {
		maps.Copy(merged, layer)
	}
	return merged
}

func eventData(e api.Event) expr.EventData {
	return expr.EventData{
		Name:   e.Name,
		Ref:    e.Ref,
		Branch: e.Branch(),
		Tag:    e.Tag(),
	}
}
