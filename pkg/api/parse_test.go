package api

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validWorkflow = `
name: unit-tests
on:
  push:
    branches: [main]
env:
  CI: "true"
jobs:
  unit:
    runs-on: linux
    strategy:
      max-parallel: 2
      matrix:
        interpreter: ["3.6", "3.7", "3.8"]
        os: [linux, macos, windows]
    steps:
      - name: checkout
        uses: checkout
      - name: test
        run: invoke unit
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	f := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(f, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLoadWorkflow_Valid(t *testing.T) {
	f := writeWorkflow(t, validWorkflow)

	w, err := LoadWorkflow(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Name != "unit-tests" {
		t.Fatalf("expected name unit-tests, got %q", w.Name)
	}
	if w.FilePath != f {
		t.Fatalf("expected FilePath=%q, got %q", f, w.FilePath)
	}
	if w.On.Push == nil {
		t.Fatal("expected push trigger")
	}
	if len(w.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(w.Jobs))
	}

	job := w.Jobs["unit"]
	if job.Strategy == nil || job.Strategy.MaxParallel != 2 {
		t.Fatal("expected max-parallel 2")
	}
	if len(job.Strategy.Matrix.Axes["interpreter"]) != 3 {
		t.Fatalf("expected 3 interpreter values, got %d", len(job.Strategy.Matrix.Axes["interpreter"]))
	}
	if len(job.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(job.Steps))
	}
}

func TestLoadWorkflow_DefaultName(t *testing.T) {
	f := writeWorkflow(t, `
on: push
jobs:
  unit:
    runs-on: linux
    steps:
      - name: test
        run: "true"
`)

	w, err := LoadWorkflow(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Name != "workflow" {
		t.Fatalf("expected name derived from file, got %q", w.Name)
	}
}

func TestLoadWorkflow_FileNotFound(t *testing.T) {
	_, err := LoadWorkflow("/nonexistent/workflow.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading workflow file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadWorkflow_InvalidYAML(t *testing.T) {
	f := writeWorkflow(t, "{{invalid")

	_, err := LoadWorkflow(f)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing workflow file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadWorkflow_ValidationFails(t *testing.T) {
	f := writeWorkflow(t, `
on: push
jobs:
  unit:
    runs-on: linux
    steps: []
`)

	_, err := LoadWorkflow(f)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validating workflow") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadWorkflow_ShortTriggerForms(t *testing.T) {
	f := writeWorkflow(t, `
on: [push, pull_request]
jobs:
  unit:
    runs-on: linux
    steps:
      - name: test
        run: "true"
`)

	w, err := LoadWorkflow(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.On.Push == nil || w.On.PullRequest == nil {
		t.Fatal("expected both triggers enabled")
	}
}

func TestLoadWorkflow_UnknownEvent(t *testing.T) {
	f := writeWorkflow(t, `
on: release
jobs:
  unit:
    runs-on: linux
    steps:
      - name: test
        run: "true"
`)

	_, err := LoadWorkflow(f)
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
	if !strings.Contains(err.Error(), "unknown event") {
		t.Fatalf("unexpected error: %v", err)
	}
}
