package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/systemstart/gridrun/pkg/api"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "runs")

	s, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(s.Root())
	if err != nil || !info.IsDir() {
		t.Fatalf("expected workspace root to exist: %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	id, err := s.NewRunID(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(id, "20260823-120000-") {
		t.Fatalf("unexpected id format: %q", id)
	}

	other, err := s.NewRunID(now)
	if err != nil {
		t.Fatal(err)
	}
	if other == id {
		t.Fatal("expected distinct ids for the same timestamp")
	}
}

func TestCreateInstance_Layout(t *testing.T) {
	s := testStore(t)
	if err := s.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}

	layout, err := s.CreateInstance("run-1", "unit-3.8-ubuntu-latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, dir := range []string{layout.WorkDir, layout.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if filepath.Base(layout.WorkDir) != "src" {
		t.Fatalf("unexpected work dir: %s", layout.WorkDir)
	}
	if filepath.Base(layout.LogDir) != "logs" {
		t.Fatalf("unexpected log dir: %s", layout.LogDir)
	}
}

func TestWriteStepLog(t *testing.T) {
	s := testStore(t)
	layout, err := s.CreateInstance("run-1", "unit-default")
	if err != nil {
		t.Fatal(err)
	}

	name, err := s.WriteStepLog(layout, 3, "Install package and dependencies", []byte("output\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if name != "step-03-install-package-and-dependencies.log" {
		t.Fatalf("unexpected log name: %q", name)
	}

	data, err := os.ReadFile(filepath.Join(layout.LogDir, name))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if string(data) != "output\n" {
		t.Fatalf("unexpected log content: %q", data)
	}
}

func TestSummaryRoundtrip(t *testing.T) {
	s := testStore(t)
	if err := s.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}

	summary := &RunSummary{
		ID:        "run-1",
		Event:     api.Event{Name: "push", Ref: "refs/heads/main"},
		Workflows: []string{"unit-tests"},
		Status:    StatusFailure,
		Instances: []InstanceSummary{
			{
				ID:          "unit-3.8-ubuntu-latest",
				Workflow:    "unit-tests",
				Job:         "unit",
				Combination: api.Combination{"interpreter": "3.8", "os": "ubuntu-latest"},
				RunsOn:      "ubuntu-latest",
				Status:      StatusFailure,
				Failure:     `step "test" failed: exited with status 1`,
				Steps: []StepSummary{
					{Name: "checkout", Status: StatusSuccess},
					{Name: "test", Status: StatusFailure, ExitCode: 1, Log: "step-02-test.log"},
					{Name: "upload", Status: StatusSkipped},
				},
			},
		},
	}

	if err := s.WriteSummary(summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := s.LoadSummary("run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loaded.Status != StatusFailure {
		t.Fatalf("unexpected status: %q", loaded.Status)
	}
	if len(loaded.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(loaded.Instances))
	}

	inst := loaded.Instances[0]
	if inst.Combination["interpreter"] != "3.8" {
		t.Fatalf("unexpected combination: %v", inst.Combination)
	}
	if len(inst.Steps) != 3 || inst.Steps[2].Status != StatusSkipped {
		t.Fatalf("unexpected steps: %+v", inst.Steps)
	}
	if !loaded.Failed() {
		t.Fatal("expected Failed() to report the failed instance")
	}
}

func TestLoadSummary_Missing(t *testing.T) {
	s := testStore(t)

	_, err := s.LoadSummary("does-not-exist")
	if err == nil {
		t.Fatal("expected error for missing summary")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"20260823-110000-aa", "20260823-120000-bb"} {
		if err := s.CreateRun(id); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteSummary(&RunSummary{ID: id, Status: StatusSuccess}); err != nil {
			t.Fatal(err)
		}
	}

	// A run directory without a summary is still in flight and skipped.
	if err := s.CreateRun("20260823-130000-cc"); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "20260823-120000-bb" {
		t.Fatalf("expected newest run first, got %q", runs[0].ID)
	}
}
