package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

const summaryFile = "summary.yaml"

// Store persists run state beneath a workspace root. Each run owns one
// directory holding its summary and the per-instance work and log trees.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory, creating it when
// missing.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// NewRunID returns a fresh run identifier. Identifiers sort
// chronologically and carry a random suffix to stay unique within one
// second.
func (s *Store) NewRunID(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating run id: %w", err)
	}

	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), hex.EncodeToString(suffix)), nil
}

// CreateRun creates the directory for a run.
func (s *Store) CreateRun(id string) error {
	if err := os.MkdirAll(s.RunDir(id), 0o750); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	return nil
}

// RunDir returns the directory a run lives in.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.root, id)
}

// InstanceLayout describes the on-disk locations of one instance.
type InstanceLayout struct {
	Dir     string
	WorkDir string
	LogDir  string
}

// CreateInstance creates the work and log directories for an instance and
// returns their locations.
func (s *Store) CreateInstance(runID, instanceID string) (InstanceLayout, error) {
	dir := filepath.Join(s.RunDir(runID), instanceID)
	layout := InstanceLayout{
		Dir:     dir,
		WorkDir: filepath.Join(dir, "src"),
		LogDir:  filepath.Join(dir, "logs"),
	}

	for _, d := range []string{layout.WorkDir, layout.LogDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return InstanceLayout{}, fmt.Errorf("creating instance directory %s: %w", d, err)
		}
	}

	return layout, nil
}

// WriteStepLog persists the captured output of a step and returns the log
// file name relative to the instance log directory.
func (s *Store) WriteStepLog(layout InstanceLayout, index int, step string, output []byte) (string, error) {
	name := fmt.Sprintf("step-%02d-%s.log", index, logName(step))

	if err := os.WriteFile(filepath.Join(layout.LogDir, name), output, 0o640); err != nil {
		return "", fmt.Errorf("writing step log: %w", err)
	}

	return name, nil
}

// WriteSummary persists the run summary as YAML in the run directory.
func (s *Store) WriteSummary(summary *RunSummary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshalling run summary: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.RunDir(summary.ID), summaryFile), data, 0o640); err != nil {
		return fmt.Errorf("writing run summary: %w", err)
	}

	return nil
}

// LoadSummary reads the persisted summary of a run. A missing summary is
// reported through an error wrapping fs.ErrNotExist.
func (s *Store) LoadSummary(id string) (*RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(id), summaryFile))
	if err != nil {
		return nil, fmt.Errorf("reading run summary: %w", err)
	}

	summary := &RunSummary{}
	if err := yaml.Unmarshal(data, summary); err != nil {
		return nil, fmt.Errorf("parsing run summary %s: %w", id, err)
	}

	return summary, nil
}

// ListRuns loads the summaries of all completed runs, newest first. Run
// directories without a summary (still in flight, or aborted before the
// engine could write one) are skipped.
func (s *Store) ListRuns() ([]*RunSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading workspace root: %w", err)
	}

	summaries := []*RunSummary{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		summary, err := s.LoadSummary(entry.Name())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID > summaries[j].ID
	})

	return summaries, nil
}

// logName derives a file name fragment from a step name.
func logName(step string) string {
	name := make([]rune, 0, len(step))
	for _, r := range step {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.' || r == '-':
			name = append(name, r)
		case r >= 'A' && r <= 'Z':
			name = append(name, r+'a'-'A')
		case r == ' ' || r == '_':
			name = append(name, '-')
		}
	}

	if len(name) == 0 {
		return "step"
	}

	return string(name)
}
