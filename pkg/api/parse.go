package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadWorkflow reads a workflow YAML file, sets FilePath, and validates it.
// A workflow without an explicit name is named after its file.
func LoadWorkflow(filename string) (*Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}

	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing workflow file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	w.FilePath = absPath

	if w.Name == "" {
		base := filepath.Base(absPath)
		w.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validating workflow %s: %w", filename, err)
	}

	return &w, nil
}
