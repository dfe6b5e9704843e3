package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/systemstart/gridrun/pkg/api"
)

// DiscoverWorkflows loads workflow definitions from path. A file is loaded
// directly; a directory is walked for .yml and .yaml files. Results are
// sorted by path so runs are reproducible.
func DiscoverWorkflows(path string) ([]*api.Workflow, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving workflow path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("inspecting workflow path: %w", err)
	}

	if !info.IsDir() {
		workflow, err := api.LoadWorkflow(abs)
		if err != nil {
			return nil, err
		}
		return []*api.Workflow{workflow}, nil
	}

	paths, err := collectWorkflowPaths(abs)
	if err != nil {
		return nil, err
	}

	slices.Sort(paths)

	return loadAll(paths)
}

func collectWorkflowPaths(absRoot string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}

		if d.IsDir() {
			return nil
		}

		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".yml", ".yaml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workflow directory: %w", err)
	}
	return paths, nil
}

func loadAll(paths []string) ([]*api.Workflow, error) {
	workflows := make([]*api.Workflow, 0, len(paths))
	for _, p := range paths {
		workflow, err := api.LoadWorkflow(p)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		workflows = append(workflows, workflow)
	}
	return workflows, nil
}
