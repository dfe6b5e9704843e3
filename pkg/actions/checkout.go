package actions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/systemstart/gridrun/pkg/api"
)

// defaultExcludes are never copied into an instance workspace.
var defaultExcludes = []string{".git", ".git/**"}

// checkoutAction materializes the triggering source tree inside the instance
// workspace. Every instance gets its own copy, so steps can mutate the tree
// without affecting siblings.
type checkoutAction struct{}

func (a *checkoutAction) Name() string {
	return api.ActionCheckout
}

func (a *checkoutAction) Run(_ context.Context, actx *Context) error {
	excludes := append([]string{}, defaultExcludes...)
	if raw := actx.With["exclude"]; raw != "" {
		for _, pattern := range strings.Split(raw, ",") {
			excludes = append(excludes, strings.TrimSpace(pattern))
		}
	}

	if err := copyTree(actx.InputDir, actx.WorkDir, excludes); err != nil {
		return fmt.Errorf("copying source tree: %w", err)
	}

	return nil
}

func copyTree(src, dst string, excludes []string) error {
	err := filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, err)
		}
		if rel == "." {
			return nil
		}

		excluded, err := matchesAnyPattern(excludes, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if excluded {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		return copyEntry(dst, rel, path, entry)
	})
	if err != nil {
		return fmt.Errorf("copying tree: %w", err)
	}

	return nil
}

func copyEntry(dst, rel, src string, entry fs.DirEntry) error {
	target := filepath.Join(dst, rel)

	if entry.IsDir() {
		if err := os.MkdirAll(target, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", target, err)
		}
		return nil
	}

	info, err := entry.Info()
	if err != nil {
		return fmt.Errorf("reading file info for %s: %w", src, err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	if err := os.WriteFile(target, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}

	return nil
}

func matchesAnyPattern(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}
