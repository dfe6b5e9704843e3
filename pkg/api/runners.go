package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunnerMapping binds runs-on labels to execution backends and carries the
// host-side toolchain and coverage endpoints. A nil mapping is valid and
// resolves every label to the shell backend.
type RunnerMapping struct {
	Runners    map[string]RunnerConfig `yaml:"runners"`
	Toolchains map[string]string       `yaml:"toolchains"`
	Coverage   CoverageConfig          `yaml:"coverage"`
}

// RunnerConfig selects and parameterizes the backend for one label.
type RunnerConfig struct {
	Backend string `yaml:"backend"`
	Image   string `yaml:"image"`
	Shell   string `yaml:"shell"`
}

// CoverageConfig points the coverage-upload action at an aggregation
// service.
type CoverageConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// LoadRunnerMapping reads a runner mapping YAML file and validates it.
// ${VAR} references in the coverage endpoint are expanded from the
// environment so tokens can stay out of the file.
func LoadRunnerMapping(filename string) (*RunnerMapping, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading runner mapping file: %w", err)
	}

	var m RunnerMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing runner mapping file: %w", err)
	}

	m.Coverage.URL = os.ExpandEnv(m.Coverage.URL)
	m.Coverage.Token = os.ExpandEnv(m.Coverage.Token)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating runner mapping %s: %w", filename, err)
	}

	return &m, nil
}

// Validate checks the runner mapping for errors.
func (m *RunnerMapping) Validate() error {
	for label, cfg := range m.Runners {
		if label == "" {
			return fmt.Errorf("runner label must not be empty")
		}
		switch cfg.Backend {
		case "", BackendShell:
			if cfg.Image != "" {
				return fmt.Errorf("runner %q: image is only valid for the container backend", label)
			}
		case BackendContainer:
			if cfg.Image == "" {
				return fmt.Errorf("runner %q: container backend requires an image", label)
			}
		default:
			return fmt.Errorf("runner %q: unknown backend %q", label, cfg.Backend)
		}
	}

	for version, dir := range m.Toolchains {
		if version == "" || dir == "" {
			return fmt.Errorf("toolchain entries need both a version and a directory")
		}
	}
	return nil
}

// Lookup resolves a runs-on label to its backend configuration. Unmapped
// labels run on the shell backend.
func (m *RunnerMapping) Lookup(label string) RunnerConfig {
	if m == nil {
		return RunnerConfig{Backend: BackendShell}
	}
	cfg, ok := m.Runners[label]
	if !ok {
		return RunnerConfig{Backend: BackendShell}
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendShell
	}
	return cfg
}

// Toolchain returns the configured bin directory for an interpreter
// version, if any.
func (m *RunnerMapping) Toolchain(version string) (string, bool) {
	if m == nil {
		return "", false
	}
	dir, ok := m.Toolchains[version]
	return dir, ok
}

// CoverageEndpoint returns the configured coverage service, if any.
func (m *RunnerMapping) CoverageEndpoint() CoverageConfig {
	if m == nil {
		return CoverageConfig{}
	}
	return m.Coverage
}
