// Package config loads and validates the hoist.yaml build configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file hoist looks for, walking upward from the
// search directory.
const FileName = "hoist.yaml"

// Config represents the build project configuration
type Config struct {
	Workspaces map[string]WorkspaceConfig `yaml:"workspaces"`
	Tasks      map[string]TaskDefinition  `yaml:"tasks,omitempty"`
	Defaults   DefaultsConfig             `yaml:"defaults,omitempty"`
	Cache      CacheConfig                `yaml:"cache,omitempty"`
	Exclude    []string                   `yaml:"exclude,omitempty"`
	Upstream   string                     `yaml:"upstream,omitempty"` // partial remote URL for changed-since selection
}

// WorkspaceConfig describes one workspace under the project root.
type WorkspaceConfig struct {
	Directory     string                        `yaml:"directory"`
	ReleaseGroups map[string]ReleaseGroupConfig `yaml:"releaseGroups"`
}

// ReleaseGroupConfig describes a release group inside a workspace.
type ReleaseGroupConfig struct {
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude,omitempty"`
	RootPackage string   `yaml:"rootPackage,omitempty"`
}

// TaskDefinition is a declarative task: either a leaf bound to a handler, or a
// group composed of child task names.
type TaskDefinition struct {
	Handler    string   `yaml:"handler,omitempty"` // registry command name, default "shell"
	Script     string   `yaml:"script,omitempty"`  // command line for the shell handler
	DependsOn  []string `yaml:"dependsOn,omitempty"`
	Children   []string `yaml:"children,omitempty"`
	Sequential bool     `yaml:"sequential,omitempty"`
	Inputs     []string `yaml:"inputs,omitempty"`  // input globs for cache keying
	Outputs    []string `yaml:"outputs,omitempty"` // output globs captured into the cache
	Weight     int      `yaml:"weight,omitempty"` // scheduling weight, heavier starts earlier
}

// IsGroup reports whether the definition composes child tasks.
func (d TaskDefinition) IsGroup() bool { return len(d.Children) > 0 }

// DefaultsConfig holds project-wide defaults applied to every package's task
// graph. DependsOn entries here propagate only to unnamed subtasks.
type DefaultsConfig struct {
	DependsOn []string `yaml:"dependsOn,omitempty"`
}

// CacheConfig controls the content-addressable task cache.
type CacheConfig struct {
	Directory       string `yaml:"directory,omitempty"`
	SkipWrite       bool   `yaml:"skipWrite,omitempty"`
	Overwrite       bool   `yaml:"overwrite,omitempty"`
	VerifyIntegrity bool   `yaml:"verifyIntegrity,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path) // #nosec G304 - path comes from CLI flag or upward search
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Inferred builds the configuration used when no config file exists: a single
// workspace at the project root with one release group spanning every package.
func Inferred() *Config {
	cfg := &Config{
		Workspaces: map[string]WorkspaceConfig{
			"main": {
				Directory: ".",
				ReleaseGroups: map[string]ReleaseGroupConfig{
					"main": {Include: []string{"**"}},
				},
			},
		},
		Tasks: map[string]TaskDefinition{},
	}
	cfg.applyDefaults()
	return cfg
}

// Find walks upward from searchDir looking for a config file. It returns the
// file path, or ok=false when no config exists anywhere up the tree.
func Find(searchDir string) (path string, ok bool) {
	dir, err := filepath.Abs(searchDir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Validate checks structural constraints that do not need filesystem access.
func (c *Config) Validate() error {
	for wsName, ws := range c.Workspaces {
		if ws.Directory == "" {
			return fmt.Errorf("workspace %q: directory is required", wsName)
		}
		for rgName, rg := range ws.ReleaseGroups {
			if len(rg.Include) == 0 {
				return fmt.Errorf("workspace %q release group %q: include globs are required", wsName, rgName)
			}
		}
	}
	for name, def := range c.Tasks {
		if def.IsGroup() && def.Script != "" {
			return fmt.Errorf("task %q: a group task cannot also have a script", name)
		}
		for _, child := range def.Children {
			if _, ok := c.Tasks[child]; !ok {
				return fmt.Errorf("task %q: unknown child task %q", name, child)
			}
		}
	}
	return nil
}
