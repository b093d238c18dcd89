package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFileName is the per-package manifest hoist parses.
const ManifestFileName = "package.json"

// PackageManifest is the parsed package.json. Dependency maps are owned,
// mutable collections: tooling may rewrite them between reloads.
type PackageManifest struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Private          bool              `json:"private,omitempty"`
	Scripts          map[string]string `json:"scripts,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	DevDependencies  map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	Workspaces       workspaceGlobs    `json:"workspaces,omitempty"`
}

// workspaceGlobs accepts both the array form and the object form
// ({"packages": [...]}) of the package.json workspaces field.
type workspaceGlobs []string

func (w *workspaceGlobs) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*w = arr
		return nil
	}
	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("workspaces field: %w", err)
	}
	*w = obj.Packages
	return nil
}

// LoadManifest reads and parses the package.json in dir.
func LoadManifest(dir string) (*PackageManifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path) // #nosec G304 - path derives from workspace scanning
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m PackageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	return &m, nil
}

// DependencyNames returns the combined production, dev, and peer dependency
// names in a deterministic order.
func (m *PackageManifest) DependencyNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, deps := range []map[string]string{m.Dependencies, m.DevDependencies, m.PeerDependencies} {
		for name := range deps {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
