package project

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tylerbutler/hoist/internal/config"
	"github.com/tylerbutler/hoist/internal/glob"
	"github.com/tylerbutler/hoist/internal/logfields"
)

// Workspace is a directory subtree managed by one package manager. Other
// components hold references to it; Reload replaces derived collections
// without changing the Workspace's identity.
type Workspace struct {
	Name           string
	RootDir        string
	PackageManager *PackageManager
	Packages       []*Package
	ReleaseGroups  map[string]*ReleaseGroup

	cfg     config.WorkspaceConfig
	exclude []string
}

// loadWorkspace constructs a workspace from its configuration.
func loadWorkspace(name, projectRoot string, cfg config.WorkspaceConfig, exclude []string) (*Workspace, error) {
	rootDir := cfg.Directory
	if !filepath.IsAbs(rootDir) {
		rootDir = filepath.Join(projectRoot, rootDir)
	}
	rootDir = filepath.Clean(rootDir)
	if _, err := os.Stat(rootDir); err != nil {
		return nil, fmt.Errorf("workspace %q: %w", name, err)
	}

	pm, ok := DetectPackageManager(rootDir)
	if !ok {
		// Workspaces without a lockfile still load; the shim is only needed
		// for discovery commands.
		pm = &PackageManager{Name: "npm", Lockfiles: []string{"package-lock.json"}}
	}

	ws := &Workspace{
		Name:           name,
		RootDir:        rootDir,
		PackageManager: pm,
		cfg:            cfg,
		exclude:        exclude,
	}
	if err := ws.Reload(); err != nil {
		return nil, err
	}
	return ws, nil
}

// Reload re-scans the workspace directory and rebuilds the package and
// release-group collections in place. Not safe to call concurrently with an
// in-flight build.
func (w *Workspace) Reload() error {
	pkgs, err := scanPackages(w.RootDir, w.exclude)
	if err != nil {
		return fmt.Errorf("scan workspace %q: %w", w.Name, err)
	}
	for _, pkg := range pkgs {
		pkg.Workspace = w
		pkg.IsWorkspaceRoot = pkg.Directory == w.RootDir
	}

	groups := make(map[string]*ReleaseGroup, len(w.cfg.ReleaseGroups))
	names := make([]string, 0, len(w.cfg.ReleaseGroups))
	for rgName := range w.cfg.ReleaseGroups {
		names = append(names, rgName)
	}
	sort.Strings(names)
	for _, rgName := range names {
		rg, err := buildReleaseGroup(rgName, w.cfg.ReleaseGroups[rgName], w.RootDir, pkgs)
		if err != nil {
			return err
		}
		groups[rgName] = rg
	}

	w.Packages = pkgs
	w.ReleaseGroups = groups
	slog.Debug("Workspace loaded",
		logfields.Workspace(w.Name),
		slog.Int("packages", len(pkgs)),
		slog.Int("release_groups", len(groups)))
	return nil
}

// PackageByName returns the named member package.
func (w *Workspace) PackageByName(name string) (*Package, bool) {
	for _, pkg := range w.Packages {
		if pkg.Name == name {
			return pkg, true
		}
	}
	return nil, false
}

// scanPackages walks rootDir collecting every directory holding a
// package.json, skipping node_modules, dot directories, and excluded globs.
func scanPackages(rootDir string, exclude []string) ([]*Package, error) {
	var pkgs []*Package
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			base := d.Name()
			if path != rootDir && (base == "node_modules" || strings.HasPrefix(base, ".")) {
				return filepath.SkipDir
			}
			rel, relErr := filepath.Rel(rootDir, path)
			if relErr == nil && rel != "." && glob.MatchAny(exclude, filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ManifestFileName {
			return nil
		}
		dir := filepath.Dir(path)
		manifest, err := LoadManifest(dir)
		if err != nil {
			return err
		}
		pkgs = append(pkgs, &Package{
			Name:      manifest.Name,
			Directory: dir,
			Manifest:  manifest,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}
