package project

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tylerbutler/hoist/internal/config"
	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/logfields"
)

// BuildProject is the whole repository: every workspace plus the derived
// release-group and package maps. Built once per invocation.
type BuildProject struct {
	RootPath   string
	Config     *config.Config
	Workspaces map[string]*Workspace

	releaseGroups map[string]*ReleaseGroup

	mu       sync.Mutex
	packages map[string]*Package // lazily built flat map, reset on Reload
}

// LoadBuildProject loads the project configuration found at or above
// searchPath, or infers a single workspace from lockfile locations when no
// config exists. It fails when no workspace can be found either way.
func LoadBuildProject(searchPath string) (*BuildProject, error) {
	if cfgPath, ok := config.Find(searchPath); ok {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		return newBuildProject(filepath.Dir(cfgPath), cfg)
	}

	// No config file: infer a workspace from the nearest lockfile.
	rootDir, pm, ok := FindLockfileRoot(searchPath)
	if !ok {
		return nil, hoisterr.NoWorkspaceFound(searchPath)
	}
	slog.Debug("Inferred workspace from lockfile",
		logfields.Path(rootDir),
		slog.String("package_manager", pm.Name))
	return newBuildProject(rootDir, config.Inferred())
}

// LoadBuildProjectFile loads the project from an explicit config file path,
// regardless of the file's name. The project root is the file's directory.
func LoadBuildProjectFile(cfgPath string) (*BuildProject, error) {
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	return newBuildProject(filepath.Dir(abs), cfg)
}

func newBuildProject(rootPath string, cfg *config.Config) (*BuildProject, error) {
	p := &BuildProject{
		RootPath:   rootPath,
		Config:     cfg,
		Workspaces: make(map[string]*Workspace, len(cfg.Workspaces)),
	}

	names := make([]string, 0, len(cfg.Workspaces))
	for name := range cfg.Workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ws, err := loadWorkspace(name, rootPath, cfg.Workspaces[name], cfg.Exclude)
		if err != nil {
			return nil, err
		}
		p.Workspaces[name] = ws
	}

	if err := p.rebuildDerived(); err != nil {
		return nil, err
	}
	return p, nil
}

// rebuildDerived recomputes the cross-workspace release-group union and drops
// the lazy package map. Duplicate release-group names across workspaces are a
// fatal configuration error.
func (p *BuildProject) rebuildDerived() error {
	groups := make(map[string]*ReleaseGroup)
	owner := make(map[string]string)
	for wsName, ws := range p.Workspaces {
		for rgName, rg := range ws.ReleaseGroups {
			if prev, ok := owner[rgName]; ok {
				return hoisterr.DuplicateReleaseGroup(rgName, prev, wsName)
			}
			owner[rgName] = wsName
			groups[rgName] = rg
		}
	}
	p.releaseGroups = groups

	p.mu.Lock()
	p.packages = nil
	p.mu.Unlock()
	return nil
}

// Reload cascades a re-scan to every workspace and rebuilds derived maps.
// Not safe to call concurrently with an in-flight build.
func (p *BuildProject) Reload() error {
	for _, ws := range p.Workspaces {
		if err := ws.Reload(); err != nil {
			return err
		}
	}
	return p.rebuildDerived()
}

// ReleaseGroups returns the project-wide release-group map.
func (p *BuildProject) ReleaseGroups() map[string]*ReleaseGroup {
	return p.releaseGroups
}

// Packages returns the lazily-computed flat map of package name to package.
func (p *BuildProject) Packages() map[string]*Package {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.packages == nil {
		p.packages = make(map[string]*Package)
		for _, ws := range p.Workspaces {
			for _, pkg := range ws.Packages {
				p.packages[pkg.Name] = pkg
			}
		}
	}
	return p.packages
}

// PackageByName resolves a package anywhere in the project.
func (p *BuildProject) PackageByName(name string) (*Package, bool) {
	pkg, ok := p.Packages()[name]
	return pkg, ok
}

// PackageByDirectory resolves the package rooted at exactly dir.
func (p *BuildProject) PackageByDirectory(dir string) (*Package, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, false
	}
	abs = filepath.Clean(abs)
	for _, pkg := range p.Packages() {
		if filepath.Clean(pkg.Directory) == abs {
			return pkg, true
		}
	}
	return nil, false
}

// PackageReleaseGroup resolves the release group a package declares
// membership in. An unresolvable declared group is a configuration error.
func (p *BuildProject) PackageReleaseGroup(pkg *Package) (*ReleaseGroup, error) {
	if pkg.ReleaseGroupName == "" {
		return nil, fmt.Errorf("package %q is not in a release group", pkg.Name)
	}
	rg, ok := p.releaseGroups[pkg.ReleaseGroupName]
	if !ok {
		return nil, hoisterr.UnresolvedReleaseGroup(pkg.Name, pkg.ReleaseGroupName)
	}
	return rg, nil
}
