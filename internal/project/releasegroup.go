package project

import (
	"fmt"
	"path/filepath"

	"github.com/tylerbutler/hoist/internal/config"
	"github.com/tylerbutler/hoist/internal/glob"
)

// ReleaseGroup is a set of packages versioned and released together. Members
// are a subset of one workspace's packages; names are unique across the whole
// build project.
type ReleaseGroup struct {
	Name        string
	Version     string
	Packages    []*Package
	RootPackage *Package
}

// buildReleaseGroup assigns workspace packages to a release group by matching
// the configured include globs against package directories relative to the
// workspace root.
func buildReleaseGroup(name string, cfg config.ReleaseGroupConfig, wsRoot string, pkgs []*Package) (*ReleaseGroup, error) {
	rg := &ReleaseGroup{Name: name}
	for _, pkg := range pkgs {
		rel, err := filepath.Rel(wsRoot, pkg.Directory)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if !glob.MatchAny(cfg.Include, rel) || glob.MatchAny(cfg.Exclude, rel) {
			continue
		}
		if pkg.ReleaseGroupName != "" && pkg.ReleaseGroupName != name {
			return nil, fmt.Errorf("package %q matched by release groups %q and %q", pkg.Name, pkg.ReleaseGroupName, name)
		}
		pkg.ReleaseGroupName = name
		rg.Packages = append(rg.Packages, pkg)
	}

	if cfg.RootPackage != "" {
		for _, pkg := range rg.Packages {
			if pkg.Name == cfg.RootPackage {
				pkg.IsReleaseGroupRoot = true
				rg.RootPackage = pkg
				break
			}
		}
		if rg.RootPackage == nil {
			return nil, fmt.Errorf("release group %q: root package %q not found among members", name, cfg.RootPackage)
		}
	}

	if rg.RootPackage != nil {
		rg.Version = rg.RootPackage.Version()
	} else if len(rg.Packages) > 0 {
		rg.Version = rg.Packages[0].Version()
	}
	return rg, nil
}

// RootPackages returns the subset of packages flagged as release-group roots.
func (rg *ReleaseGroup) RootPackages() []*Package {
	var roots []*Package
	for _, pkg := range rg.Packages {
		if pkg.IsReleaseGroupRoot {
			roots = append(roots, pkg)
		}
	}
	return roots
}
