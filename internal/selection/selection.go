// Package selection computes the subset of project packages a build run
// targets: glob-based criteria over workspaces and release groups, an
// optional changed-since-ref constraint, a single-directory override, and a
// post-selection filter.
package selection

import (
	"log/slog"
	"sort"
	"strings"

	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/gitops"
	"github.com/tylerbutler/hoist/internal/glob"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/project"
)

// PackageSelectionCriteria names what to build. Pattern lists use glob
// semantics against workspace and release-group names.
type PackageSelectionCriteria struct {
	Workspaces        []string
	WorkspaceRoots    []string
	ReleaseGroups     []string
	ReleaseGroupRoots []string

	// Directory restricts the build to the single package rooted at this
	// directory. When set, every other criterion is ignored.
	Directory string

	// ChangedSinceBranch adds every package with changes relative to the
	// given ref on the configured upstream remote.
	ChangedSinceBranch string
}

// Empty reports whether no criterion was given at all.
func (c PackageSelectionCriteria) Empty() bool {
	return len(c.Workspaces) == 0 && len(c.WorkspaceRoots) == 0 &&
		len(c.ReleaseGroups) == 0 && len(c.ReleaseGroupRoots) == 0 &&
		c.Directory == "" && c.ChangedSinceBranch == ""
}

// PackageFilter prunes a selected set. Scope entries are package-name
// prefixes ("@foo" keeps "@foo/a"); SkipScope entries exclude.
type PackageFilter struct {
	// Private: nil keeps both, true keeps only private packages, false keeps
	// only public ones.
	Private   *bool
	Scope     []string
	SkipScope []string
}

// SelectPackages resolves criteria against the project. The result is sorted
// by package name and free of duplicates.
func SelectPackages(p *project.BuildProject, criteria PackageSelectionCriteria) ([]*project.Package, error) {
	// A directory constraint short-circuits everything else: build exactly
	// the one package the directory belongs to.
	if criteria.Directory != "" {
		pkg, ok := p.PackageByDirectory(criteria.Directory)
		if !ok {
			return nil, hoisterr.DirectoryNotInProject(criteria.Directory)
		}
		return []*project.Package{pkg}, nil
	}

	selected := make(map[string]*project.Package)

	if criteria.ChangedSinceBranch != "" {
		changed, err := changedPackages(p, criteria.ChangedSinceBranch)
		if err != nil {
			return nil, err
		}
		for _, pkg := range changed {
			selected[pkg.Name] = pkg
		}
	}

	for wsName, ws := range p.Workspaces {
		if glob.MatchAny(criteria.Workspaces, wsName) {
			for _, pkg := range ws.Packages {
				if !pkg.IsWorkspaceRoot {
					selected[pkg.Name] = pkg
				}
			}
		}
		if glob.MatchAny(criteria.WorkspaceRoots, wsName) {
			for _, pkg := range ws.Packages {
				if pkg.IsWorkspaceRoot {
					selected[pkg.Name] = pkg
				}
			}
		}
	}

	for rgName, rg := range p.ReleaseGroups() {
		if glob.MatchAny(criteria.ReleaseGroups, rgName) {
			for _, pkg := range rg.Packages {
				if !pkg.IsReleaseGroupRoot {
					selected[pkg.Name] = pkg
				}
			}
		}
		if glob.MatchAny(criteria.ReleaseGroupRoots, rgName) {
			for _, pkg := range rg.RootPackages() {
				selected[pkg.Name] = pkg
			}
		}
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)

	pkgs := make([]*project.Package, 0, len(names))
	for _, name := range names {
		pkgs = append(pkgs, selected[name])
	}
	slog.Debug("Packages selected", logfields.Count(len(pkgs)))
	return pkgs, nil
}

// changedPackages resolves the upstream remote by partial URL match and maps
// the files changed since ref onto packages. The changed-since criterion
// requires a git repository; anything short of that is fatal here.
func changedPackages(p *project.BuildProject, ref string) ([]*project.Package, error) {
	client, err := gitops.Open(p.RootPath)
	if err != nil {
		return nil, err
	}

	remote := "origin"
	if p.Config.Upstream != "" {
		remote, err = client.ResolveRemote(p.Config.Upstream)
		if err != nil {
			return nil, err
		}
	}
	return client.ChangedSincePackages(p, ref, remote)
}

// FilterPackages applies the filter to an already-selected set.
func FilterPackages(pkgs []*project.Package, filter PackageFilter) []*project.Package {
	out := make([]*project.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if filter.Private != nil && pkg.Private() != *filter.Private {
			continue
		}
		if len(filter.Scope) > 0 && !inScope(pkg.Name, filter.Scope) {
			continue
		}
		if inScope(pkg.Name, filter.SkipScope) {
			continue
		}
		out = append(out, pkg)
	}
	return out
}

func inScope(name string, scopes []string) bool {
	for _, scope := range scopes {
		if strings.HasPrefix(name, scope) {
			return true
		}
	}
	return false
}
