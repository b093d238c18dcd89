package project

import "sort"

// DependencyClosure is the result of walking cross-release-group dependencies
// from a starting package set.
type DependencyClosure struct {
	Packages      []*Package
	ReleaseGroups []*ReleaseGroup
	Workspaces    []*Workspace
}

// AllDependencies computes the dependency closure for the given packages.
// Packages in the same release groups as the starting set are left out of the
// result: co-members build together, so only what lies beyond the groups
// already being built matters. Their edges are still traversed, since a
// co-member can be the only path to a cross-group dependency.
func AllDependencies(p *BuildProject, pkgs []*Package) (*DependencyClosure, error) {
	startGroups := make(map[string]struct{})
	for _, pkg := range pkgs {
		if pkg.ReleaseGroupName != "" {
			startGroups[pkg.ReleaseGroupName] = struct{}{}
		}
	}

	seenPkgs := make(map[string]*Package)
	seenGroups := make(map[string]*ReleaseGroup)
	seenWorkspaces := make(map[string]*Workspace)

	queue := append([]*Package(nil), pkgs...)
	visited := make(map[string]struct{}, len(pkgs))
	for _, pkg := range pkgs {
		visited[pkg.Name] = struct{}{}
	}

	for len(queue) > 0 {
		src := queue[0]
		queue = queue[1:]

		for _, depName := range src.DependencyNames() {
			dep, ok := p.PackageByName(depName)
			if !ok {
				continue // external dependency
			}
			_, coMember := startGroups[dep.ReleaseGroupName]
			if dep.ReleaseGroupName != "" && coMember {
				// Builds with the starting set already; traverse only.
				if _, ok := visited[dep.Name]; !ok {
					visited[dep.Name] = struct{}{}
					queue = append(queue, dep)
				}
				continue
			}
			if _, ok := seenPkgs[dep.Name]; !ok {
				seenPkgs[dep.Name] = dep
				if dep.ReleaseGroupName != "" {
					rg, err := p.PackageReleaseGroup(dep)
					if err != nil {
						return nil, err
					}
					seenGroups[rg.Name] = rg
				}
				if dep.Workspace != nil {
					seenWorkspaces[dep.Workspace.Name] = dep.Workspace
				}
			}
			if _, ok := visited[dep.Name]; !ok {
				visited[dep.Name] = struct{}{}
				queue = append(queue, dep)
			}
		}
	}

	closure := &DependencyClosure{}
	for _, pkg := range seenPkgs {
		closure.Packages = append(closure.Packages, pkg)
	}
	for _, rg := range seenGroups {
		closure.ReleaseGroups = append(closure.ReleaseGroups, rg)
	}
	for _, ws := range seenWorkspaces {
		closure.Workspaces = append(closure.Workspaces, ws)
	}
	sort.Slice(closure.Packages, func(i, j int) bool { return closure.Packages[i].Name < closure.Packages[j].Name })
	sort.Slice(closure.ReleaseGroups, func(i, j int) bool { return closure.ReleaseGroups[i].Name < closure.ReleaseGroups[j].Name })
	sort.Slice(closure.Workspaces, func(i, j int) bool { return closure.Workspaces[i].Name < closure.Workspaces[j].Name })
	return closure, nil
}
