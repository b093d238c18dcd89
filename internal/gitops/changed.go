package gitops

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/tylerbutler/hoist/internal/project"
)

// ChangedSincePackages maps the files changed since ref to the project
// packages containing them. Files outside any package directory are ignored.
func (c *Client) ChangedSincePackages(p *project.BuildProject, ref, remote string) ([]*project.Package, error) {
	files, err := c.ChangedFiles(ref, remote)
	if err != nil {
		return nil, err
	}

	// Longest-directory-first so a nested package claims its own files ahead
	// of an enclosing workspace root.
	pkgs := make([]*project.Package, 0, len(p.Packages()))
	for _, pkg := range p.Packages() {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return len(pkgs[i].Directory) > len(pkgs[j].Directory)
	})

	seen := make(map[string]*project.Package)
	for _, file := range files {
		abs := filepath.Join(c.root, filepath.FromSlash(file))
		for _, pkg := range pkgs {
			if abs == pkg.Directory || strings.HasPrefix(abs, pkg.Directory+string(filepath.Separator)) {
				seen[pkg.Name] = pkg
				break
			}
		}
	}

	changed := make([]*project.Package, 0, len(seen))
	for _, pkg := range seen {
		changed = append(changed, pkg)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].Name < changed[j].Name })
	return changed, nil
}
