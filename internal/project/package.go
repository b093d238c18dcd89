// Package project models the repository topology: packages grouped into
// release groups, release groups grouped into workspaces, workspaces grouped
// into a build project. The model is loaded once per build and reloaded on
// demand.
package project

// Package is one member of a workspace, identified by its scoped name.
type Package struct {
	// Name is the unique scoped package name (e.g. "@scope/pkg").
	Name string

	// Directory is the absolute path to the package root.
	Directory string

	// Manifest is the parsed package.json. Manifest identity data is treated
	// as immutable after load; dependency maps remain mutable owned
	// collections for tooling scenarios.
	Manifest *PackageManifest

	// Workspace is the owning workspace. Every package belongs to exactly one.
	Workspace *Workspace

	// ReleaseGroupName is the release group this package belongs to, or empty.
	ReleaseGroupName string

	IsWorkspaceRoot    bool
	IsReleaseGroupRoot bool
}

// Private reports whether the package manifest is marked private.
func (p *Package) Private() bool {
	return p.Manifest != nil && p.Manifest.Private
}

// Version returns the manifest version, or empty when unknown.
func (p *Package) Version() string {
	if p.Manifest == nil {
		return ""
	}
	return p.Manifest.Version
}

// Script returns the named manifest script and whether it exists.
func (p *Package) Script(name string) (string, bool) {
	if p.Manifest == nil {
		return "", false
	}
	s, ok := p.Manifest.Scripts[name]
	return s, ok
}

// DependencyNames returns the combined dependency names across all kinds.
func (p *Package) DependencyNames() []string {
	if p.Manifest == nil {
		return nil
	}
	return p.Manifest.DependencyNames()
}
