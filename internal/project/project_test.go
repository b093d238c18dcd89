package project

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree lays out a test repository under a temp dir.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func manifest(name, version string, deps map[string]string) string {
	m := fmt.Sprintf("{\n  \"name\": %q,\n  \"version\": %q", name, version)
	if len(deps) > 0 {
		m += ",\n  \"dependencies\": {"
		first := true
		for k, v := range deps {
			if !first {
				m += ","
			}
			first = false
			m += fmt.Sprintf("\n    %q: %q", k, v)
		}
		m += "\n  }"
	}
	return m + "\n}\n"
}

const twoGroupConfig = `
workspaces:
  main:
    directory: .
    releaseGroups:
      client:
        include: ["packages/**"]
        rootPackage: "@demo/client-root"
      tools:
        include: ["tools/**"]
`

func loadFixtureProject(t *testing.T) *BuildProject {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"hoist.yaml":                        twoGroupConfig,
		"package.json":                      manifest("@demo/root", "0.0.1", nil),
		"pnpm-lock.yaml":                    "lockfileVersion: 9\n",
		"packages/client-root/package.json": manifest("@demo/client-root", "1.0.0", nil),
		"packages/app/package.json":         manifest("@demo/app", "1.0.0", map[string]string{"@demo/lib": "1.0.0", "@demo/cli": "2.0.0"}),
		"packages/lib/package.json":         manifest("@demo/lib", "1.0.0", nil),
		"tools/cli/package.json":            manifest("@demo/cli", "2.0.0", map[string]string{"@demo/gen": "2.0.0"}),
		"tools/gen/package.json":            manifest("@demo/gen", "2.0.0", nil),
	})

	p, err := LoadBuildProject(root)
	require.NoError(t, err)
	return p
}

func TestLoadBuildProject(t *testing.T) {
	p := loadFixtureProject(t)

	require.Len(t, p.Workspaces, 1)
	ws := p.Workspaces["main"]
	require.NotNil(t, ws)
	assert.Equal(t, "pnpm", ws.PackageManager.Name)
	assert.Len(t, ws.Packages, 6)

	rgs := p.ReleaseGroups()
	require.Contains(t, rgs, "client")
	require.Contains(t, rgs, "tools")
	assert.Len(t, rgs["client"].Packages, 3)
	assert.Len(t, rgs["tools"].Packages, 2)
	assert.Equal(t, "1.0.0", rgs["client"].Version)

	root, ok := p.PackageByName("@demo/client-root")
	require.True(t, ok)
	assert.True(t, root.IsReleaseGroupRoot)
	assert.Same(t, root, rgs["client"].RootPackage)

	wsRoot, ok := p.PackageByName("@demo/root")
	require.True(t, ok)
	assert.True(t, wsRoot.IsWorkspaceRoot)
	assert.Empty(t, wsRoot.ReleaseGroupName)
}

func TestPackageReleaseGroup(t *testing.T) {
	p := loadFixtureProject(t)

	app, _ := p.PackageByName("@demo/app")
	rg, err := p.PackageReleaseGroup(app)
	require.NoError(t, err)
	assert.Equal(t, "client", rg.Name)

	wsRoot, _ := p.PackageByName("@demo/root")
	_, err = p.PackageReleaseGroup(wsRoot)
	require.Error(t, err)

	// A declared but unresolvable group is a config error.
	app.ReleaseGroupName = "ghost"
	_, err = p.PackageReleaseGroup(app)
	require.Error(t, err)
}

func TestDuplicateReleaseGroupIsFatal(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"hoist.yaml": `
workspaces:
  a:
    directory: wa
    releaseGroups:
      shared:
        include: ["**"]
  b:
    directory: wb
    releaseGroups:
      shared:
        include: ["**"]
`,
		"wa/p1/package.json": manifest("@demo/p1", "1.0.0", nil),
		"wb/p2/package.json": manifest("@demo/p2", "1.0.0", nil),
	})

	_, err := LoadBuildProject(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release group")
}

func TestAllDependenciesCrossGroupOnly(t *testing.T) {
	p := loadFixtureProject(t)

	app, _ := p.PackageByName("@demo/app")
	closure, err := AllDependencies(p, []*Package{app})
	require.NoError(t, err)

	// @demo/lib is in the same release group as @demo/app and must be excluded.
	// @demo/cli crosses into the tools group, pulling @demo/gen transitively.
	names := make([]string, 0, len(closure.Packages))
	for _, pkg := range closure.Packages {
		names = append(names, pkg.Name)
	}
	assert.Equal(t, []string{"@demo/cli", "@demo/gen"}, names)

	require.Len(t, closure.ReleaseGroups, 1)
	assert.Equal(t, "tools", closure.ReleaseGroups[0].Name)
	require.Len(t, closure.Workspaces, 1)
}

func TestPackageByDirectory(t *testing.T) {
	p := loadFixtureProject(t)
	lib, _ := p.PackageByName("@demo/lib")

	got, ok := p.PackageByDirectory(lib.Directory)
	require.True(t, ok)
	assert.Same(t, lib, got)

	_, ok = p.PackageByDirectory(filepath.Join(p.RootPath, "nonexistent"))
	assert.False(t, ok)
}

func TestReloadPicksUpNewPackages(t *testing.T) {
	p := loadFixtureProject(t)
	ws := p.Workspaces["main"]
	before := len(ws.Packages)

	writeTree(t, p.RootPath, map[string]string{
		"packages/extra/package.json": manifest("@demo/extra", "1.0.0", nil),
	})
	require.NoError(t, p.Reload())

	// Same Workspace identity, refreshed collections.
	assert.Same(t, ws, p.Workspaces["main"])
	assert.Len(t, ws.Packages, before+1)
	_, ok := p.PackageByName("@demo/extra")
	assert.True(t, ok)

	extra, _ := p.PackageByName("@demo/extra")
	assert.Equal(t, "client", extra.ReleaseGroupName)
}

func TestLoadInfersWorkspaceFromLockfile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"yarn.lock":               "# yarn lockfile v1\n",
		"package.json":            manifest("@demo/solo-root", "1.0.0", nil),
		"packages/a/package.json": manifest("@demo/a", "1.0.0", nil),
	})

	p, err := LoadBuildProject(filepath.Join(root, "packages", "a"))
	require.NoError(t, err)
	require.Len(t, p.Workspaces, 1)
	assert.Equal(t, "yarn", p.Workspaces["main"].PackageManager.Name)
	_, ok := p.PackageByName("@demo/a")
	assert.True(t, ok)
}

func TestLoadBuildProjectFileCustomName(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"custom.yaml":                       twoGroupConfig,
		"packages/client-root/package.json": manifest("@demo/client-root", "1.0.0", nil),
		"packages/app/package.json":         manifest("@demo/app", "1.0.0", nil),
		"tools/cli/package.json":            manifest("@demo/cli", "2.0.0", nil),
	})

	p, err := LoadBuildProjectFile(filepath.Join(root, "custom.yaml"))
	require.NoError(t, err)
	assert.Equal(t, root, p.RootPath)
	_, ok := p.PackageByName("@demo/app")
	assert.True(t, ok)
}

func TestLoadFailsWithoutWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadBuildProject(dir)
	require.Error(t, err)
}

func TestManifestWorkspacesForms(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"package.json": `{"name": "@demo/ws", "version": "1.0.0", "workspaces": {"packages": ["packages/*"]}}`,
	})
	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, workspaceGlobs{"packages/*"}, m.Workspaces)

	writeTree(t, dir, map[string]string{
		"package.json": `{"name": "@demo/ws", "version": "1.0.0", "workspaces": ["packages/*"]}`,
	})
	m, err = LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, workspaceGlobs{"packages/*"}, m.Workspaces)
}

func TestDependencyNamesCombinesKinds(t *testing.T) {
	m := &PackageManifest{
		Dependencies:     map[string]string{"b": "1", "a": "1"},
		DevDependencies:  map[string]string{"c": "1", "a": "1"},
		PeerDependencies: map[string]string{"d": "1"},
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, m.DependencyNames())
}
