package project

import (
	"os"
	"path/filepath"
)

// PackageManager describes the package-manager shim for a workspace: lockfile
// names and the commands used to discover workspace roots and installed
// versions. Hoist never parses lockfiles; it only uses their presence.
type PackageManager struct {
	Name           string
	Lockfiles      []string
	InstallCommand string
	ListCommand    string
}

var packageManagers = []*PackageManager{
	{
		Name:           "pnpm",
		Lockfiles:      []string{"pnpm-lock.yaml"},
		InstallCommand: "pnpm install",
		ListCommand:    "pnpm -r list --depth=-1 --json",
	},
	{
		Name:           "yarn",
		Lockfiles:      []string{"yarn.lock"},
		InstallCommand: "yarn install",
		ListCommand:    "yarn workspaces info",
	},
	{
		Name:           "npm",
		Lockfiles:      []string{"package-lock.json"},
		InstallCommand: "npm install",
		ListCommand:    "npm query .workspace",
	},
}

// DetectPackageManager inspects dir for a known lockfile.
func DetectPackageManager(dir string) (*PackageManager, bool) {
	for _, pm := range packageManagers {
		for _, lock := range pm.Lockfiles {
			if _, err := os.Stat(filepath.Join(dir, lock)); err == nil {
				return pm, true
			}
		}
	}
	return nil, false
}

// FindLockfileRoot walks upward from searchDir looking for a directory
// containing a known lockfile. Used to infer a workspace when no config file
// exists.
func FindLockfileRoot(searchDir string) (dir string, pm *PackageManager, ok bool) {
	d, err := filepath.Abs(searchDir)
	if err != nil {
		return "", nil, false
	}
	for {
		if pm, found := DetectPackageManager(d); found {
			return d, pm, true
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", nil, false
		}
		d = parent
	}
}
