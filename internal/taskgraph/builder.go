package taskgraph

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tylerbutler/hoist/internal/cache"
	"github.com/tylerbutler/hoist/internal/config"
	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/glob"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/version"
)

// Graph is a fully wired task DAG ready to execute.
type Graph struct {
	Root   *GroupTask
	leaves map[*LeafTask]struct{}
}

// Leaves returns every leaf task in the graph, in name order.
func (g *Graph) Leaves() []*LeafTask {
	leaves := leafSetSlice(g.leaves)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].FullName() < leaves[j].FullName() })
	return leaves
}

// LeafCount is the number of distinct leaf tasks the graph will consider.
func (g *Graph) LeafCount() int { return len(g.leaves) }

// Builder constructs task graphs against one loaded project. Tasks are
// created at most once per package and task name; a second reference to the
// same task shares the node.
type Builder struct {
	project  *project.BuildProject
	registry *Registry
	cache    *cache.Manager

	tasks    map[string]Task
	building map[string]bool
}

// NewBuilder creates a builder. A nil cache manager disables caching for
// every task in the graph.
func NewBuilder(p *project.BuildProject, registry *Registry, mgr *cache.Manager) *Builder {
	return &Builder{
		project:  p,
		registry: registry,
		cache:    mgr,
		tasks:    make(map[string]Task),
		building: make(map[string]bool),
	}
}

// Build creates the graph for the given task names across the selected
// packages. Packages that define none of the requested tasks are left out.
func (b *Builder) Build(pkgs []*project.Package, taskNames []string) (*Graph, error) {
	var roots []Task
	for _, pkg := range pkgs {
		for _, name := range taskNames {
			task, ok, err := b.createTask(pkg, name)
			if err != nil {
				return nil, err
			}
			if ok {
				roots = append(roots, task)
			}
		}
	}

	rootPkg := &project.Package{Name: "*", Directory: b.project.RootPath}
	root := NewGroupTask(rootPkg, strings.Join(taskNames, ","), roots, false)
	root.InitializeDependentLeafTasks()
	for _, task := range b.tasks {
		task.InitializeDependentLeafTasks()
	}

	leaves := make(map[*LeafTask]struct{})
	root.CollectLeafTasks(leaves)
	for _, task := range b.tasks {
		task.CollectLeafTasks(leaves)
	}

	slog.Debug("Task graph built",
		logfields.Count(len(leaves)), logfields.Command(strings.Join(taskNames, ",")))
	return &Graph{Root: root, leaves: leaves}, nil
}

// createTask returns the task for pkg#name, building it on first reference.
// ok is false when the package does not define the task. A task referenced
// while still under construction is a dependency cycle.
func (b *Builder) createTask(pkg *project.Package, name string) (task Task, ok bool, err error) {
	key := pkg.Name + "#" + name
	if t, found := b.tasks[key]; found {
		return t, true, nil
	}
	if b.building[key] {
		return nil, false, hoisterr.DependencyCycle(key)
	}
	b.building[key] = true
	defer delete(b.building, key)

	def, defined := b.project.Config.Tasks[name]
	switch {
	case defined && def.IsGroup():
		task, err = b.createGroup(pkg, name, def)
	case defined:
		task, err = b.createLeaf(pkg, name, def)
	default:
		// No definition: the task is the package's own script of that name.
		script, has := pkg.Script(name)
		if !has {
			return nil, false, nil
		}
		task, err = b.createLeaf(pkg, name, config.TaskDefinition{Handler: "shell", Script: script})
	}
	if err != nil {
		return nil, false, err
	}
	if task == nil {
		return nil, false, nil
	}

	if deps, derr := b.resolveRefs(pkg, b.project.Config.Defaults.DependsOn); derr != nil {
		return nil, false, derr
	} else if len(deps) > 0 {
		task.AddDependentTasks(deps, true)
	}
	if deps, derr := b.resolveRefs(pkg, def.DependsOn); derr != nil {
		return nil, false, derr
	} else if len(deps) > 0 {
		task.AddDependentTasks(deps, false)
	}

	b.tasks[key] = task
	return task, true, nil
}

func (b *Builder) createGroup(pkg *project.Package, name string, def config.TaskDefinition) (Task, error) {
	var subtasks []Task
	for _, child := range def.Children {
		sub, ok, err := b.createTask(pkg, child)
		if err != nil {
			return nil, err
		}
		if ok {
			subtasks = append(subtasks, sub)
		}
	}
	if len(subtasks) == 0 {
		return nil, nil
	}
	return NewGroupTask(pkg, name, subtasks, def.Sequential), nil
}

// createLeaf builds a leaf task, or a sequential group of unnamed step
// leaves when the script chains commands with "&&".
func (b *Builder) createLeaf(pkg *project.Package, name string, def config.TaskDefinition) (Task, error) {
	script := def.Script
	if script == "" {
		s, has := pkg.Script(name)
		if !has {
			return nil, nil
		}
		script = s
	}

	handlerName := def.Handler
	if handlerName == "" {
		handlerName = "shell"
	}
	handler, err := b.registry.Resolve(handlerName)
	if err != nil {
		return nil, err
	}

	steps := splitScript(script)
	if len(steps) == 1 {
		cfg := LeafConfig{
			Handler: handler,
			Script:  script,
			Outputs: def.Outputs,
			Weight:  def.Weight,
			Cache:   b.cache,
		}
		if len(def.Outputs) > 0 {
			inputGlobs := def.Inputs
			var excludes []string
			if len(inputGlobs) == 0 {
				// No declared inputs: key on every source file so edits
				// still invalidate the entry. The outputs are excluded or
				// the freshly written files would shift the key between
				// runs.
				inputGlobs = []string{"**"}
				excludes = def.Outputs
			}
			cfg.Inputs = b.inputsFunc(pkg, inputGlobs, excludes, script)
		}
		return NewLeafTask(pkg, name, script, cfg), nil
	}

	// Chained scripts become an ordered group of unnamed step leaves. Steps
	// are not cached individually; the chain is cheap relative to re-keying
	// each fragment.
	subtasks := make([]Task, 0, len(steps))
	for _, step := range steps {
		leaf := NewLeafTask(pkg, "", step, LeafConfig{
			Handler: handler,
			Script:  step,
			Weight:  def.Weight,
		})
		subtasks = append(subtasks, leaf)
	}
	return NewGroupTask(pkg, name, subtasks, true), nil
}

// resolveRefs expands dependency references into tasks:
//
//	^name      the same-named task in every project package this one depends on
//	name       another task in the same package
//	pkg#name   a specific package's task
//
// References to tasks a package does not define resolve to nothing.
func (b *Builder) resolveRefs(pkg *project.Package, refs []string) ([]Task, error) {
	var deps []Task
	for _, ref := range refs {
		switch {
		case strings.HasPrefix(ref, "^"):
			name := strings.TrimPrefix(ref, "^")
			for _, depName := range pkg.DependencyNames() {
				depPkg, found := b.project.PackageByName(depName)
				if !found {
					continue // external dependency
				}
				task, ok, err := b.createTask(depPkg, name)
				if err != nil {
					return nil, err
				}
				if ok {
					deps = append(deps, task)
				}
			}
		case strings.Contains(ref, "#"):
			pkgName, taskName, _ := strings.Cut(ref, "#")
			depPkg, found := b.project.PackageByName(pkgName)
			if !found {
				return nil, hoisterr.UnknownDependencyPackage(ref)
			}
			task, ok, err := b.createTask(depPkg, taskName)
			if err != nil {
				return nil, err
			}
			if ok {
				deps = append(deps, task)
			}
		default:
			task, ok, err := b.createTask(pkg, ref)
			if err != nil {
				return nil, err
			}
			if ok {
				deps = append(deps, task)
			}
		}
	}
	return deps, nil
}

// inputsFunc captures everything the cache key depends on: the command line,
// the hashed input files, the in-project dependency versions, and the tool
// version itself.
func (b *Builder) inputsFunc(pkg *project.Package, inputGlobs, excludeGlobs []string, script string) InputsFunc {
	return func(ctx context.Context) (cache.KeyInputs, error) {
		files, err := hashInputFiles(pkg.Directory, inputGlobs, excludeGlobs)
		if err != nil {
			return cache.KeyInputs{}, err
		}

		depVersions := make(map[string]string)
		for _, depName := range pkg.DependencyNames() {
			if dep, found := b.project.PackageByName(depName); found {
				depVersions[depName] = dep.Version()
			}
		}

		return cache.KeyInputs{
			Command:     script,
			Files:       files,
			DepVersions: depVersions,
			ToolVersion: version.Version,
		}, nil
	}
}

func hashInputFiles(dir string, globs, excludes []string) ([]cache.FileHash, error) {
	var files []cache.FileHash
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || (strings.HasPrefix(d.Name(), ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !glob.MatchAny(globs, rel) || glob.MatchAny(excludes, rel) {
			return nil
		}
		hash, err := cache.HashFile(path)
		if err != nil {
			return err
		}
		files = append(files, cache.FileHash{Path: rel, Hash: hash})
		return nil
	})
	return files, err
}

// splitScript breaks "a && b && c" into its sequential steps.
func splitScript(script string) []string {
	parts := strings.Split(script, "&&")
	steps := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return []string{script}
	}
	return steps
}
