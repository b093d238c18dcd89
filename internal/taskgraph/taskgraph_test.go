package taskgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylerbutler/hoist/internal/cache"
	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/scheduler"
)

func writeFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

const fixtureWorkspace = `
workspaces:
  main:
    directory: .
    releaseGroups:
      main:
        include: ["**"]
`

// recordingHandler records every invocation in call order and fails the
// packages listed in fail.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (h *recordingHandler) Run(_ context.Context, req *Request) (*Response, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req.Package.Name+"#"+req.Command)
	h.mu.Unlock()
	if h.fail[req.Package.Name] {
		return &Response{Result: Failed}, nil
	}
	return &Response{Result: Success}, nil
}

func (h *recordingHandler) callIndex(call string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func loadFixture(t *testing.T, files map[string]string) *project.BuildProject {
	t.Helper()
	root := writeFixture(t, files)
	p, err := project.LoadBuildProject(root)
	require.NoError(t, err)
	return p
}

func probeRegistry(h Handler) *Registry {
	r := NewRegistry()
	r.Register("probe", h)
	return r
}

func TestBuildOrdersDeclaredDependencies(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: probe
    dependsOn: ["^compile"]
`,
		"pkgs/lib/package.json": `{"name":"lib","version":"1.0.0","scripts":{"compile":"build-lib"}}`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0","dependencies":{"lib":"^1.0.0"},"scripts":{"compile":"build-app"}}`,
	})

	h := &recordingHandler{}
	builder := NewBuilder(p, probeRegistry(h), nil)
	app, ok := p.PackageByName("app")
	require.True(t, ok)
	lib, ok := p.PackageByName("lib")
	require.True(t, ok)

	graph, err := builder.Build([]*project.Package{app, lib}, []string{"compile"})
	require.NoError(t, err)
	assert.Equal(t, 2, graph.LeafCount())

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Success, res)

	libIdx := h.callIndex("lib#build-lib")
	appIdx := h.callIndex("app#build-app")
	require.NotEqual(t, -1, libIdx)
	require.NotEqual(t, -1, appIdx)
	assert.Less(t, libIdx, appIdx, "dependency must complete before dependent")
}

func TestDependencyTaskRunsOnce(t *testing.T) {
	// Diamond: app and cli both depend on lib; lib's task must run once.
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: probe
    dependsOn: ["^compile"]
`,
		"pkgs/lib/package.json": `{"name":"lib","version":"1.0.0","scripts":{"compile":"build-lib"}}`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0","dependencies":{"lib":"^1.0.0"},"scripts":{"compile":"build-app"}}`,
		"pkgs/cli/package.json": `{"name":"cli","version":"1.0.0","dependencies":{"lib":"^1.0.0"},"scripts":{"compile":"build-cli"}}`,
	})

	h := &recordingHandler{}
	builder := NewBuilder(p, probeRegistry(h), nil)
	var pkgs []*project.Package
	for _, name := range []string{"app", "cli", "lib"} {
		pkg, ok := p.PackageByName(name)
		require.True(t, ok)
		pkgs = append(pkgs, pkg)
	}

	graph, err := builder.Build(pkgs, []string{"compile"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Success, res)
	assert.Len(t, h.calls, 3, "each leaf exactly once, even with two parents")
}

func TestDependencyCycleIsFatal(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  a:
    handler: probe
    script: run-a
    dependsOn: ["b"]
  b:
    handler: probe
    script: run-b
    dependsOn: ["a"]
`,
		"pkgs/lib/package.json": `{"name":"lib","version":"1.0.0"}`,
	})

	builder := NewBuilder(p, probeRegistry(&recordingHandler{}), nil)
	lib, ok := p.PackageByName("lib")
	require.True(t, ok)

	_, err := builder.Build([]*project.Package{lib}, []string{"a"})
	require.Error(t, err)
	assert.True(t, hoisterr.IsCategory(err, hoisterr.CategoryConfig))
}

func TestDependencyFailureSkipsDependents(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: probe
    dependsOn: ["^compile"]
`,
		"pkgs/lib/package.json": `{"name":"lib","version":"1.0.0","scripts":{"compile":"build-lib"}}`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0","dependencies":{"lib":"^1.0.0"},"scripts":{"compile":"build-app"}}`,
	})

	h := &recordingHandler{fail: map[string]bool{"lib": true}}
	builder := NewBuilder(p, probeRegistry(h), nil)
	app, _ := p.PackageByName("app")
	lib, _ := p.PackageByName("lib")

	graph, err := builder.Build([]*project.Package{app, lib}, []string{"compile"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Failed, res)
	assert.Equal(t, -1, h.callIndex("app#build-app"), "dependent of a failed task must not run")

	for _, leaf := range graph.Leaves() {
		if leaf.Package().Name == "app" {
			assert.Equal(t, StatusSkipped, leaf.Execution().Status)
			assert.Equal(t, Failed, leaf.Execution().Result)
		}
	}
}

func TestHandlerErrorDoesNotAbortSiblings(t *testing.T) {
	// A handler error is a failed task, not a failed orchestration:
	// independent siblings must run to completion and the build must still
	// produce a result.
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: probe
`,
		"pkgs/bad/package.json":  `{"name":"bad","version":"1.0.0","scripts":{"compile":"build-bad"}}`,
		"pkgs/slow/package.json": `{"name":"slow","version":"1.0.0","scripts":{"compile":"build-slow"}}`,
	})

	var mu sync.Mutex
	var completed []string
	h := HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Package.Name == "bad" {
			return nil, errors.New("spawn failed")
		}
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		mu.Lock()
		completed = append(completed, req.Package.Name)
		mu.Unlock()
		return &Response{Result: Success}, nil
	})

	bad, _ := p.PackageByName("bad")
	slow, _ := p.PackageByName("slow")
	graph, err := NewBuilder(p, probeRegistry(h), nil).Build([]*project.Package{bad, slow}, []string{"compile"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err, "a handler error must not surface as an orchestration error")
	assert.Equal(t, Failed, res)
	assert.Contains(t, completed, "slow", "sibling of the erroring task must finish")

	for _, leaf := range graph.Leaves() {
		if leaf.Package().Name == "bad" {
			exec := leaf.Execution()
			assert.Equal(t, Failed, exec.Result)
			assert.EqualError(t, exec.Err, "spawn failed")
		}
	}
}

func TestSequentialGroupRepeatedChildRunsOnce(t *testing.T) {
	// The same child listed in two steps is one shared node; it must not end
	// up ordered after itself.
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  step:
    handler: probe
    script: run-step
  ci:
    children: ["step", "step"]
    sequential: true
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0"}`,
	})

	h := &recordingHandler{}
	app, _ := p.PackageByName("app")
	graph, err := NewBuilder(p, probeRegistry(h), nil).Build([]*project.Package{app}, []string{"ci"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := graph.Root.Run(ctx, scheduler.NewQueue(4))
	require.NoError(t, err, "repeated child must not stall the build")
	assert.Equal(t, Success, res)
	assert.Equal(t, []string{"app#run-step"}, h.calls)
}

func TestDependentWaitsForAllStartedDependencies(t *testing.T) {
	// With one fast-failing and one slow dependency, the dependent is
	// skipped but still waits for the slow one, so every started task has a
	// settled record when the build returns.
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  bad:
    handler: probe
    script: run-bad
  slow:
    handler: probe
    script: run-slow
  compile:
    handler: probe
    script: run-compile
    dependsOn: ["bad", "slow"]
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0"}`,
	})

	h := HandlerFunc(func(_ context.Context, req *Request) (*Response, error) {
		switch req.Command {
		case "run-bad":
			return &Response{Result: Failed}, nil
		case "run-slow":
			time.Sleep(50 * time.Millisecond)
		}
		return &Response{Result: Success}, nil
	})

	app, _ := p.PackageByName("app")
	graph, err := NewBuilder(p, probeRegistry(h), nil).Build([]*project.Package{app}, []string{"compile"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Failed, res)

	byName := make(map[string]Execution)
	for _, leaf := range graph.Leaves() {
		byName[leaf.TaskName()] = leaf.Execution()
	}
	assert.Equal(t, StatusSkipped, byName["compile"].Status)
	assert.Equal(t, StatusRan, byName["slow"].Status, "started dependency must be drained, not abandoned")
	assert.Equal(t, Success, byName["slow"].Result)
}

func TestChainedScriptRunsStepsInOrder(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  build:
    handler: probe
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0","scripts":{"build":"step-one && step-two && step-three"}}`,
	})

	h := &recordingHandler{}
	builder := NewBuilder(p, probeRegistry(h), nil)
	app, _ := p.PackageByName("app")

	graph, err := builder.Build([]*project.Package{app}, []string{"build"})
	require.NoError(t, err)
	assert.Equal(t, 3, graph.LeafCount())

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(8))
	require.NoError(t, err)
	assert.Equal(t, Success, res)

	one := h.callIndex("app#step-one")
	two := h.callIndex("app#step-two")
	three := h.callIndex("app#step-three")
	assert.True(t, one < two && two < three, "steps of a chained script run in order, got %v", h.calls)
}

func TestDefaultDependsOnAppliesAcrossPackages(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
defaults:
  dependsOn: ["^build"]
tasks:
  build:
    handler: probe
`,
		"pkgs/lib/package.json": `{"name":"lib","version":"1.0.0","scripts":{"build":"build-lib"}}`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0","dependencies":{"lib":"^1.0.0"},"scripts":{"build":"lint-app && build-app"}}`,
	})

	h := &recordingHandler{}
	builder := NewBuilder(p, probeRegistry(h), nil)
	app, _ := p.PackageByName("app")
	lib, _ := p.PackageByName("lib")

	graph, err := builder.Build([]*project.Package{app, lib}, []string{"build"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Success, res)

	libIdx := h.callIndex("lib#build-lib")
	require.NotEqual(t, -1, libIdx)
	for _, step := range []string{"app#lint-app", "app#build-app"} {
		idx := h.callIndex(step)
		require.NotEqual(t, -1, idx)
		assert.Less(t, libIdx, idx, "default dependency must order %s after lib", step)
	}
}

func TestGroupAggregatesWorstResult(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: probe
`,
		"pkgs/good/package.json": `{"name":"good","version":"1.0.0","scripts":{"compile":"build-good"}}`,
		"pkgs/bad/package.json":  `{"name":"bad","version":"1.0.0","scripts":{"compile":"build-bad"}}`,
	})

	h := &recordingHandler{fail: map[string]bool{"bad": true}}
	builder := NewBuilder(p, probeRegistry(h), nil)
	good, _ := p.PackageByName("good")
	bad, _ := p.PackageByName("bad")

	graph, err := builder.Build([]*project.Package{good, bad}, []string{"compile"})
	require.NoError(t, err)

	res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(4))
	require.NoError(t, err)
	assert.Equal(t, Failed, res, "one failure makes the whole build failed")
	assert.NotEqual(t, -1, h.callIndex("good#build-good"), "independent siblings still run")
}

func TestGroupUpToDateAggregation(t *testing.T) {
	// An empty group is vacuously up to date; otherwise the group is up to
	// date only when every subtask is.
	ctx := context.Background()
	pkg := &project.Package{Name: "x", Directory: t.TempDir()}

	mgr, err := cache.New(cache.Options{Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	defer mgr.Close()

	inputs := func(context.Context) (cache.KeyInputs, error) {
		return cache.KeyInputs{Command: "fresh"}, nil
	}
	key, err := cache.ComputeKey(cache.KeyInputs{Command: "fresh"})
	require.NoError(t, err)
	require.NoError(t, mgr.Store(ctx, key, []cache.Output{{Path: "out/a", Data: []byte("x")}}, cache.EntryMeta{}))

	fresh := NewLeafTask(pkg, "fresh", "fresh", LeafConfig{
		Outputs: []string{"out/**"},
		Cache:   mgr,
		Inputs:  inputs,
	})
	stale := NewLeafTask(pkg, "stale", "stale", LeafConfig{})

	empty := NewGroupTask(pkg, "empty", nil, false)
	ok, err := empty.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "empty group is vacuously up to date")

	all := NewGroupTask(pkg, "all", []Task{fresh}, false)
	ok, err = all.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	mixed := NewGroupTask(pkg, "mixed", []Task{fresh, stale}, false)
	ok, err = mixed.IsUpToDate(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "one stale subtask makes the group stale")
}

func TestDependencyAttachmentByNamedness(t *testing.T) {
	pkg := &project.Package{Name: "x", Directory: t.TempDir()}
	dep := NewLeafTask(pkg, "dep", "dep-cmd", LeafConfig{})

	// Explicit dependencies attach to the group node itself, not to any
	// subtask; initialization then fans them out to every leaf.
	named := NewLeafTask(pkg, "named", "named-cmd", LeafConfig{})
	unnamed := NewLeafTask(pkg, "", "step-cmd", LeafConfig{})
	g := NewGroupTask(pkg, "build", []Task{named, unnamed}, false)

	g.AddDependentTasks([]Task{dep}, false)
	assert.Equal(t, []Task{dep}, g.DependentTasks())
	assert.Empty(t, named.DependentTasks())
	assert.Empty(t, unnamed.DependentTasks())

	g.InitializeDependentLeafTasks()
	assert.Contains(t, named.dependentLeafTasks, dep)
	assert.Contains(t, unnamed.dependentLeafTasks, dep)

	// Default dependencies reach only the unnamed subtasks and never the
	// group node.
	named2 := NewLeafTask(pkg, "named", "named-cmd", LeafConfig{})
	unnamed2 := NewLeafTask(pkg, "", "step-cmd", LeafConfig{})
	g2 := NewGroupTask(pkg, "build", []Task{named2, unnamed2}, false)

	g2.AddDependentTasks([]Task{dep}, true)
	assert.Empty(t, g2.DependentTasks())
	assert.Empty(t, named2.DependentTasks())
	assert.Equal(t, []Task{dep}, unnamed2.DependentTasks())
}

func TestPackagesWithoutTaskAreSkipped(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml":             fixtureWorkspace,
		"pkgs/app/package.json":  `{"name":"app","version":"1.0.0","scripts":{"compile":"build-app"}}`,
		"pkgs/docs/package.json": `{"name":"docs","version":"1.0.0"}`,
	})

	h := &recordingHandler{}
	reg := NewRegistry()
	reg.Register("shell", h)
	builder := NewBuilder(p, reg, nil)
	app, _ := p.PackageByName("app")
	docs, _ := p.PackageByName("docs")

	graph, err := builder.Build([]*project.Package{app, docs}, []string{"compile"})
	require.NoError(t, err)
	assert.Equal(t, 1, graph.LeafCount())
}

func TestCacheHitSkipsExecution(t *testing.T) {
	files := map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: emit
    script: emit
    inputs: ["src/**"]
    outputs: ["dist/**"]
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0"}`,
		"pkgs/app/src/main.ts":  `export const answer = 42;`,
	}
	p := loadFixture(t, files)

	var invocations int
	var mu sync.Mutex
	emit := HandlerFunc(func(_ context.Context, req *Request) (*Response, error) {
		mu.Lock()
		invocations++
		mu.Unlock()
		out := filepath.Join(req.Dir, "dist", "out.js")
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(out, []byte("compiled"), 0o644); err != nil {
			return nil, err
		}
		return &Response{Result: Success}, nil
	})
	reg := NewRegistry()
	reg.Register("emit", emit)

	mgr, err := cache.New(cache.Options{Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	defer mgr.Close()

	app, ok := p.PackageByName("app")
	require.True(t, ok)

	run := func() BuildResult {
		graph, err := NewBuilder(p, reg, mgr).Build([]*project.Package{app}, []string{"compile"})
		require.NoError(t, err)
		res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(2))
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, Success, run(), "cold cache runs the task")
	assert.Equal(t, 1, invocations)

	require.NoError(t, os.RemoveAll(filepath.Join(app.Directory, "dist")))
	assert.Equal(t, UpToDate, run(), "warm cache restores without running")
	assert.Equal(t, 1, invocations)

	restored, err := os.ReadFile(filepath.Join(app.Directory, "dist", "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "compiled", string(restored))

	stats, err := mgr.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}

func TestOutputsWithoutInputsKeyOnSources(t *testing.T) {
	// A task that declares outputs but no inputs still keys on its source
	// files, so an edit invalidates the entry while an unchanged tree hits.
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: emit
    script: emit
    outputs: ["dist/**"]
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0"}`,
		"pkgs/app/src/main.ts":  `export const answer = 42;`,
	})

	var mu sync.Mutex
	var invocations int
	emit := HandlerFunc(func(_ context.Context, req *Request) (*Response, error) {
		mu.Lock()
		invocations++
		mu.Unlock()
		out := filepath.Join(req.Dir, "dist", "out.js")
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(out, []byte("compiled"), 0o644); err != nil {
			return nil, err
		}
		return &Response{Result: Success}, nil
	})
	reg := NewRegistry()
	reg.Register("emit", emit)

	mgr, err := cache.New(cache.Options{Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	defer mgr.Close()

	app, ok := p.PackageByName("app")
	require.True(t, ok)

	run := func() BuildResult {
		graph, err := NewBuilder(p, reg, mgr).Build([]*project.Package{app}, []string{"compile"})
		require.NoError(t, err)
		res, err := graph.Root.Run(context.Background(), scheduler.NewQueue(2))
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, Success, run())
	assert.Equal(t, 1, invocations)

	// The outputs written by the first run must not perturb the key.
	assert.Equal(t, UpToDate, run(), "unchanged sources hit the cache")
	assert.Equal(t, 1, invocations)

	src := filepath.Join(app.Directory, "src", "main.ts")
	require.NoError(t, os.WriteFile(src, []byte(`export const answer = 43;`), 0o644))
	assert.Equal(t, Success, run(), "a source edit invalidates the entry")
	assert.Equal(t, 2, invocations)
}

func TestUnknownHandlerIsFatal(t *testing.T) {
	p := loadFixture(t, map[string]string{
		"hoist.yaml": fixtureWorkspace + `
tasks:
  compile:
    handler: bogus
    script: x
`,
		"pkgs/app/package.json": `{"name":"app","version":"1.0.0"}`,
	})

	builder := NewBuilder(p, DefaultRegistry(), nil)
	app, _ := p.PackageByName("app")

	_, err := builder.Build([]*project.Package{app}, []string{"compile"})
	require.Error(t, err)
	assert.True(t, hoisterr.IsCategory(err, hoisterr.CategoryConfig))
}
