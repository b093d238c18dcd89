package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tylerbutler/hoist/internal/build"
	"github.com/tylerbutler/hoist/internal/cache"
	"github.com/tylerbutler/hoist/internal/metrics"
	"github.com/tylerbutler/hoist/internal/project"
	"github.com/tylerbutler/hoist/internal/selection"
	"github.com/tylerbutler/hoist/internal/taskgraph"
	"github.com/tylerbutler/hoist/internal/version"
	"github.com/tylerbutler/hoist/internal/watch"
)

// selectionFlags are shared by the build and watch commands.
type selectionFlags struct {
	Dir              string   `help:"Build only the package at this directory, ignoring other selection flags"`
	ChangedSince     string   `help:"Also build packages changed since this git ref on the upstream remote"`
	ReleaseGroup     []string `short:"g" help:"Release group name patterns to build"`
	ReleaseGroupRoot []string `help:"Release group name patterns whose root packages to build"`
	Workspace        []string `short:"w" help:"Workspace name patterns to build"`
	WorkspaceRoot    []string `help:"Workspace name patterns whose root packages to build"`
	Scope            []string `help:"Keep only packages under these name prefixes"`
	SkipScope        []string `help:"Drop packages under these name prefixes"`
	Private          *bool    `help:"Keep only private (true) or only public (false) packages" negatable:""`
}

type buildFlags struct {
	selectionFlags
	Task           []string `short:"t" help:"Task names to run" default:"build"`
	Deps           bool     `help:"Also build cross-release-group dependencies of the selection"`
	Workers        int      `short:"j" help:"Concurrent task limit (default: CPU count)"`
	NoCache        bool     `help:"Disable the task cache for this run"`
	SkipCacheWrite bool     `help:"Read the cache but never write new entries"`
	OverwriteCache bool     `help:"Replace existing cache entries instead of skipping the write"`
}

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path (found by upward search when unset)"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Build struct {
		buildFlags
	} `cmd:"" help:"Run tasks across the selected packages"`

	Watch struct {
		buildFlags
		Debounce    time.Duration `help:"Quiet period after the last file event before rebuilding" default:"500ms"`
		Interval    time.Duration `help:"Force a full rebuild at this interval (0 disables)"`
		MetricsAddr string        `help:"Serve Prometheus metrics at this address"`
	} `cmd:"" help:"Rebuild whenever workspace files change"`

	List struct {
		selectionFlags
	} `cmd:"" help:"List the packages a selection would build"`

	Cache struct {
		Stats  struct{} `cmd:"" help:"Show cache statistics"`
		Clear  struct{} `cmd:"" help:"Remove every cache entry and reset statistics"`
		Verify struct{} `cmd:"" help:"Re-hash cached content and evict corrupt entries"`
	} `cmd:"" help:"Inspect and maintain the task cache"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("hoist"),
		kong.Description("Monorepo build orchestrator with task-level caching."),
		kong.Vars{"version": version.Version},
	)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	switch ctx.Command() {
	case "build":
		err = runBuild(CLI.Build.buildFlags)
	case "watch":
		err = runWatch(CLI.Watch.buildFlags, CLI.Watch.Debounce, CLI.Watch.Interval, CLI.Watch.MetricsAddr)
	case "list":
		err = runList(CLI.List.selectionFlags)
	case "cache stats":
		err = runCacheStats()
	case "cache clear":
		err = runCacheClear()
	case "cache verify":
		err = runCacheVerify()
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadProject() (*project.BuildProject, error) {
	if CLI.Config != "" {
		return project.LoadBuildProjectFile(CLI.Config)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return project.LoadBuildProject(cwd)
}

// openCache resolves the cache directory relative to the project root. A nil
// return with nil error means caching is disabled.
func openCache(p *project.BuildProject, flags buildFlags, recorder metrics.Recorder) (*cache.Manager, error) {
	if flags.NoCache {
		return nil, nil
	}
	dir := p.Config.Cache.Directory
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RootPath, dir)
	}
	return cache.New(cache.Options{
		Directory:       dir,
		SkipWrite:       flags.SkipCacheWrite || p.Config.Cache.SkipWrite,
		Overwrite:       flags.OverwriteCache || p.Config.Cache.Overwrite,
		VerifyIntegrity: p.Config.Cache.VerifyIntegrity,
	}, recorder)
}

func (f selectionFlags) criteria() selection.PackageSelectionCriteria {
	return selection.PackageSelectionCriteria{
		Workspaces:         f.Workspace,
		WorkspaceRoots:     f.WorkspaceRoot,
		ReleaseGroups:      f.ReleaseGroup,
		ReleaseGroupRoots:  f.ReleaseGroupRoot,
		Directory:          f.Dir,
		ChangedSinceBranch: f.ChangedSince,
	}
}

func (f selectionFlags) filter() selection.PackageFilter {
	return selection.PackageFilter{
		Private:   f.Private,
		Scope:     f.Scope,
		SkipScope: f.SkipScope,
	}
}

func (f buildFlags) request() build.Request {
	return build.Request{
		Selection:           f.criteria(),
		Filter:              f.filter(),
		Tasks:               f.Task,
		IncludeDependencies: f.Deps,
		Concurrency:         f.Workers,
	}
}

func runBuild(flags buildFlags) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheusRecorder(nil)
	mgr, err := openCache(p, flags, recorder)
	if err != nil {
		return err
	}
	if mgr != nil {
		defer mgr.Close()
	}

	service := build.NewService(p, taskgraph.DefaultRegistry(), mgr, recorder)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outcome, err := service.Build(ctx, flags.request())
	if err != nil {
		return err
	}
	printOutcome(outcome)

	// os.Exit skips deferred closes, so flush the cache index first.
	if mgr != nil {
		mgr.Close()
	}
	os.Exit(outcome.ExitCode())
	return nil
}

func runWatch(flags buildFlags, debounce, interval time.Duration, metricsAddr string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	mgr, err := openCache(p, flags, recorder)
	if err != nil {
		return err
	}
	if mgr != nil {
		defer mgr.Close()
	}

	service := build.NewService(p, taskgraph.DefaultRegistry(), mgr, recorder)
	watcher := watch.New(p, service, flags.request(), watch.Options{
		Debounce:     debounce,
		RebuildEvery: interval,
		MetricsAddr:  metricsAddr,
		Gatherer:     registry,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runList(flags selectionFlags) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	criteria := flags.criteria()
	if criteria.Empty() {
		criteria.ReleaseGroups = []string{"*"}
		criteria.ReleaseGroupRoots = []string{"*"}
	}
	pkgs, err := selection.SelectPackages(p, criteria)
	if err != nil {
		return err
	}
	pkgs = selection.FilterPackages(pkgs, flags.filter())

	for _, pkg := range pkgs {
		rel, err := filepath.Rel(p.RootPath, pkg.Directory)
		if err != nil {
			rel = pkg.Directory
		}
		fmt.Printf("%-40s %-12s %s\n", pkg.Name, pkg.Version(), rel)
	}
	fmt.Printf("\n%d packages\n", len(pkgs))
	return nil
}

// openCacheForMaintenance opens the cache with store writes disabled; the
// maintenance commands only read, clear, or evict.
func openCacheForMaintenance() (*cache.Manager, *project.BuildProject, error) {
	p, err := loadProject()
	if err != nil {
		return nil, nil, err
	}
	dir := p.Config.Cache.Directory
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RootPath, dir)
	}
	mgr, err := cache.New(cache.Options{Directory: dir, SkipWrite: true}, nil)
	if err != nil {
		return nil, nil, err
	}
	return mgr, p, nil
}

func runCacheStats() error {
	mgr, _, err := openCacheForMaintenance()
	if err != nil {
		return err
	}
	defer mgr.Close()

	stats, err := mgr.Statistics(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Entries:        %d\n", stats.TotalEntries)
	fmt.Printf("Total size:     %s\n", humanBytes(stats.TotalSize))
	fmt.Printf("Hits:           %d\n", stats.HitCount)
	fmt.Printf("Misses:         %d\n", stats.MissCount)
	fmt.Printf("Avg restore:    %s\n", stats.AvgRestoreTime)
	fmt.Printf("Time saved:     %s\n", time.Duration(stats.TimeSavedMS)*time.Millisecond)

	entries, err := mgr.Entries(context.Background())
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Size > entries[j].Size })
	limit := len(entries)
	if limit > 10 {
		limit = 10
	}
	if limit > 0 {
		fmt.Println("\nLargest entries:")
		for _, e := range entries[:limit] {
			fmt.Printf("  %s  %8s  %d files\n", e.Key[:16], humanBytes(e.Size), e.FileCount)
		}
	}
	return nil
}

func runCacheClear() error {
	mgr, _, err := openCacheForMaintenance()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Clear(context.Background()); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}

func runCacheVerify() error {
	mgr, _, err := openCacheForMaintenance()
	if err != nil {
		return err
	}
	defer mgr.Close()

	report, err := mgr.Verify(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d entries, %d corrupt\n", report.Checked, len(report.Corrupt))
	for _, key := range report.Corrupt {
		fmt.Printf("  evicted %s\n", key)
	}
	return nil
}

func printOutcome(o *build.Outcome) {
	var ran, cached, skipped, failed int
	for _, exec := range o.Tasks {
		switch {
		case exec.Result == taskgraph.Failed && exec.Status == taskgraph.StatusRan:
			failed++
		case exec.Status == taskgraph.StatusSkipped:
			skipped++
		case exec.Status == taskgraph.StatusFromCache:
			cached++
		case exec.Status == taskgraph.StatusRan:
			ran++
		}
	}

	fmt.Printf("\n%s in %s: %d packages, %d ran, %d from cache, %d skipped, %d failed\n",
		o.Result, o.Duration.Round(time.Millisecond), o.Packages, ran, cached, skipped, failed)
	if o.CacheHits > 0 {
		fmt.Printf("cache: %d hits, %d misses, %s restored, ~%s saved\n",
			o.CacheHits, o.CacheMisses, humanBytes(o.BytesRestored), o.TimeSaved.Round(time.Millisecond))
	}

	for _, exec := range o.Tasks {
		if exec.Result != taskgraph.Failed || exec.Status != taskgraph.StatusRan {
			continue
		}
		fmt.Printf("\nFAILED %s\n", exec.Name)
		if len(exec.Stdout) > 0 {
			fmt.Printf("%s\n", exec.Stdout)
		}
		if len(exec.Stderr) > 0 {
			fmt.Printf("%s\n", exec.Stderr)
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
