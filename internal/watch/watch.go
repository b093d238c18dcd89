// Package watch reruns builds when workspace files change. File events are
// debounced into one rebuild; an optional interval job forces periodic full
// rebuilds to catch anything the watcher missed.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tylerbutler/hoist/internal/build"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/project"
)

// Options tunes watch behavior.
type Options struct {
	// Debounce is the quiet period after the last file event before a
	// rebuild starts.
	Debounce time.Duration

	// RebuildEvery forces a full rebuild at this interval regardless of file
	// events. Zero disables the interval job.
	RebuildEvery time.Duration

	// MetricsAddr serves Prometheus metrics at /metrics when non-empty.
	MetricsAddr string

	// Gatherer backs the metrics endpoint. The default registry is used when
	// nil.
	Gatherer prometheus.Gatherer
}

const defaultDebounce = 500 * time.Millisecond

// Watcher owns the watch loop for one project.
type Watcher struct {
	project *project.BuildProject
	service *build.Service
	request build.Request
	opts    Options
}

// New creates a watcher that reruns request through service on changes.
func New(p *project.BuildProject, service *build.Service, request build.Request, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Watcher{project: p, service: service, request: request, opts: opts}
}

// Run builds once, then blocks rebuilding on changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := w.addDirs(fsw, w.project.RootPath); err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)
	if w.opts.RebuildEvery > 0 {
		sched, err := gocron.NewScheduler()
		if err != nil {
			return err
		}
		_, err = sched.NewJob(
			gocron.DurationJob(w.opts.RebuildEvery),
			gocron.NewTask(func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}),
		)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				slog.Warn("Stopping interval rebuild failed", logfields.Error(err))
			}
		}()
	}

	if w.opts.MetricsAddr != "" {
		w.serveMetrics(ctx)
	}

	w.rebuild(ctx)

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addDirs(fsw, ev.Name); err != nil {
						slog.Warn("Watching new directory failed",
							logfields.Path(ev.Name), logfields.Error(err))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.rebuild(ctx)

		case <-trigger:
			w.rebuild(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", logfields.Error(err))
		}
	}
}

// rebuild re-scans the workspaces so new or removed packages are seen, then
// runs the build. Failures keep the watch loop alive.
func (w *Watcher) rebuild(ctx context.Context) {
	if err := w.project.Reload(); err != nil {
		slog.Error("Project reload failed", logfields.Error(err))
		return
	}
	outcome, err := w.service.Build(ctx, w.request)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("Build failed", logfields.Error(err))
		}
		return
	}
	slog.Info("Watch build finished",
		logfields.BuildID(outcome.ID),
		logfields.Result(outcome.Result.String()),
		logfields.Duration(outcome.Duration))
}

func (w *Watcher) addDirs(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "node_modules" || part == ".git" || part == ".hoist" {
			return true
		}
	}
	return false
}

func (w *Watcher) serveMetrics(ctx context.Context) {
	handler := promhttp.Handler()
	if w.opts.Gatherer != nil {
		handler = promhttp.HandlerFor(w.opts.Gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              w.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Serving metrics", slog.String("addr", w.opts.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("Metrics server stopped", logfields.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
