package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	hoisterr "github.com/tylerbutler/hoist/internal/errors"
	"github.com/tylerbutler/hoist/internal/logfields"
	"github.com/tylerbutler/hoist/internal/metrics"
)

// Options controls cache behavior for one build.
type Options struct {
	// Directory is the cache root. When empty, the HOIST_CACHE_DIR
	// environment variable is consulted; if that is also empty,
	// initialization fails.
	Directory string

	// SkipWrite disables store operations (read-only cache).
	SkipWrite bool

	// Overwrite replaces existing entries on store instead of treating the
	// write as a no-op.
	Overwrite bool

	// VerifyIntegrity re-hashes restored content against the stored manifest
	// and treats any mismatch as a miss.
	VerifyIntegrity bool
}

// CacheDirEnv overrides the cache directory from the environment.
const CacheDirEnv = "HOIST_CACHE_DIR"

// Manager is the content-addressable cache for task outputs.
type Manager struct {
	dir      string
	opts     Options
	index    *index
	counters counters
	recorder metrics.Recorder
}

// New initializes the cache rooted at the configured directory. It fails
// when no directory is resolvable from configuration or environment.
func New(opts Options, recorder metrics.Recorder) (*Manager, error) {
	dir := opts.Directory
	if dir == "" {
		dir = os.Getenv(CacheDirEnv)
	}
	if dir == "" {
		return nil, hoisterr.CacheUnavailable("no directory configured and " + CacheDirEnv + " is unset")
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	for _, sub := range []string{"objects", "manifests"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", sub, err)
		}
	}

	ix, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}

	return &Manager{dir: dir, opts: opts, index: ix, recorder: recorder}, nil
}

// Close releases the index handle.
func (m *Manager) Close() error { return m.index.close() }

// Directory returns the cache root.
func (m *Manager) Directory() string { return m.dir }

// RestoreResult is the outcome of a restore attempt.
type RestoreResult struct {
	Hit         bool
	Outputs     []Output
	RestoreTime time.Duration
	TimeSaved   time.Duration
	Bytes       int64
}

// Restore looks up key and loads its outputs. A miss never returns an error;
// restore I/O failures and integrity mismatches degrade to a miss so the
// task is simply recomputed.
func (m *Manager) Restore(ctx context.Context, key string) (*RestoreResult, error) {
	start := time.Now()

	entry, found, err := m.index.get(ctx, key)
	if err != nil {
		slog.Warn("Cache index lookup failed, treating as miss", logfields.CacheKey(key), logfields.Error(err))
		return m.miss(), nil
	}
	if !found {
		return m.miss(), nil
	}

	manifest, err := m.readManifest(key)
	if err != nil {
		slog.Warn("Cache manifest unreadable, treating as miss", logfields.CacheKey(key), logfields.Error(err))
		return m.miss(), nil
	}

	outputs := make([]Output, 0, len(manifest.Files))
	var bytes int64
	for _, mf := range manifest.Files {
		data, err := m.readObject(mf.Hash)
		if err != nil {
			slog.Warn("Cached object unreadable, treating as miss", logfields.CacheKey(key), logfields.Path(mf.Path), logfields.Error(err))
			return m.miss(), nil
		}
		if m.opts.VerifyIntegrity && hashBytes(data) != mf.Hash {
			slog.Warn("Cache integrity mismatch, evicting entry",
				logfields.CacheKey(key), logfields.Path(mf.Path))
			if err := m.Evict(ctx, key); err != nil {
				slog.Warn("Evicting corrupt entry failed", logfields.CacheKey(key), logfields.Error(err))
			}
			return m.miss(), nil
		}
		outputs = append(outputs, Output{Path: mf.Path, Data: data, Mode: fs.FileMode(mf.Mode)})
		bytes += mf.Size
	}

	restoreTime := time.Since(start)
	m.counters.recordHit(restoreTime, entry.Duration)
	m.recorder.IncCacheHit()
	m.recorder.ObserveCacheRestoreDuration(restoreTime)

	saved := entry.Duration - restoreTime
	if saved < 0 {
		saved = 0
	}
	return &RestoreResult{
		Hit:         true,
		Outputs:     outputs,
		RestoreTime: restoreTime,
		TimeSaved:   saved,
		Bytes:       bytes,
	}, nil
}

func (m *Manager) miss() *RestoreResult {
	m.counters.recordMiss()
	m.recorder.IncCacheMiss()
	return &RestoreResult{Hit: false}
}

// EntryMeta carries store-time metadata for a cache entry.
type EntryMeta struct {
	// Duration is how long the task originally took; used to estimate time
	// saved by later hits.
	Duration time.Duration
}

// Store writes a new entry for key. It is a no-op in skip-write mode, and a
// no-op when the key already exists unless Overwrite is set: identical keys
// mean identical content by construction.
func (m *Manager) Store(ctx context.Context, key string, outputs []Output, meta EntryMeta) error {
	if m.opts.SkipWrite {
		return nil
	}
	if !m.opts.Overwrite {
		if _, found, err := m.index.get(ctx, key); err == nil && found {
			return nil
		}
	}

	manifest := entryManifest{
		Key:       key,
		CreatedAt: time.Now(),
		DurationMS: meta.Duration.Milliseconds(),
	}
	var size int64
	for _, out := range outputs {
		hash := hashBytes(out.Data)
		if err := m.writeObject(hash, out.Data); err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, manifestFile{
			Path: out.Path,
			Hash: hash,
			Size: int64(len(out.Data)),
			Mode: uint32(out.Mode),
		})
		size += int64(len(out.Data))
	}

	if err := m.writeManifest(manifest); err != nil {
		return err
	}
	return m.index.put(ctx, Entry{
		Key:       key,
		Size:      size,
		FileCount: len(outputs),
		Duration:  meta.Duration,
		CreatedAt: manifest.CreatedAt,
	})
}

// Has reports whether an entry exists for key without touching statistics.
func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := m.index.get(ctx, key)
	return found, err
}

// Statistics returns a read-only snapshot of cache counters and totals.
func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	count, size, err := m.index.totals(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return m.counters.snapshot(count, size), nil
}

// Entries enumerates all indexed entries, newest first.
func (m *Manager) Entries(ctx context.Context) ([]Entry, error) {
	return m.index.list(ctx)
}

// Evict removes the entry for key: its manifest and index row. Objects stay
// behind; they may be shared and are reclaimed by Clear.
func (m *Manager) Evict(ctx context.Context, key string) error {
	if err := os.Remove(m.manifestPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove manifest: %w", err)
	}
	return m.index.delete(ctx, key)
}

// Clear removes every entry and object and resets statistics.
func (m *Manager) Clear(ctx context.Context) error {
	for _, sub := range []string{"objects", "manifests"} {
		path := filepath.Join(m.dir, sub)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clear %s: %w", sub, err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("recreate %s: %w", sub, err)
		}
	}
	if err := m.index.clear(ctx); err != nil {
		return err
	}
	m.counters.reset()
	return nil
}

// VerifyReport summarizes an integrity sweep.
type VerifyReport struct {
	Checked int
	Corrupt []string
}

// Verify re-hashes every stored object against its manifest, evicting
// entries whose content no longer matches.
func (m *Manager) Verify(ctx context.Context) (*VerifyReport, error) {
	entries, err := m.index.list(ctx)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{}
	for _, entry := range entries {
		report.Checked++
		manifest, err := m.readManifest(entry.Key)
		if err != nil {
			report.Corrupt = append(report.Corrupt, entry.Key)
			continue
		}
		ok := true
		for _, mf := range manifest.Files {
			data, err := m.readObject(mf.Hash)
			if err != nil || hashBytes(data) != mf.Hash {
				ok = false
				break
			}
		}
		if !ok {
			report.Corrupt = append(report.Corrupt, entry.Key)
			if err := m.Evict(ctx, entry.Key); err != nil {
				slog.Warn("Evicting corrupt entry failed", logfields.CacheKey(entry.Key), logfields.Error(err))
			}
		}
	}
	return report, nil
}

func (m *Manager) readManifest(key string) (*entryManifest, error) {
	data, err := os.ReadFile(m.manifestPath(key)) // #nosec G304 - internal namespaced path
	if err != nil {
		return nil, err
	}
	var manifest entryManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

func (m *Manager) writeManifest(manifest entryManifest) error {
	path := m.manifestPath(manifest.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}
