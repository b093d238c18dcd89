// Package logfields defines canonical structured log field helpers so key names
// do not drift across packages.
package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants.
const (
	KeyTask         = "task"
	KeyPackage      = "package"
	KeyWorkspace    = "workspace"
	KeyReleaseGroup = "release_group"
	KeyCommand      = "command"
	KeyCacheKey     = "cache_key"
	KeyResult       = "result"
	KeyDurationMS   = "duration_ms"
	KeyPath         = "path"
	KeyBuildID      = "build_id"
	KeyWorkers      = "workers"
	KeyCount        = "count"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Task(id string) slog.Attr           { return slog.String(KeyTask, id) }
func Package(name string) slog.Attr      { return slog.String(KeyPackage, name) }
func Workspace(name string) slog.Attr    { return slog.String(KeyWorkspace, name) }
func ReleaseGroup(name string) slog.Attr { return slog.String(KeyReleaseGroup, name) }
func Command(cmd string) slog.Attr       { return slog.String(KeyCommand, cmd) }
func CacheKey(key string) slog.Attr      { return slog.String(KeyCacheKey, key) }
func Result(r string) slog.Attr          { return slog.String(KeyResult, r) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func BuildID(id string) slog.Attr        { return slog.String(KeyBuildID, id) }
func Workers(n int) slog.Attr            { return slog.Int(KeyWorkers, n) }
func Count(n int) slog.Attr              { return slog.Int(KeyCount, n) }

func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000.0)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
