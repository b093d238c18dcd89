package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tylerbutler/hoist/internal/glob"
)

// Output is one file produced by a task, captured into or restored from the
// cache. Path is relative to the task's package directory.
type Output struct {
	Path string
	Data []byte
	Mode fs.FileMode
}

// entryManifest is the per-key record written next to the object store.
type entryManifest struct {
	Key        string         `json:"key"`
	Files      []manifestFile `json:"files"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

type manifestFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	Mode uint32 `json:"mode"`
}

// objectPath maps a content hash to objects/<first 2 chars>/<rest>.
func (m *Manager) objectPath(hash string) string {
	return filepath.Join(m.dir, "objects", hash[:2], hash[2:])
}

func (m *Manager) manifestPath(key string) string {
	return filepath.Join(m.dir, "manifests", key[:2], key+".json")
}

// writeObject stores a blob under its content hash. Writers of the same hash
// are idempotent; the tmp+rename keeps writers of different hashes from
// corrupting each other.
func (m *Manager) writeObject(hash string, data []byte) error {
	path := m.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed: identical key means identical content
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *Manager) readObject(hash string) ([]byte, error) {
	data, err := os.ReadFile(m.objectPath(hash)) // #nosec G304 - internal content-addressed path
	if err != nil {
		return nil, err
	}
	return data, nil
}

// CollectOutputs gathers files under dir matching the output globs, reading
// their content for storage.
func CollectOutputs(dir string, globs []string) ([]Output, error) {
	if len(globs) == 0 {
		return nil, nil
	}
	var outputs []Output
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || (path != dir && d.Name() == ".git") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !glob.MatchAny(globs, rel) {
			return nil
		}
		data, err := os.ReadFile(path) // #nosec G304 - path from directory walk
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		outputs = append(outputs, Output{Path: rel, Data: data, Mode: info.Mode().Perm()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Path < outputs[j].Path })
	return outputs, nil
}

// WriteOutputs materializes restored outputs under dir.
func WriteOutputs(dir string, outputs []Output) error {
	for _, out := range outputs {
		path := filepath.Join(dir, filepath.FromSlash(out.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		mode := out.Mode
		if mode == 0 {
			mode = 0o600
		}
		if err := os.WriteFile(path, out.Data, mode); err != nil {
			return fmt.Errorf("write output %s: %w", out.Path, err)
		}
	}
	return nil
}
