// Package cache implements the content-addressable task cache: cache-key
// derivation, an object store with one manifest per key, a SQLite index for
// enumeration and eviction, and atomically-updated statistics.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// FileHash pairs a repo-relative path with its content hash.
type FileHash struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// KeyInputs are the components a task's cache key is derived from. Two tasks
// with identical inputs produce identical keys and may safely share an entry.
type KeyInputs struct {
	Command     string            `json:"command"`
	Files       []FileHash        `json:"files"`
	DepVersions map[string]string `json:"dep_versions,omitempty"`
	ToolVersion string            `json:"tool_version"`
}

// ComputeKey derives the deterministic cache key: sha256 over a normalized
// JSON encoding with files sorted by path.
func ComputeKey(inputs KeyInputs) (string, error) {
	sorted := make([]FileHash, len(inputs.Files))
	copy(sorted, inputs.Files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	inputs.Files = sorted

	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal key inputs: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashFile returns the sha256 content hash of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - paths come from workspace scanning
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
