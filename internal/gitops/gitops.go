// Package gitops wraps the git capability hoist consumes: resolving the
// repository, the upstream remote, and the set of files changed since a ref.
package gitops

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// NotARepositoryError is the typed condition for "not in a git repository".
// It is distinct from a generic failure so callers can proceed without
// git-based features; it is only fatal when a selection criterion needs git.
type NotARepositoryError struct {
	Path string
}

func (e *NotARepositoryError) Error() string {
	return fmt.Sprintf("%s is not inside a git repository", e.Path)
}

// IsNotARepository reports whether err is the typed not-a-repository condition.
func IsNotARepository(err error) bool {
	var nre *NotARepositoryError
	return errors.As(err, &nre)
}

// Client wraps a repository handle rooted at the discovered git root.
type Client struct {
	repo *git.Repository
	root string
}

// Open locates the repository containing dir.
func Open(dir string) (*Client, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, &NotARepositoryError{Path: dir}
		}
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolve worktree: %w", err)
	}
	return &Client{repo: repo, root: wt.Filesystem.Root()}, nil
}

// Root returns the absolute path of the repository root.
func (c *Client) Root() string { return c.root }

// CurrentSha returns the HEAD commit hash.
func (c *Client) CurrentSha() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// headTree returns the tree of the HEAD commit.
func (c *Client) headTree() (*object.Tree, error) {
	head, err := c.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := c.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD commit: %w", err)
	}
	return commit.Tree()
}

// resolveRefTree resolves ref (preferring the remote-tracking ref when remote
// is non-empty) to a commit tree.
func (c *Client) resolveRefTree(ref, remote string) (*object.Tree, error) {
	candidates := []string{ref}
	if remote != "" {
		candidates = []string{remote + "/" + ref, ref}
	}
	var lastErr error
	for _, rev := range candidates {
		hash, err := c.repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			lastErr = err
			continue
		}
		commit, err := c.repo.CommitObject(*hash)
		if err != nil {
			lastErr = err
			continue
		}
		return commit.Tree()
	}
	return nil, fmt.Errorf("resolve ref %q: %w", ref, lastErr)
}

// ChangedFiles returns repo-relative paths that differ between ref and the
// current state, including uncommitted worktree changes.
func (c *Client) ChangedFiles(ref, remote string) ([]string, error) {
	refTree, err := c.resolveRefTree(ref, remote)
	if err != nil {
		return nil, err
	}
	headTree, err := c.headTree()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	changes, err := object.DiffTree(refTree, headTree)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	for _, ch := range changes {
		if ch.From.Name != "" {
			seen[ch.From.Name] = struct{}{}
		}
		if ch.To.Name != "" {
			seen[ch.To.Name] = struct{}{}
		}
	}

	// Uncommitted changes count as changed too.
	status, err := c.worktreeStatus()
	if err != nil {
		return nil, err
	}
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		seen[path] = struct{}{}
	}

	files := make([]string, 0, len(seen))
	for path := range seen {
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// DeletedFiles returns repo-relative paths deleted in the worktree or index.
func (c *Client) DeletedFiles() ([]string, error) {
	status, err := c.worktreeStatus()
	if err != nil {
		return nil, err
	}
	var deleted []string
	for path, st := range status {
		if st.Worktree == git.Deleted || st.Staging == git.Deleted {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

// Files lists the HEAD-tracked files under dir (repo-relative or absolute).
func (c *Client) Files(dir string) ([]string, error) {
	prefix, err := c.relPath(dir)
	if err != nil {
		return nil, err
	}

	tree, err := c.headTree()
	if err != nil {
		return nil, err
	}

	var files []string
	iter := tree.Files()
	err = iter.ForEach(func(f *object.File) error {
		if prefix == "" || f.Name == prefix || strings.HasPrefix(f.Name, prefix+"/") {
			files = append(files, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (c *Client) worktreeStatus() (git.Status, error) {
	wt, err := c.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolve worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	return status, nil
}

// relPath converts dir to a slash-separated repo-relative path.
func (c *Client) relPath(dir string) (string, error) {
	if dir == "" || dir == "." {
		return "", nil
	}
	if !filepath.IsAbs(dir) {
		return filepath.ToSlash(filepath.Clean(dir)), nil
	}
	rel, err := filepath.Rel(c.root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository", dir)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}
