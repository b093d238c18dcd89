package gitops

import (
	"sort"
	"strings"

	hoisterr "github.com/tylerbutler/hoist/internal/errors"
)

// ResolveRemote finds the configured remote whose URL contains partialURL.
// The first matching remote (sorted by name for determinism) wins; no match
// is a fatal selection error.
func (c *Client) ResolveRemote(partialURL string) (string, error) {
	remotes, err := c.repo.Remotes()
	if err != nil {
		return "", err
	}

	var names []string
	byName := make(map[string][]string, len(remotes))
	for _, r := range remotes {
		cfg := r.Config()
		names = append(names, cfg.Name)
		byName[cfg.Name] = cfg.URLs
	}
	sort.Strings(names)

	for _, name := range names {
		for _, url := range byName[name] {
			if strings.Contains(url, partialURL) {
				return name, nil
			}
		}
	}
	return "", hoisterr.NoMatchingRemote(partialURL)
}
