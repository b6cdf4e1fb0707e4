// Package registry reads the registry's sparse package index. The index is
// the eventually-consistent view dependents resolve against, so "the registry
// accepted the publish" and "the index serves the version" are two different
// moments in time; this package answers questions about the second one.
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://index.crates.io"

const defaultTimeout = 15 * time.Second

// Index is a read-only client for a sparse index laid out the way crates.io
// serves it: one file per package, one JSON line per published version.
type Index struct {
	baseURL string
	client  *http.Client
}

// NewIndex returns a client for the index served at baseURL. A zero timeout
// picks a default suitable for polling.
func NewIndex(baseURL string, timeout time.Duration) *Index {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Index{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type indexEntry struct {
	Name    string `json:"name"`
	Version string `json:"vers"`
	Yanked  bool   `json:"yanked"`
}

// HasVersion reports whether the index already serves the given version of
// the package. A missing index file means the package has never been
// published, which is just "not visible yet", not an error. Yanked versions
// do not count: dependents cannot resolve against them.
func (ix *Index) HasVersion(ctx context.Context, name, version string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("package name required")
	}

	url := ix.baseURL + "/" + indexPath(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("unable to build index request for %s: %w", name, err)
	}

	resp, err := ix.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("unable to query index for %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("index returned %s for %s", resp.Status, name)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return false, fmt.Errorf("unable to decode index entry for %s: %w", name, err)
		}
		if entry.Version == version && !entry.Yanked {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("unable to read index file for %s: %w", name, err)
	}
	return false, nil
}

// indexPath maps a package name onto the sparse index layout: 1/a, 2/ab,
// 3/a/abc and ab/cd/abcdef for longer names.
func indexPath(name string) string {
	name = strings.ToLower(name)
	switch {
	case len(name) <= 2:
		return fmt.Sprintf("%d/%s", len(name), name)
	case len(name) == 3:
		return fmt.Sprintf("3/%s/%s", name[:1], name)
	default:
		return fmt.Sprintf("%s/%s/%s", name[:2], name[2:4], name)
	}
}
