// SPDX-License-Identifier: MPL-2.0

package apk

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoIndex is returned when no package index could be located, either
// in the cache or from the configured repository.
var ErrNoIndex = errors.New("package index not available")

// fetchTimeout bounds a remote index download. The device may be on a
// flaky wifi link; hanging forever would hold the invocation lock.
const fetchTimeout = 30 * time.Second

// ParseIndex reads an APKINDEX.tar.gz file. The archive consists of
// concatenated gzip streams (signature first, then the index tarball);
// the multistream-aware gzip reader walks across both to find the
// APKINDEX member.
func ParseIndex(path string) ([]Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	defer f.Close()
	return parseIndexArchive(f)
}

// FetchIndex downloads and parses the index for arch from repoURL.
func FetchIndex(ctx context.Context, repoURL, arch string) ([]Package, error) {
	url := fmt.Sprintf("%s/%s/APKINDEX.tar.gz", strings.TrimSuffix(repoURL, "/"), arch)

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	return parseIndexArchive(resp.Body)
}

// CachedIndex locates an apk-cached APKINDEX under the vellum prefix, or
// "" when none exists. The cache is preferred over the network: check-os
// must work without connectivity when apk has already synced.
func CachedIndex(root string) string {
	cacheDir := filepath.Join(root, "etc", "apk", "cache")
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "APKINDEX.") && strings.HasSuffix(name, ".tar.gz") {
			return filepath.Join(cacheDir, name)
		}
	}
	return ""
}

func parseIndexArchive(r io.Reader) ([]Package, error) {
	gz, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read index archive: %w", err)
	}
	defer gz.Close()
	// Multistream mode (the default) makes the reader continue through
	// the signature stream into the index tarball.

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read index archive: %w", err)
		}
		if filepath.Clean(hdr.Name) == "APKINDEX" {
			return parseIndexText(tr)
		}
	}
	return nil, fmt.Errorf("%w: APKINDEX member missing", ErrNoIndex)
}

// parseIndexText parses the line-oriented APKINDEX body: single-letter
// keys, colon-separated values, blank lines between packages. Unknown
// keys and malformed lines are skipped, matching apk's own tolerance.
func parseIndexText(r io.Reader) ([]Package, error) {
	var packages []Package
	var current Package

	flush := func() {
		if current.Name != "" {
			packages = append(packages, current)
		}
		current = Package{}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		val := line[2:]
		switch line[0] {
		case 'P':
			current.Name = val
		case 'V':
			current.Version = val
		case 'D':
			current.Depends = strings.Fields(val)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read APKINDEX: %w", err)
	}
	flush()

	return packages, nil
}

// ByName groups index entries by package name; a package published for
// several OS ranges appears once per version.
func ByName(index []Package) map[string][]*Package {
	byName := make(map[string][]*Package, len(index))
	for i := range index {
		byName[index[i].Name] = append(byName[index[i].Name], &index[i])
	}
	return byName
}
