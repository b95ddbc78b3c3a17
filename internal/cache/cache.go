// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cache downloads Maven artifacts and keeps them on disk.
//
// Artifacts live under <dir>/<group>/<artifact>/<version>/, one directory
// per exact coordinate, so different versions of the same library never
// collide. Files are written atomically and verified before they become
// visible, and a cached file is never modified afterwards.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/maven"
	"go.vampire.dev/vampire/internal/xcontext"
)

// Default repositories, in priority order.
var DefaultRepositories = []string{
	"https://dl.google.com/dl/android/maven2",
	"https://repo.maven.apache.org/maven2",
}

const defaultRequestTimeout = 5 * time.Minute

// Kind is the packaging of an artifact.
type Kind string

const (
	// KindAAR is an Android archive bundling classes, resources, a manifest
	// and native libraries.
	KindAAR Kind = "aar"
	// KindJAR is a plain Java archive.
	KindJAR Kind = "jar"
)

// Kinds in the order they are looked up.
var lookupKinds = []Kind{KindAAR, KindJAR}

// Entry is an artifact stored in the cache.
type Entry struct {
	Coordinate maven.Coordinate
	Kind       Kind
	Path       string
	Size       int64
	SHA256     string
	// Source is the URL the artifact was downloaded from, or empty if it
	// was already cached.
	Source string
}

// Dir returns the per-coordinate directory holding the artifact.
func (e *Entry) Dir() string {
	return filepath.Dir(e.Path)
}

// Config holds parameters for New.
type Config struct {
	// Dir is the cache root.
	Dir string
	// Repositories are tried in order. DefaultRepositories is used if empty.
	Repositories []string
	// Client performs HTTP requests. NewHTTPClient() is used if nil.
	Client *http.Client
	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration
}

// Cache is an on-disk artifact store backed by remote Maven repositories.
// It is safe for concurrent use.
type Cache struct {
	dir     string
	repos   []string
	client  *http.Client
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	downloads atomic.Int64
}

// New creates a Cache.
func New(cfg Config) *Cache {
	repos := cfg.Repositories
	if len(repos) == 0 {
		repos = DefaultRepositories
	}
	trimmed := make([]string, len(repos))
	for i, r := range repos {
		trimmed[i] = strings.TrimRight(r, "/")
	}
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Cache{
		dir:     cfg.Dir,
		repos:   trimmed,
		client:  client,
		timeout: timeout,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Repositories returns the repositories in lookup order.
func (c *Cache) Repositories() []string { return append([]string(nil), c.repos...) }

// Downloads returns the number of files fetched from the network so far.
func (c *Cache) Downloads() int64 { return c.downloads.Load() }

// CoordinateDir returns the directory where files of coord are stored.
func (c *Cache) CoordinateDir(coord maven.Coordinate) string {
	return filepath.Join(c.dir, coord.Group, coord.Artifact, coord.Version)
}

// lock serializes work on a single cache key and returns the unlock func.
func (c *Cache) lock(key string) func() {
	c.mu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Fetch returns the artifact of coord, downloading it on a cache miss.
//
// Repositories are tried in priority order; within a repository an AAR is
// preferred over a JAR. The first repository that has the artifact wins.
// Concurrent calls for the same coordinate download at most once.
func (c *Cache) Fetch(ctx context.Context, coord maven.Coordinate) (*Entry, error) {
	defer c.lock(coord.String())()

	for _, kind := range lookupKinds {
		p := filepath.Join(c.CoordinateDir(coord), coord.FileName(string(kind)))
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := verifyArchive(p); err != nil {
			logging.Infof(ctx, "Removing corrupt cached %s: %v", p, err)
			os.Remove(p)
			continue
		}
		logging.Debugf(ctx, "Cache hit for %v", coord)
		return newEntry(coord, kind, p, "")
	}

	ferr := &FetchError{Coordinate: coord}
	for _, repo := range c.repos {
		for _, kind := range lookupKinds {
			url := repo + "/" + coord.RepoPath(string(kind))
			dst := filepath.Join(c.CoordinateDir(coord), coord.FileName(string(kind)))
			err := c.download(ctx, url, dst, verifyArchive)
			if err == nil {
				return newEntry(coord, kind, dst, url)
			}
			if errors.Is(err, errNotFound) {
				continue
			}
			ferr.add(url, err)
			if ctx.Err() != nil {
				return nil, ferr
			}
			// Any other failure means this repository is unusable for
			// coord; do not try the next kind there.
			break
		}
	}
	return nil, ferr
}

// Descriptor returns the POM of coord, downloading it on a cache miss.
func (c *Cache) Descriptor(ctx context.Context, coord maven.Coordinate) ([]byte, error) {
	defer c.lock(coord.String() + "@pom")()

	p := filepath.Join(c.CoordinateDir(coord), coord.FileName("pom"))
	if b, err := os.ReadFile(p); err == nil {
		if verr := verifyXML(p); verr == nil {
			return b, nil
		}
		os.Remove(p)
	}

	ferr := &FetchError{Coordinate: coord}
	for _, repo := range c.repos {
		url := repo + "/" + coord.RepoPath("pom")
		err := c.download(ctx, url, p, verifyXML)
		if err == nil {
			return os.ReadFile(p)
		}
		if errors.Is(err, errNotFound) {
			continue
		}
		ferr.add(url, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, ferr
}

// Metadata returns the maven-metadata.xml listing the versions of coord's
// group and artifact from the first repository that has it. It is not
// cached since it changes over time.
func (c *Cache) Metadata(ctx context.Context, coord maven.Coordinate) ([]byte, error) {
	ferr := &FetchError{Coordinate: coord}
	for _, repo := range c.repos {
		url := repo + "/" + coord.MetadataPath()
		b, err := c.get(ctx, url)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, errNotFound) {
			ferr.add(url, err)
		}
	}
	return nil, ferr
}

var errNotFound = errors.New("not found")

func (c *Cache) requestContext(ctx context.Context, url string) (context.Context, xcontext.CancelFunc) {
	return xcontext.WithTimeout(ctx, c.timeout, errors.Errorf("download of %s timed out after %v", url, c.timeout))
}

// open issues a GET for url. The caller must close the body.
func (c *Cache) open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "vampire")
	resp, err := c.client.Do(req)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, errors.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *Cache) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := c.requestContext(ctx, url)
	defer cancel(context.Canceled)

	resp, err := c.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// download saves url to dst atomically after checking it with verify.
func (c *Cache) download(ctx context.Context, url, dst string, verify func(path string) error) error {
	ctx, cancel := c.requestContext(ctx, url)
	defer cancel(context.Canceled)

	resp, err := c.open(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	logging.Infof(ctx, "Downloading %s", url)
	c.downloads.Add(1)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	n, err := io.Copy(f, resp.Body)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return errors.Wrapf(err, "failed to read %s", url)
	}
	if n == 0 {
		return errors.Errorf("%s is empty", url)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return errors.Errorf("%s truncated: got %d of %d bytes", url, n, resp.ContentLength)
	}
	if err := verify(tmp); err != nil {
		return errors.Wrapf(err, "%s is corrupt", url)
	}
	return os.Rename(tmp, dst)
}

func newEntry(coord maven.Coordinate, kind Kind, path, source string) (*Entry, error) {
	sum, size, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Coordinate: coord,
		Kind:       kind,
		Path:       path,
		Size:       size,
		SHA256:     sum,
		Source:     source,
	}, nil
}

func hashFile(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// FetchError reports that an artifact could not be obtained from any
// repository.
type FetchError struct {
	Coordinate maven.Coordinate
	// Causes maps repository URLs to the error seen there. It is empty if
	// every repository answered "not found".
	Causes []RepoError
}

// RepoError is the failure seen at a single URL.
type RepoError struct {
	URL string
	Err error
}

func (e *FetchError) add(url string, err error) {
	e.Causes = append(e.Causes, RepoError{URL: url, Err: err})
}

// NotFound reports whether every repository answered "not found".
func (e *FetchError) NotFound() bool {
	return len(e.Causes) == 0
}

func (e *FetchError) Error() string {
	if e.NotFound() {
		return fmt.Sprintf("%v: not found in any repository", e.Coordinate)
	}
	var parts []string
	for _, c := range e.Causes {
		parts = append(parts, fmt.Sprintf("%s: %v", c.URL, c.Err))
	}
	return fmt.Sprintf("%v: %s", e.Coordinate, strings.Join(parts, "; "))
}
