package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/history"
	"sbsrf-update/internal/release"
)

// Ledger records which release each cached file came from.
type Ledger interface {
	LookupCached(ctx context.Context, name string) (history.CacheEntry, bool, error)
	RecordCached(ctx context.Context, entry history.CacheEntry) error
	ClearCached(ctx context.Context) error
}

// Cache is the shared, filename-keyed download cache. A file that already
// exists is reused without checking its content, even when it was fetched
// for another release; the ledger only makes that visible in the log.
type Cache struct {
	dir    string
	client *Client
	ledger Ledger
}

// NewCache creates a cache rooted at dir. ledger may be nil.
func NewCache(dir string, client *Client, ledger Ledger) *Cache {
	if client == nil {
		client = New()
	}
	return &Cache{dir: dir, client: client, ledger: ledger}
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Fetch returns the local path of asset, downloading it when it is not cached.
// version is the release the asset belongs to.
func (c *Cache) Fetch(ctx context.Context, asset release.Asset, version string, onProgress Progress) (string, error) {
	if asset.Name == "" || asset.Name != filepath.Base(asset.Name) {
		return "", fmt.Errorf("%w: invalid asset name %q", ErrDownloadFailed, asset.Name)
	}
	path := filepath.Join(c.dir, asset.Name)

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		c.warnIfStale(ctx, asset.Name, version)
		log.Debugf("using cached %s", path)
		if onProgress != nil {
			onProgress(info.Size(), info.Size())
		}
		return path, nil
	}

	n, err := c.client.ToFile(ctx, asset.DownloadURL, path, onProgress)
	if err != nil {
		return "", err
	}
	if c.ledger != nil {
		entry := history.CacheEntry{Name: asset.Name, Version: version, Size: n}
		if err := c.ledger.RecordCached(ctx, entry); err != nil {
			log.Warnf("failed to record cache entry for %s: %v", asset.Name, err)
		}
	}
	return path, nil
}

func (c *Cache) warnIfStale(ctx context.Context, name, version string) {
	if c.ledger == nil {
		return
	}
	entry, ok, err := c.ledger.LookupCached(ctx, name)
	if err != nil {
		log.Warnf("failed to look up cache entry for %s: %v", name, err)
		return
	}
	if ok && version != "" && entry.Version != version {
		log.Warnf("reusing cached %s from release %s for release %s; run `clean` to force a fresh download",
			name, entry.Version, version)
	}
}

// Clear removes every cached file and the ledger rows describing them.
func (c *Cache) Clear(ctx context.Context) error {
	var result *multierror.Error
	if err := os.RemoveAll(c.dir); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove %s: %w", c.dir, err))
	}
	if c.ledger != nil {
		if err := c.ledger.ClearCached(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
