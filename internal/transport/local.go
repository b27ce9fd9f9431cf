package transport

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/archive"
	"sbsrf-update/internal/download"
	"sbsrf-update/internal/fsutil"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
)

// Local installs into a directory on this machine through the shared download cache.
type Local struct {
	cache   *download.Cache
	liveDir string
}

// NewLocal creates a local transport writing into liveDir.
func NewLocal(cache *download.Cache, liveDir string) *Local {
	return &Local{cache: cache, liveDir: liveDir}
}

// LiveDir returns the directory this transport writes into.
func (l *Local) LiveDir() string {
	return l.liveDir
}

// Install implements Transport. Extraction overwrites conflicting paths.
func (l *Local) Install(ctx context.Context, asset release.Asset, version string, task progress.Task) error {
	path, err := l.cache.Fetch(ctx, asset, version, byteProgress(task))
	if err != nil {
		return err
	}

	log.Debugf("extracting %s into %s", path, l.liveDir)
	if err := archive.Extract(ctx, path, l.liveDir, func(name string) {
		task.Message(name)
	}); err != nil {
		return fmt.Errorf("install %s: %w", asset.Name, err)
	}
	return nil
}

// Push implements Transport: the live directory is removed and rebuilt from src.
func (l *Local) Push(ctx context.Context, src string, task progress.Task) error {
	return fsutil.ReplaceDir(ctx, src, l.liveDir, func(path string) {
		task.Increment()
		task.Message(path)
	})
}
