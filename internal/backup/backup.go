// Package backup manages the versioned snapshots kept for one device under
// <device-dir>/backups/<version>/. Entries are ordered by name, not by time:
// release tags are date-like and sort chronologically as strings.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/fsutil"
)

// DirName is the backups directory inside a device directory.
const DirName = "backups"

const stagingSuffix = ".partial"

// FillFunc populates a staging directory for a snapshot.
type FillFunc func(ctx context.Context, staging string) error

// Store is the backup collection of one device.
type Store struct {
	root       string
	maxBackups int
}

// New returns the store rooted at root (normally <device-dir>/backups).
func New(root string, maxBackups int) *Store {
	if maxBackups < 0 {
		maxBackups = 0
	}
	return &Store{root: root, maxBackups: maxBackups}
}

// Root returns the backups directory.
func (s *Store) Root() string {
	return s.root
}

// Enabled reports whether snapshots are taken at all.
func (s *Store) Enabled() bool {
	return s.maxBackups > 0
}

// Path returns the directory a snapshot of version lives in.
func (s *Store) Path(version string) string {
	return filepath.Join(s.root, version)
}

// Exists reports whether a completed snapshot of version exists.
func (s *Store) Exists(version string) bool {
	info, err := os.Stat(s.Path(version))
	return err == nil && info.IsDir()
}

// List returns the completed snapshot names in ascending order.
// A missing backups directory yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("read %s", s.root), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the last snapshot in sort order.
func (s *Store) Latest() (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", apperrors.New(apperrors.CodeNoBackupsAvailable, "no backups available", nil)
	}
	return names[len(names)-1], nil
}

// EnsureCapacity removes the oldest snapshots so that one more can be added
// without exceeding the retention limit. The backups directory is created if
// it does not exist. Any removal failure aborts.
func (s *Store) EnsureCapacity() error {
	//nolint:gosec // G301: user-owned work dir
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("create %s", s.root), err)
	}
	if s.maxBackups == 0 {
		return nil
	}

	names, err := s.List()
	if err != nil {
		return err
	}
	for len(names) >= s.maxBackups {
		oldest := names[0]
		log.Infof("removing old backup %s", oldest)
		if err := os.RemoveAll(s.Path(oldest)); err != nil {
			return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("remove old backup %s", oldest), err)
		}
		names = names[1:]
	}
	return nil
}

// Snapshot copies source into backups/<version>/. It is a no-op when
// backups are disabled or the version was already backed up.
func (s *Store) Snapshot(ctx context.Context, source, version string, onFile fsutil.FileFunc) (string, error) {
	return s.SnapshotWith(ctx, version, func(ctx context.Context, staging string) error {
		return fsutil.CopyDir(ctx, source, staging, onFile)
	})
}

// SnapshotWith is Snapshot with a caller-provided fill step. The fill writes
// into a hidden staging directory which is renamed to the final name only on
// success, so an interrupted backup never looks complete.
func (s *Store) SnapshotWith(ctx context.Context, version string, fill FillFunc) (string, error) {
	target := s.Path(version)
	if !s.Enabled() {
		log.Debugf("backups disabled, not saving %s", version)
		return "", nil
	}
	if strings.TrimSpace(version) == "" || version != filepath.Base(version) || strings.HasPrefix(version, ".") {
		return "", apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("invalid backup name %q", version), nil)
	}
	if s.Exists(version) {
		log.Infof("version %s is already backed up at %s, skipping", version, target)
		return target, nil
	}

	if err := s.EnsureCapacity(); err != nil {
		return "", err
	}

	staging := filepath.Join(s.root, "."+version+stagingSuffix)
	if err := os.RemoveAll(staging); err != nil {
		return "", apperrors.New(apperrors.CodeFilesystemFailure, "remove stale staging directory", err)
	}
	//nolint:gosec // G301: user-owned work dir
	if err := os.MkdirAll(staging, 0755); err != nil {
		return "", apperrors.New(apperrors.CodeFilesystemFailure, "create staging directory", err)
	}

	if err := fill(ctx, staging); err != nil {
		_ = os.RemoveAll(staging)
		if apperrors.CodeOf(err) != apperrors.CodeUnknown {
			return "", err
		}
		return "", apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("back up version %s: %v", version, err), err)
	}

	if err := os.Rename(staging, target); err != nil {
		_ = os.RemoveAll(staging)
		return "", apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("finalize backup %s", version), err)
	}
	log.Infof("backed up version %s to %s", version, target)
	return target, nil
}

// RestoreSource resolves what a restore of version reads from: the snapshot
// directory, or the archive inside it when archiveName is set.
func (s *Store) RestoreSource(version, archiveName string) (string, error) {
	if !s.Exists(version) {
		return "", apperrors.New(apperrors.CodeNoBackupsAvailable, fmt.Sprintf("no backup named %s", version), nil)
	}
	if archiveName == "" {
		return s.Path(version), nil
	}
	path := filepath.Join(s.Path(version), archiveName)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.New(apperrors.CodeNoBackupsAvailable, fmt.Sprintf("backup %s has no %s", version, archiveName), err)
	}
	return path, nil
}

// RemoveAll deletes every snapshot.
func (s *Store) RemoveAll() error {
	if err := os.RemoveAll(s.root); err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, fmt.Sprintf("remove %s", s.root), err)
	}
	return nil
}
