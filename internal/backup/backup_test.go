package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sbsrf-update/internal/errors"
)

func seed(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, n, "marker"), []byte(n), 0o644))
	}
}

func liveDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.custom.yaml"), []byte("custom"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build", "sbsrf.table.bin"), []byte("table"), 0o644))
	return dir
}

func TestListSortedAndSkipsStaging(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	seed(t, root, "20230103", "20230101", ".20230104.partial", "20230102")
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o644))

	names, err := New(root, 3).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"20230101", "20230102", "20230103"}, names)
}

func TestListMissingRoot(t *testing.T) {
	names, err := New(filepath.Join(t.TempDir(), "missing"), 1).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestEnsureCapacityCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	require.NoError(t, New(root, 2).EnsureCapacity())
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureCapacityRemovesOldestByName(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	seed(t, root, "20230102", "20230101")

	store := New(root, 2)
	require.NoError(t, store.EnsureCapacity())

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"20230102"}, names)
}

func TestEnsureCapacityOverfullStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	seed(t, root, "20230101", "20230102", "20230103")

	store := New(root, 2)
	require.NoError(t, store.EnsureCapacity())

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"20230103"}, names, "room is left for exactly one new snapshot")
}

func TestEnsureCapacityUnderLimit(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	seed(t, root, "20230101")

	store := New(root, 3)
	require.NoError(t, store.EnsureCapacity())
	names, _ := store.List()
	assert.Equal(t, []string{"20230101"}, names)
}

func TestSnapshotCopiesLiveDir(t *testing.T) {
	live := liveDir(t)
	root := filepath.Join(t.TempDir(), DirName)
	store := New(root, 1)

	count := 0
	target, err := store.Snapshot(context.Background(), live, "v1", func(string) { count++ })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v1"), target)
	assert.Equal(t, 2, count)

	data, err := os.ReadFile(filepath.Join(target, "build", "sbsrf.table.bin"))
	require.NoError(t, err)
	assert.Equal(t, "table", string(data))
}

func TestSnapshotIsIdempotent(t *testing.T) {
	live := liveDir(t)
	store := New(filepath.Join(t.TempDir(), DirName), 2)

	calls := 0
	fill := func(ctx context.Context, staging string) error {
		calls++
		return os.WriteFile(filepath.Join(staging, "f"), []byte("x"), 0o644)
	}
	_, err := store.SnapshotWith(context.Background(), "v1", fill)
	require.NoError(t, err)
	_, err = store.SnapshotWith(context.Background(), "v1", fill)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// Snapshot over an existing version must not touch it either.
	_, err = store.Snapshot(context.Background(), live, "v1", nil)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(store.Path("v1"), "default.custom.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotDisabledCreatesNothing(t *testing.T) {
	live := liveDir(t)
	root := filepath.Join(t.TempDir(), DirName)

	target, err := New(root, 0).Snapshot(context.Background(), live, "v1", nil)
	require.NoError(t, err)
	assert.Empty(t, target)
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotFailureLeavesNoFinalDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	store := New(root, 2)

	_, err := store.SnapshotWith(context.Background(), "v1", func(ctx context.Context, staging string) error {
		_ = os.WriteFile(filepath.Join(staging, "half"), []byte("x"), 0o644)
		return errors.New("disk full")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeFilesystemFailure))
	assert.False(t, store.Exists("v1"))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory must be cleaned up")

	// A later attempt runs the copy again rather than skipping.
	_, err = store.Snapshot(context.Background(), liveDir(t), "v1", nil)
	require.NoError(t, err)
	assert.True(t, store.Exists("v1"))
}

func TestSnapshotReplacesStaleStaging(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	seed(t, root, ".v1.partial")

	store := New(root, 1)
	_, err := store.Snapshot(context.Background(), liveDir(t), "v1", nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.Path("v1"), "marker"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotRejectsPathLikeVersions(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), DirName), 1)
	_, err := store.Snapshot(context.Background(), liveDir(t), "../escape", nil)
	assert.Error(t, err)
}

func TestSnapshotMissingSourceIsFilesystemFailure(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), DirName), 1)
	_, err := store.Snapshot(context.Background(), filepath.Join(t.TempDir(), "gone"), "v1", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeFilesystemFailure))
	assert.False(t, store.Exists("v1"))
}

func TestLatestAndRestoreSource(t *testing.T) {
	root := filepath.Join(t.TempDir(), DirName)
	store := New(root, 3)

	_, err := store.Latest()
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNoBackupsAvailable))

	seed(t, root, "v1", "v2")
	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "v2", latest)

	src, err := store.RestoreSource("v1", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v1"), src)

	_, err = store.RestoreSource("v9", "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNoBackupsAvailable))

	_, err = store.RestoreSource("v1", "Rime.zip")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNoBackupsAvailable))
	require.NoError(t, os.WriteFile(filepath.Join(root, "v1", "Rime.zip"), []byte("zip"), 0o644))
	src, err = store.RestoreSource("v1", "Rime.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v1", "Rime.zip"), src)
}
