package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries []entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		if e.body != "" {
			_, err = fw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractWritesAllFiles(t *testing.T) {
	zipPath := buildZip(t, []entry{
		{name: "Rime/"},
		{name: "Rime/build/"},
		{name: "Rime/sbsrf.schema.yaml", body: "schema"},
		{name: "Rime/build/sbsrf.table.bin", body: "table"},
		{name: "Rime/lua/deep/x.lua", body: "lua"},
	})
	dest := t.TempDir()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, Extract(context.Background(), zipPath, dest, func(name string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, name)
	}))

	for rel, want := range map[string]string{
		"Rime/sbsrf.schema.yaml":     "schema",
		"Rime/build/sbsrf.table.bin": "table",
		"Rime/lua/deep/x.lua":        "lua",
	} {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(data))
	}
	sort.Strings(seen)
	assert.Equal(t, []string{"Rime/build/sbsrf.table.bin", "Rime/lua/deep/x.lua", "Rime/sbsrf.schema.yaml"}, seen)
}

func TestExtractOverwrites(t *testing.T) {
	zipPath := buildZip(t, []entry{{name: "a.txt", body: "new"}})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old and longer"), 0o644))

	require.NoError(t, Extract(context.Background(), zipPath, dest, nil))

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestExtractSkipsEscapingEntries(t *testing.T) {
	zipPath := buildZip(t, []entry{
		{name: "../evil.txt", body: "x"},
		{name: "ok.txt", body: "y"},
	})
	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	require.NoError(t, Extract(context.Background(), zipPath, dest, nil))

	_, err := os.Stat(filepath.Join(parent, "evil.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "ok.txt"))
	assert.NoError(t, err)
}

func TestExtractInvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	err := Extract(context.Background(), path, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestCount(t *testing.T) {
	zipPath := buildZip(t, []entry{{name: "d/"}, {name: "d/a", body: "1"}, {name: "b", body: "2"}})
	n, err := Count(zipPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnclosedPath(t *testing.T) {
	dest := filepath.Join("tmp", "dest")
	_, ok := enclosedPath(dest, "../x")
	assert.False(t, ok)
	_, ok = enclosedPath(dest, "/etc/passwd")
	assert.False(t, ok)
	p, ok := enclosedPath(dest, "a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dest, "a", "b.txt"), p)
}
