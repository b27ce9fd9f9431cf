// Package fsutil holds the filesystem primitives shared by backup, restore
// and install: breadth-first directory copy, wipe-and-replace, file counting
// and atomic file writes.
package fsutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileFunc is invoked once per regular file, with the source path, before it is copied.
type FileFunc func(path string)

// CopyDir copies the contents of from into to, creating to if needed.
// Directories are walked breadth-first. Existing files in to are overwritten.
func CopyDir(ctx context.Context, from, to string, onFile FileFunc) error {
	//nolint:gosec // G301: mirrors a user-owned configuration tree
	if err := os.MkdirAll(to, 0755); err != nil {
		return fmt.Errorf("create %s: %w", to, err)
	}

	type pair struct{ src, dst string }
	queue := []pair{{from, to}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(cur.src)
		if err != nil {
			return fmt.Errorf("read dir %s: %w", cur.src, err)
		}
		for _, entry := range entries {
			src := filepath.Join(cur.src, entry.Name())
			dst := filepath.Join(cur.dst, entry.Name())

			if entry.IsDir() {
				//nolint:gosec // G301: see above
				if err := os.MkdirAll(dst, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dst, err)
				}
				queue = append(queue, pair{src, dst})
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if onFile != nil {
				onFile(src)
			}
			if err := CopyFile(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// CopyFile copies a single regular file, preserving its permission bits.
func CopyFile(src, dst string) error {
	//nolint:gosec // G304: paths come from trees we walk ourselves
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	//nolint:gosec // G304: see above
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// ReplaceDir removes dst entirely and then copies src into it.
func ReplaceDir(ctx context.Context, src, dst string, onFile FileFunc) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove %s: %w", dst, err)
	}
	return CopyDir(ctx, src, dst, onFile)
}

// CountFiles returns the number of regular files below dir.
// A missing dir counts as zero.
func CountFiles(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return n, err
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	//nolint:gosec // G301: parent is a user-owned work dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move %s to %s: %w", tmpName, path, err)
	}
	return nil
}
