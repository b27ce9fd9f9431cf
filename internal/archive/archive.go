// Package archive extracts zip bundles. Directory entries are created
// up front and file entries are then written concurrently.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrExtractionFailed wraps every failure to unpack an archive.
var ErrExtractionFailed = fmt.Errorf("archive extraction failed")

// EntryFunc is called once per extracted file with its name inside the archive.
type EntryFunc func(name string)

// Count returns the number of file entries in the archive.
func Count(path string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrExtractionFailed, path, err)
	}
	defer func() { _ = r.Close() }()

	n := 0
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			n++
		}
	}
	return n, nil
}

// Extract unpacks the zip at path into dest, overwriting existing files.
// Entries whose names would land outside dest are skipped.
func Extract(ctx context.Context, path, dest string, onEntry EntryFunc) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrExtractionFailed, path, err)
	}
	defer func() { _ = r.Close() }()

	type job struct {
		file   *zip.File
		target string
	}
	var jobs []job

	for _, f := range r.File {
		target, ok := enclosedPath(dest, f.Name)
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			//nolint:gosec // G301: extracted config tree
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
			}
			continue
		}
		//nolint:gosec // G301: extracted config tree
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		jobs = append(jobs, job{file: f, target: target})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if onEntry != nil {
				onEntry(j.file.Name)
			}
			return writeEntry(j.file, j.target)
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return nil
}

func writeEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	//nolint:gosec // G304: target was checked by enclosedPath
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	//nolint:gosec // G110: release bundles are small and come from the publisher
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// enclosedPath joins name onto dest, rejecting absolute names and names that
// climb out of dest.
func enclosedPath(dest, name string) (string, bool) {
	clean := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if clean == "" || filepath.IsAbs(clean) || strings.HasPrefix(clean, `\`) {
		return "", false
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}
