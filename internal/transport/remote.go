package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"sbsrf-update/internal/archive"
	"sbsrf-update/internal/download"
	apperrors "sbsrf-update/internal/errors"
	"sbsrf-update/internal/progress"
	"sbsrf-update/internal/release"
)

const (
	// DefaultNamespace is the configuration folder exposed by the phone app.
	DefaultNamespace = "Rime"

	// responseHeaderTimeout bounds the wait for the phone to answer a request.
	// Bodies may stream for as long as they need.
	responseHeaderTimeout = 2 * time.Minute
)

// ErrUploadFailed wraps per-file upload failures.
var ErrUploadFailed = fmt.Errorf("upload failed")

// Remote installs onto a phone-resident engine over its Wi-Fi upload API.
// Files are downloaded and unpacked in a private temp dir, never the shared cache.
type Remote struct {
	host       string
	namespace  string
	httpClient *http.Client
	downloader *download.Client
	tempRoot   string
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient sets the client used for uploads and archive downloads.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		r.httpClient = client
	}
}

// WithDownloader sets the client used for release assets.
func WithDownloader(d *download.Client) RemoteOption {
	return func(r *Remote) {
		r.downloader = d
	}
}

// WithTempRoot places scratch directories under dir instead of the OS temp dir.
func WithTempRoot(dir string) RemoteOption {
	return func(r *Remote) {
		r.tempRoot = dir
	}
}

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) RemoteOption {
	return func(r *Remote) {
		r.namespace = ns
	}
}

// NewRemote creates a transport for the device at host ("ip[:port]").
func NewRemote(host string, opts ...RemoteOption) (*Remote, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	host = strings.TrimRight(host, "/")
	if host == "" {
		return nil, apperrors.New(apperrors.CodeMissingHost,
			"a remote device needs its address, e.g. -H 192.168.1.108", nil)
	}
	r := &Remote{
		host:       host,
		namespace:  DefaultNamespace,
		httpClient: newUploadClient(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.downloader == nil {
		r.downloader = download.New()
	}
	return r, nil
}

func newUploadClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: t}
}

// Host returns the device address.
func (r *Remote) Host() string {
	return r.host
}

// Namespace returns the remote configuration folder.
func (r *Remote) Namespace() string {
	return r.namespace
}

// Install implements Transport.
func (r *Remote) Install(ctx context.Context, asset release.Asset, _ string, task progress.Task) error {
	scratch, err := os.MkdirTemp(r.tempRoot, "sbsrf-remote-*")
	if err != nil {
		return apperrors.New(apperrors.CodeFilesystemFailure, "create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warnf("failed to remove %s: %v", scratch, err)
		}
	}()

	zipPath := filepath.Join(scratch, filepath.Base(asset.Name))
	if _, err := r.downloader.ToFile(ctx, asset.DownloadURL, zipPath, byteProgress(task)); err != nil {
		return err
	}

	extracted := filepath.Join(scratch, "extracted")
	if err := archive.Extract(ctx, zipPath, extracted, nil); err != nil {
		return fmt.Errorf("install %s: %w", asset.Name, err)
	}
	return r.UploadTree(ctx, extracted, task)
}

// Push implements Transport. The phone API cannot delete, so files are
// uploaded over the existing ones.
func (r *Remote) Push(ctx context.Context, src string, task progress.Task) error {
	return r.UploadTree(ctx, src, task)
}

// UploadTree uploads every file below root, keyed by its path relative to root.
// A failed file does not stop the others; all failures are returned together.
func (r *Remote) UploadTree(ctx context.Context, root string, task progress.Task) error {
	var result *multierror.Error

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		task.Message(rel)
		if err := r.uploadFile(ctx, path, rel); err != nil {
			log.Warnf("upload of %s to %s failed: %v", rel, r.host, err)
			result = multierror.Append(result, err)
		}
		task.Increment()
		return nil
	})
	if walkErr != nil {
		result = multierror.Append(result, walkErr)
	}
	if err := result.ErrorOrNil(); err != nil {
		return apperrors.New(apperrors.CodeNetworkFailure, fmt.Sprintf("upload to %s: %v", r.host, err), err)
	}
	return nil
}

func (r *Remote) uploadURL(rel string) string {
	u := url.URL{
		Scheme:   "http",
		Host:     r.host,
		Path:     "/api/tus/" + r.namespace + "/" + rel,
		RawQuery: "override=true",
	}
	return u.String()
}

func (r *Remote) uploadFile(ctx context.Context, path, rel string) error {
	//nolint:gosec // G304: path comes from our own scratch or backup tree
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.uploadURL(rel), f)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUploadFailed, rel, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: status %d", ErrUploadFailed, rel, resp.StatusCode)
	}
	return nil
}

// DownloadSnapshot saves the archive of the device's live configuration to dst.
func (r *Remote) DownloadSnapshot(ctx context.Context, dst string, task progress.Task) error {
	u := url.URL{Scheme: "http", Host: r.host, Path: "/api/raw/" + r.namespace}
	client := download.New(download.WithHTTPClient(r.httpClient), download.WithRetries(0))
	if _, err := client.ToFile(ctx, u.String(), dst, byteProgress(task)); err != nil {
		return apperrors.New(apperrors.CodeNetworkFailure, fmt.Sprintf("download snapshot from %s: %v", r.host, err), err)
	}
	return nil
}
