// Package download fetches release assets over HTTP with retry, and keeps the
// shared download cache used by local engines.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	userAgent = "Sbsrf-Update-App"

	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 2
)

// ErrDownloadFailed wraps every failed download.
var ErrDownloadFailed = fmt.Errorf("download failed")

// Progress receives the running byte count and the expected total.
// total is -1 when the server did not announce a length.
type Progress func(written, total int64)

// Client downloads files.
type Client struct {
	httpClient *http.Client
	retries    int
	initial    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetries sets how many times a failed download is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithInitialInterval sets the first retry delay. Mostly for tests.
func WithInitialInterval(d time.Duration) Option {
	return func(c *Client) {
		c.initial = d
	}
}

// New creates a download client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		retries:    DefaultRetries,
		initial:    800 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.initial,
		RandomizationFactor: 0.5,
		Multiplier:          1.7,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)
}

// ToFile downloads url into dst. The body is streamed into a temp file next
// to dst which is renamed into place only after a complete transfer.
func (c *Client) ToFile(ctx context.Context, url, dst string, onProgress Progress) (int64, error) {
	log.Debugf("starting download from %s", url)

	//nolint:gosec // G301: cache and temp dirs are user-owned
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	var written int64
	attempt := 0
	operation := func() error {
		attempt++
		n, err := c.once(ctx, url, dst, onProgress)
		if err != nil {
			log.Warnf("download of %s failed (attempt %d): %v", url, attempt, err)
			return err
		}
		written = n
		return nil
	}

	if err := backoff.Retry(operation, c.backoff(ctx)); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, ctx.Err())
		}
		return 0, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}

	log.Infof("downloaded %s to %s", url, dst)
	return written, nil
}

func (c *Client) once(ctx context.Context, url, dst string, onProgress Progress) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			_ = os.Remove(tmpName)
		}
	}()

	total := resp.ContentLength
	if onProgress != nil {
		onProgress(0, total)
	}
	n, err := io.Copy(tmp, &progressReader{r: resp.Body, total: total, fn: onProgress})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write body: %w", err)
	}
	if total >= 0 && n != total {
		return 0, fmt.Errorf("short body: got %d of %d bytes", n, total)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("move %s to %s: %w", tmpName, dst, err))
	}
	return n, nil
}

type progressReader struct {
	r       io.Reader
	written int64
	total   int64
	fn      Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		if p.fn != nil {
			p.fn(p.written, p.total)
		}
	}
	return n, err
}
