package release

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single release query.
const DefaultTimeout = 15 * time.Second

// Error variables for specific error conditions.
var (
	ErrNetworkFailure = fmt.Errorf("network request failed")
	ErrRateLimited    = fmt.Errorf("rate limited by release host")
	ErrEmptyRelease   = fmt.Errorf("release has no version tag")
)

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name        string
	DownloadURL string
}

// Release is the latest published bundle.
type Release struct {
	Version   string
	Changelog string
	Assets    []Asset
}

// Fetcher returns the latest release from a hosting service.
type Fetcher interface {
	FetchLatest(ctx context.Context) (*Release, error)
}

type options struct {
	repo       string
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

// Option configures a Fetcher.
type Option func(*options)

// WithHTTPClient sets a custom HTTP client for the fetcher.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout bounds each release query. Zero disables the limit. The
// client given to WithHTTPClient is left untouched.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout >= 0 {
			o.timeout = timeout
		}
	}
}

// WithRepo overrides the "<owner>/<repo>" path of the release source.
func WithRepo(repo string) Option {
	return func(o *options) {
		if r := strings.Trim(strings.TrimSpace(repo), "/"); r != "" {
			o.repo = r
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.userAgent = ua
	}
}

func buildOptions(defaultRepo string, opts []Option) options {
	o := options{
		repo:       defaultRepo,
		httpClient: &http.Client{},
		userAgent:  "Sbsrf-Update-App",
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	return o
}

func (o options) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// NewFetcher returns the fetcher for the named source ("github" or "gitee").
func NewFetcher(source string, opts ...Option) (Fetcher, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "github":
		return NewGithub(opts...), nil
	case "gitee", "":
		return NewGitee(opts...), nil
	default:
		return nil, fmt.Errorf("unknown release source %q", source)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrNetworkFailure, resp.StatusCode)
	}
	return nil
}
