package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	// DefaultGiteeRepo publishes the dictionary on Gitee.
	DefaultGiteeRepo = "sbxlm/sbxlm"

	giteeBaseURL = "https://gitee.com"
)

// Gitee renders its descriptions as HTML paragraphs.
var giteeMarkup = regexp.MustCompile(`</?p>|<br\s*/?>`)

type giteeAttachFile struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

type giteePayload struct {
	Release struct {
		Release struct {
			Title       string            `json:"title"`
			CreatedAt   string            `json:"created_at"`
			Description string            `json:"description"`
			AttachFiles []giteeAttachFile `json:"attach_files"`
		} `json:"release"`
		Tag struct {
			Name string `json:"name"`
		} `json:"tag"`
	} `json:"release"`
}

// Gitee reads the latest release from the Gitee release page, which answers
// with JSON when asked for it.
type Gitee struct {
	opts options
}

// NewGitee creates a Gitee fetcher for DefaultGiteeRepo unless WithRepo is given.
func NewGitee(opts ...Option) *Gitee {
	return &Gitee{opts: buildOptions(DefaultGiteeRepo, opts)}
}

// FetchLatest implements Fetcher.
func (g *Gitee) FetchLatest(ctx context.Context) (*Release, error) {
	ctx, cancel := g.opts.queryContext(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/%s/releases/latest", giteeBaseURL, g.opts.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.opts.userAgent)

	resp, err := g.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload giteePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Release.Tag.Name == "" {
		return nil, ErrEmptyRelease
	}

	detail := payload.Release.Release
	rel := &Release{
		Version: payload.Release.Tag.Name,
		Changelog: fmt.Sprintf("%s\n\n%s\n\n%s",
			detail.Title, detail.CreatedAt, giteeMarkup.ReplaceAllString(detail.Description, "")),
		Assets: make([]Asset, 0, len(detail.AttachFiles)),
	}
	for _, f := range detail.AttachFiles {
		rel.Assets = append(rel.Assets, Asset{Name: f.Name, DownloadURL: absoluteGiteeURL(f.DownloadURL)})
	}
	return rel, nil
}

func absoluteGiteeURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return giteeBaseURL + u
}
