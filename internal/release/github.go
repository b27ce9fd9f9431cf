package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultGithubRepo publishes the dictionary on GitHub.
const DefaultGithubRepo = "sbsrf/home"

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Body    string        `json:"body"`
	Assets  []githubAsset `json:"assets"`
}

// Github reads the latest release from the GitHub REST API.
type Github struct {
	opts options
}

// NewGithub creates a GitHub fetcher for DefaultGithubRepo unless WithRepo is given.
func NewGithub(opts ...Option) *Github {
	return &Github{opts: buildOptions(DefaultGithubRepo, opts)}
}

// FetchLatest implements Fetcher.
func (g *Github) FetchLatest(ctx context.Context) (*Release, error) {
	ctx, cancel := g.opts.queryContext(ctx)
	defer cancel()

	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", g.opts.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", g.opts.userAgent)

	resp, err := g.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.TagName == "" {
		return nil, ErrEmptyRelease
	}

	rel := &Release{
		Version:   payload.TagName,
		Changelog: payload.Body,
		Assets:    make([]Asset, 0, len(payload.Assets)),
	}
	for _, a := range payload.Assets {
		rel.Assets = append(rel.Assets, Asset{Name: a.Name, DownloadURL: a.BrowserDownloadURL})
	}
	return rel, nil
}
