package release

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport rewrites request URLs for testing.
type rewriteTransport struct {
	base      http.RoundTripper
	targetURL string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.targetURL, "http://")
	return t.base.RoundTrip(req)
}

func clientFor(server *httptest.Server) *http.Client {
	return &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, targetURL: server.URL}}
}

func TestGithubFetchLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/sbsrf/home/releases/latest", r.URL.Path)
		assert.Equal(t, "Sbsrf-Update-App", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tag_name": "20240601",
			"body":     "notes",
			"assets": []map[string]string{
				{"name": "sbsrf.zip", "browser_download_url": "https://example.com/sbsrf.zip"},
				{"name": "octagram.zip", "browser_download_url": "https://example.com/octagram.zip"},
			},
		})
	}))
	defer server.Close()

	rel, err := NewGithub(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20240601", rel.Version)
	assert.Equal(t, "notes", rel.Changelog)
	assert.Equal(t, []Asset{
		{Name: "sbsrf.zip", DownloadURL: "https://example.com/sbsrf.zip"},
		{Name: "octagram.zip", DownloadURL: "https://example.com/octagram.zip"},
	}, rel.Assets)
}

func TestGithubCustomRepo(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"tag_name":"v1","assets":[]}`))
	}))
	defer server.Close()

	_, err := NewGithub(WithHTTPClient(clientFor(server)), WithRepo("/me/dict/")).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/repos/me/dict/releases/latest", gotPath)
}

func TestGithubRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewGithub(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGithubServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewGithub(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.ErrorContains(t, err, "502")
}

func TestGithubMissingTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"assets":[]}`))
	}))
	defer server.Close()

	_, err := NewGithub(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	assert.ErrorIs(t, err, ErrEmptyRelease)
}

func TestGiteeFetchLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sbxlm/sbxlm/releases/latest", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{
			"release": {
				"release": {
					"title": "声笔 2024",
					"created_at": "2024-06-01T10:00:00+08:00",
					"description": "<p>first line<br/>second line</p>",
					"attach_files": [
						{"name": "sbsrf.zip", "download_url": "/sbxlm/sbxlm/releases/download/20240601/sbsrf.zip"},
						{"name": "weasel.zip", "download_url": "https://cdn.example.com/weasel.zip"}
					]
				},
				"tag": {"name": "20240601"}
			}
		}`))
	}))
	defer server.Close()

	rel, err := NewGitee(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20240601", rel.Version)
	assert.Equal(t, "声笔 2024\n\n2024-06-01T10:00:00+08:00\n\nfirst linesecond line", rel.Changelog)
	require.Len(t, rel.Assets, 2)
	assert.Equal(t, "https://gitee.com/sbxlm/sbxlm/releases/download/20240601/sbsrf.zip", rel.Assets[0].DownloadURL)
	assert.Equal(t, "https://cdn.example.com/weasel.zip", rel.Assets[1].DownloadURL)
}

func TestGiteeMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	_, err := NewGitee(WithHTTPClient(clientFor(server))).FetchLatest(context.Background())
	assert.ErrorContains(t, err, "decode response")
}

func TestFetchLatestHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewGithub(WithHTTPClient(clientFor(server))).FetchLatest(ctx)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
}

func TestWithTimeoutBoundsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := clientFor(server)
	start := time.Now()
	_, err := NewGitee(WithHTTPClient(client), WithTimeout(50*time.Millisecond)).FetchLatest(context.Background())
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, client.Timeout, "the caller's client is not modified")
}

func TestNewFetcher(t *testing.T) {
	f, err := NewFetcher("GitHub")
	require.NoError(t, err)
	assert.IsType(t, &Github{}, f)

	f, err = NewFetcher("")
	require.NoError(t, err)
	assert.IsType(t, &Gitee{}, f)

	_, err = NewFetcher("bitbucket")
	assert.Error(t, err)
}

func TestRenderChangelogPlainWraps(t *testing.T) {
	out := RenderChangelog("one two three four five six", "plain", 10)
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len(line), 10)
	}
	assert.Contains(t, out, "three")
}

func TestRenderChangelogMarkdown(t *testing.T) {
	out := ansi.Strip(RenderChangelog("# Heading\n\nbody text", "dark", 60))
	assert.Contains(t, out, "Heading")
	assert.Contains(t, out, "body text")
}
