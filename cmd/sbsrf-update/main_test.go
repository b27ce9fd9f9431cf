package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbsrf-update/internal/config"
	"sbsrf-update/internal/device"
)

type stubRunner struct {
	output  string
	runs    []string
	spawned [][]string
}

func (s *stubRunner) Run(_ context.Context, bin string, args ...string) ([]byte, error) {
	s.runs = append(s.runs, bin)
	return []byte(s.output), nil
}

func (s *stubRunner) Spawn(bin string, args ...string) error {
	s.spawned = append(s.spawned, append([]string{bin}, args...))
	return nil
}

// defaultsPrompter takes every default, like a session without a terminal.
type defaultsPrompter struct{}

func (defaultsPrompter) Confirm(_ string, def bool) (bool, error) { return def, nil }

func (defaultsPrompter) Select(_ string, _ []string, def int) (int, error) { return def, nil }

// rewriteTransport sends every request to the test server.
type rewriteTransport struct {
	base      http.RoundTripper
	targetURL string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.targetURL, "http://")
	return t.base.RoundTrip(req)
}

type harness struct {
	workDir string
	home    string
	runner  *stubRunner
	client  *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		workDir: filepath.Join(t.TempDir(), "work"),
		home:    t.TempDir(),
		runner:  &stubRunner{},
	}
}

// serveRelease answers the GitHub latest-release endpoint with tag.
func (h *harness) serveRelease(t *testing.T, tag string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/sbsrf/home/releases/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"` + tag + `","body":"notes","assets":[]}`))
	}))
	t.Cleanup(server.Close)
	h.client = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, targetURL: server.URL}}
}

func (h *harness) run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	reset := config.ResetForTesting(t)
	defer reset()

	var out, errOut bytes.Buffer
	e := env{
		stdout:     &out,
		stderr:     &errOut,
		runner:     h.runner,
		prompter:   defaultsPrompter{},
		httpClient: h.client,
		registry: []device.RegistryOption{
			device.WithGOOS("linux"),
			device.WithHomeDir(h.home),
			device.WithReloader(func(context.Context) error { return nil }),
		},
	}
	code = run(context.Background(), append([]string{"--work-dir", h.workDir}, args...), e)
	return out.String(), errOut.String(), code
}

func TestDeviceLifecycle(t *testing.T) {
	h := newHarness(t)

	out, _, code := h.run(t, "device", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No devices yet")

	out, stderr, code := h.run(t, "device", "add", "phone")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Added phone")

	_, stderr, code = h.run(t, "device", "add", "phone")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "already exists")

	out, _, _ = h.run(t, "device", "list")
	assert.Contains(t, out, "   phone")
	assert.Contains(t, out, "Hamster")

	out, stderr, code = h.run(t, "device", "default", "phone")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "phone is now the default device")

	out, _, _ = h.run(t, "device", "list")
	assert.Contains(t, out, "-> phone")

	out, _, _ = h.run(t, "device", "default")
	assert.Equal(t, "phone\n", out)

	out, _, code = h.run(t, "device", "remove", "phone")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Nothing was changed")
	assert.FileExists(t, filepath.Join(h.workDir, "phone", device.ConfigFileName))

	out, stderr, code = h.run(t, "--yes", "device", "remove", "phone")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Removed phone")
	assert.NoDirExists(t, filepath.Join(h.workDir, "phone"))

	out, _, _ = h.run(t, "device", "default")
	assert.Equal(t, "linux\n", out)

	_, stderr, code = h.run(t, "--yes", "device", "remove", "phone")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "device phone does not exist")
}

func TestUpdateRemoteNeedsHost(t *testing.T) {
	h := newHarness(t)
	_, _, code := h.run(t, "device", "add", "phone")
	require.Equal(t, 0, code)

	_, stderr, code := h.run(t, "update", "phone")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "-H 192.168.1.108")
}

func TestUpdateUnknownDeviceIsReported(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "update", "ghost")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "device ghost does not exist")
	assert.Contains(t, stderr, "device list")
}

func TestRestoreWithoutBackups(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "restore")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "linux has no backups to restore")
}

func TestBareRunAdoptsRunningEngine(t *testing.T) {
	h := newHarness(t)
	h.runner.output = "/sbin/init\n/usr/bin/fcitx5 -d\n"
	h.serveRelease(t, device.DefaultVersion)

	out, stderr, code := h.run(t, "--source", "github")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Found Fcitx5")
	assert.Contains(t, out, "Fcitx5 already has the latest version "+device.DefaultVersion)
	assert.FileExists(t, filepath.Join(h.workDir, "Fcitx5", device.ConfigFileName))

	pointer, err := os.ReadFile(filepath.Join(h.workDir, "linux", device.DefaultPointerName))
	require.NoError(t, err)
	assert.Equal(t, "Fcitx5", strings.TrimSpace(string(pointer)))
	assert.Equal(t, []string{"ps"}, h.runner.runs)

	out, stderr, code = h.run(t, "--source", "github")
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, out, "Found")
	assert.Len(t, h.runner.runs, 1, "a known default is not detected again")
}

func TestDeviceShowCopiesRecord(t *testing.T) {
	h := newHarness(t)
	_, _, code := h.run(t, "device", "add", "phone")
	require.Equal(t, 0, code)

	var copied string
	orig := writeClipboard
	writeClipboard = func(s string) error {
		copied = s
		return nil
	}
	defer func() { writeClipboard = orig }()

	out, stderr, code := h.run(t, "device", "show", "--copy", "phone")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Hamster")
	assert.Contains(t, out, "Copied to the clipboard")
	assert.Contains(t, copied, "Hamster")
	assert.Contains(t, copied, device.DefaultVersion)
}

func TestDeviceShowDefaultsWithoutRecord(t *testing.T) {
	h := newHarness(t)
	out, stderr, code := h.run(t, "device", "show")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, `name = "Fcitx5"`)
	assert.Contains(t, out, filepath.Join(h.home, ".local", "share", "fcitx5", "rime"))
	assert.NoFileExists(t, filepath.Join(h.workDir, "linux", device.ConfigFileName))
}

func TestDeviceEditOpensRecord(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "device", "edit")
	require.Equal(t, 0, code, stderr)

	path := filepath.Join(h.workDir, "linux", device.ConfigFileName)
	assert.FileExists(t, path)
	require.Len(t, h.runner.spawned, 1)
	assert.Equal(t, []string{"xdg-open", path}, h.runner.spawned[0])
}

func TestClean(t *testing.T) {
	h := newHarness(t)
	cached := filepath.Join(h.workDir, "_cache", "sbsrf.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0755))
	require.NoError(t, os.WriteFile(cached, []byte("zip"), 0644))

	out, stderr, code := h.run(t, "clean")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Removed")
	assert.NoFileExists(t, cached)
	assert.DirExists(t, h.workDir)

	out, _, code = h.run(t, "clean", "--all")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Nothing was changed")
	assert.DirExists(t, h.workDir)

	_, stderr, code = h.run(t, "--yes", "clean", "--all")
	require.Equal(t, 0, code, stderr)
	assert.NoDirExists(t, h.workDir)
}

func TestUnknownSourceIsAConfigurationError(t *testing.T) {
	h := newHarness(t)
	_, stderr, code := h.run(t, "--source", "sourceforge", "device", "list")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "unknown release source")
}
