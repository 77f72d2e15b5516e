package prober

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/utils"
)

type recordingGetter struct {
	mu       sync.Mutex
	requests []string
	fail     map[string]bool
}

func (g *recordingGetter) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, rawURL)
	g.mu.Unlock()
	if g.fail[rawURL] {
		return nil, &models.TransportError{URL: rawURL, Err: errors.New("connection refused")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &models.TransportError{URL: rawURL, Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &models.TransportError{URL: rawURL, Err: err}
	}
	return resp, nil
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestParseManifest(t *testing.T) {
	text := `User-agent: *
Disallow: /admin
disallow:/private
  Disallow:   /tmp/cache
Disallow:
Allow: /public
# Disallow: /commented
Disallowed: /not-a-directive
Sitemap: https://example.com/sitemap.xml
`
	manifest := ParseManifest(text)
	assert.Equal(t, []string{"/admin", "/private", "/tmp/cache"}, manifest.DisallowPaths)
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /admin\nDisallow: /private\n"))
		case "/admin":
			w.WriteHeader(http.StatusForbidden)
		case "/private":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	target, err := models.NewTarget(server.URL, "")
	require.NoError(t, err)

	out := t.TempDir()
	getter := &recordingGetter{}
	p := New(getter, Options{OutputDir: out, SaveManifest: true, UserAgent: "sitesnap", Logger: zerolog.Nop()})

	results, err := p.Probe(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "/admin", results[0].Path)
	assert.True(t, results[0].Reachable)
	assert.Equal(t, http.StatusForbidden, results[0].StatusCode)
	assert.False(t, results[0].Allowed)
	assert.Equal(t, server.URL+"/admin", results[0].URL)

	assert.Equal(t, "/private", results[1].Path)
	assert.True(t, results[1].Reachable)
	assert.Equal(t, http.StatusInternalServerError, results[1].StatusCode)

	// one manifest fetch plus exactly one request per path
	assert.Equal(t, []string{server.URL + "/robots.txt", server.URL + "/admin", server.URL + "/private"}, getter.requests)

	assert.Equal(t, []string{"/admin\treachable\t403", "/private\treachable\t500"}, readLines(t, p.LogPath()))

	saved, err := os.ReadFile(filepath.Join(out, utils.SanitizeFilename(target.Host)+"_robots.txt"))
	if assert.NoError(t, err) {
		assert.Contains(t, string(saved), "Disallow: /admin")
	}
}

func TestProbeTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("Disallow: /admin\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	target, err := models.NewTarget(server.URL, "")
	require.NoError(t, err)

	getter := &recordingGetter{fail: map[string]bool{server.URL + "/private": true}}
	p := New(getter, Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})

	results, err := p.Probe(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Reachable)
	assert.False(t, results[1].Reachable)
	assert.Zero(t, results[1].StatusCode)
	assert.True(t, results[1].Allowed)

	assert.Equal(t, []string{"/admin\treachable\t200", "/private\tunreachable\t-"}, readLines(t, p.LogPath()))
}

func TestProbeMissingManifest(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	target, err := models.NewTarget(server.URL, "")
	require.NoError(t, err)

	getter := &recordingGetter{}
	p := New(getter, Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})

	results, err := p.Probe(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, getter.requests, 1)
	assert.NoFileExists(t, p.LogPath())
}

func TestProbeUnreachableManifest(t *testing.T) {
	target, err := models.NewTarget("http://manifest.invalid", "")
	require.NoError(t, err)

	getter := &recordingGetter{fail: map[string]bool{"http://manifest.invalid/robots.txt": true}}
	p := New(getter, Options{OutputDir: t.TempDir(), Logger: zerolog.Nop()})

	results, err := p.Probe(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "/a\treachable\t200", FormatResult(models.ProbeResult{Path: "/a", Reachable: true, StatusCode: 200}))
	assert.Equal(t, "/b\tunreachable\t-", FormatResult(models.ProbeResult{Path: "/b"}))
}
