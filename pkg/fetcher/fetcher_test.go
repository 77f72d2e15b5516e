package fetcher

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
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/sitesnap/internal/models"
)

type countingProgress struct {
	mu     sync.Mutex
	labels []string
	bytes  int
	done   int
}

func (p *countingProgress) Track(label string, _ int64) Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labels = append(p.labels, label)
	return &countingTracker{p: p}
}

type countingTracker struct{ p *countingProgress }

func (t *countingTracker) Add(n int) {
	t.p.mu.Lock()
	t.p.bytes += n
	t.p.mu.Unlock()
}

func (t *countingTracker) Finish() {
	t.p.mu.Lock()
	t.p.done++
	t.p.mu.Unlock()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><body><img src="/img/a.png"></body></html>`))
		case "/img/a.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("PNGDATA"))
		case "/img/big.bin":
			w.Write([]byte(strings.Repeat("x", 50000)))
		case "/slow/1.png":
			time.Sleep(60 * time.Millisecond)
			w.Write([]byte("one"))
		case "/slow/2.png":
			time.Sleep(30 * time.Millisecond)
			w.Write([]byte("two"))
		case "/slow/3.png":
			w.Write([]byte("three"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestFetcher(t *testing.T, opts Options) *Fetcher {
	t.Helper()
	opts.Logger = zerolog.Nop()
	f, err := New(opts)
	require.NoError(t, err)
	return f
}

func TestDocumentFilename(t *testing.T) {
	assert.Equal(t, "example.com_basic.html", DocumentFilename("example.com", models.ModeBasic))
	assert.Equal(t, "example.com_advanced.html", DocumentFilename("example.com", models.ModeFull))
	assert.Equal(t, "127.0.0.1_8080_basic.html", DocumentFilename("127.0.0.1:8080", models.ModeBasic))
}

func TestFetchDocument(t *testing.T) {
	server := newTestServer(t)
	progress := &countingProgress{}
	f := newTestFetcher(t, Options{Progress: progress})

	dest := filepath.Join(t.TempDir(), "doc.html")
	doc, err := f.FetchDocument(context.Background(), server.URL+"/", dest)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, onDisk, doc.RawBytes)
	assert.Contains(t, string(doc.RawBytes), `<img src="/img/a.png">`)
	assert.Equal(t, "text/html", doc.ContentType)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, len(onDisk), progress.bytes)
	assert.Equal(t, 1, progress.done)
}

func TestFetchDocumentStatusError(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, Options{})

	dest := filepath.Join(t.TempDir(), "doc.html")
	_, err := f.FetchDocument(context.Background(), server.URL+"/nope", dest)
	require.Error(t, err)

	var statusErr *models.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.NoFileExists(t, dest)
}

func TestFetchDocumentTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	deadURL := server.URL
	server.Close()

	f := newTestFetcher(t, Options{Timeout: time.Second})
	_, err := f.FetchDocument(context.Background(), deadURL, filepath.Join(t.TempDir(), "doc.html"))

	var transportErr *models.TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestFetchResourceChunked(t *testing.T) {
	server := newTestServer(t)
	progress := &countingProgress{}
	f := newTestFetcher(t, Options{ChunkSize: 1024, Progress: progress})

	dest := filepath.Join(t.TempDir(), "big.bin")
	rec := f.FetchResource(context.Background(), server.URL+"/img/big.bin", dest)

	require.True(t, rec.Succeeded, rec.Error())
	assert.EqualValues(t, 50000, rec.ByteCount)
	assert.Equal(t, "big.bin", rec.Name)
	assert.Equal(t, 50000, progress.bytes)
	assert.FileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestFetchResourceFailureLeavesNoFile(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, Options{})

	dest := filepath.Join(t.TempDir(), "missing.png")
	rec := f.FetchResource(context.Background(), server.URL+"/img/missing.png", dest)

	assert.False(t, rec.Succeeded)
	var statusErr *models.HTTPStatusError
	assert.True(t, errors.As(rec.Err, &statusErr))
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchImagesLongName(t *testing.T) {
	segment := strings.Repeat("a", 250) + ".png"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("LONG"))
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{})
	resources := []models.ResolvedResource{
		{OriginalRef: "/" + segment, AbsoluteURL: server.URL + "/" + segment, Kind: models.KindImage},
	}

	staging := t.TempDir()
	records, err := f.FetchImages(context.Background(), resources, staging)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.True(t, records[0].Succeeded, records[0].Error())
	assert.Equal(t, segment, records[0].Name)
	data, err := os.ReadFile(records[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "LONG", string(data))

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0000", entries[0].Name())
}

func TestFetchImagesPartialFailure(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, Options{})

	resources := []models.ResolvedResource{
		{OriginalRef: "/main.css", AbsoluteURL: server.URL + "/main.css", Kind: models.KindStylesheet},
		{OriginalRef: "/img/a.png", AbsoluteURL: server.URL + "/img/a.png", Kind: models.KindImage},
		{OriginalRef: "/img/missing.png", AbsoluteURL: server.URL + "/img/missing.png", Kind: models.KindImage},
		{OriginalRef: "", Kind: models.KindImage, Err: &models.ResolutionError{Reason: models.ReasonEmptyReference}},
	}

	staging := filepath.Join(t.TempDir(), "staging")
	records, err := f.FetchImages(context.Background(), resources, staging)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.True(t, records[0].Succeeded)
	assert.Equal(t, "a.png", records[0].Name)
	data, err := os.ReadFile(records[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	assert.False(t, records[1].Succeeded)
	assert.Equal(t, server.URL+"/img/missing.png", records[1].URL)

	assert.False(t, records[2].Succeeded)
	var resErr *models.ResolutionError
	assert.True(t, errors.As(records[2].Err, &resErr))
}

func TestFetchImagesOrderIndependentOfCompletion(t *testing.T) {
	server := newTestServer(t)
	f := newTestFetcher(t, Options{Concurrency: 3})

	var resources []models.ResolvedResource
	for _, p := range []string{"/slow/1.png", "/slow/2.png", "/slow/3.png"} {
		resources = append(resources, models.ResolvedResource{OriginalRef: p, AbsoluteURL: server.URL + p, Kind: models.KindImage})
	}

	records, err := f.FetchImages(context.Background(), resources, t.TempDir())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, name := range []string{"1.png", "2.png", "3.png"} {
		assert.True(t, records[i].Succeeded)
		assert.Equal(t, name, records[i].Name)
	}
}

func TestFetchImagesNoImages(t *testing.T) {
	f := newTestFetcher(t, Options{})
	staging := filepath.Join(t.TempDir(), "never")

	records, err := f.FetchImages(context.Background(), nil, staging)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoDirExists(t, staging)
}

func TestGetSetsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	f := newTestFetcher(t, Options{UserAgent: "sitesnap-test"})
	resp, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "sitesnap-test", got)
}
