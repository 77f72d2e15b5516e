package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/utils"
)

const defaultChunkSize = 8192

// Options controls HTTP fetching behaviour
type Options struct {
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	ChunkSize         int
	Concurrency       int
	Progress          Progress
	Logger            zerolog.Logger
	// Client replaces the default client, mainly for tests.
	Client *http.Client
}

// Fetcher streams documents and resources to local files
type Fetcher struct {
	client      *http.Client
	limiter     *rate.Limiter
	userAgent   string
	chunkSize   int
	concurrency int
	progress    Progress
	logger      zerolog.Logger
}

// New creates a Fetcher from opts
func New(opts Options) (*Fetcher, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Progress == nil {
		opts.Progress = NopProgress{}
	}

	client := opts.Client
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		transport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     30 * time.Second,
		}
		client = &http.Client{Transport: transport, Timeout: opts.Timeout, Jar: jar}
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if b := int(opts.RequestsPerSecond); b > burst {
			burst = b
		}
	}

	return &Fetcher{
		client:      client,
		limiter:     rate.NewLimiter(limit, burst),
		userAgent:   opts.UserAgent,
		chunkSize:   opts.ChunkSize,
		concurrency: opts.Concurrency,
		progress:    opts.Progress,
		logger:      opts.Logger,
	}, nil
}

// DocumentFilename names the loose document file for host and mode
func DocumentFilename(host string, mode models.Mode) string {
	return utils.SanitizeFilename(host) + "_" + mode.DocumentSuffix() + ".html"
}

// ResourceFilename names a downloaded resource after its last path segment
func ResourceFilename(absURL string) string {
	return utils.LastPathSegment(absURL)
}

// Get issues a rate-limited GET. Any returned error is a *models.TransportError.
// The caller owns the response body.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &models.TransportError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &models.TransportError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{URL: rawURL, Err: err}
	}
	return resp, nil
}

// FetchDocument downloads the primary page into dest and keeps a copy of
// its bytes for parsing. The body is written chunk by chunk as it arrives.
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL, dest string) (*models.FetchedDocument, error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &models.HTTPStatusError{URL: rawURL, Code: resp.StatusCode}
	}

	file, err := os.Create(dest)
	if err != nil {
		return nil, &models.FilesystemError{Op: "create", Path: dest, Err: err}
	}

	var buf bytes.Buffer
	tracker := f.progress.Track("Downloading "+filepath.Base(dest), resp.ContentLength)
	_, err = f.stream(rawURL, dest, resp.Body, io.MultiWriter(file, &buf), tracker)
	tracker.Finish()
	if cerr := file.Close(); err == nil && cerr != nil {
		err = &models.FilesystemError{Op: "close", Path: dest, Err: cerr}
	}
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	f.logger.Debug().Str("url", rawURL).Str("path", dest).Int("bytes", buf.Len()).Msg("document saved")

	return &models.FetchedDocument{
		SourceURL:   rawURL,
		RawBytes:    buf.Bytes(),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		LocalPath:   dest,
	}, nil
}

// FetchResource downloads rawURL into dest. Failures never escape as an
// error; they are recorded on the returned DownloadRecord. The body is
// written to a short-named ".part" file next to dest that is renamed into
// place only on success.
func (f *Fetcher) FetchResource(ctx context.Context, rawURL, dest string) models.DownloadRecord {
	rec := models.DownloadRecord{URL: rawURL, Name: ResourceFilename(rawURL), LocalPath: dest}

	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		rec.Err = err
		return rec
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		rec.Err = &models.HTTPStatusError{URL: rawURL, Code: resp.StatusCode}
		return rec
	}

	file, err := os.CreateTemp(filepath.Dir(dest), ".*.part")
	if err != nil {
		rec.Err = &models.FilesystemError{Op: "create", Path: dest, Err: err}
		return rec
	}
	part := file.Name()

	tracker := f.progress.Track("Downloading "+rec.Name, resp.ContentLength)
	n, err := f.stream(rawURL, part, resp.Body, file, tracker)
	tracker.Finish()
	if cerr := file.Close(); err == nil && cerr != nil {
		err = &models.FilesystemError{Op: "close", Path: part, Err: cerr}
	}
	if err == nil {
		if rerr := os.Rename(part, dest); rerr != nil {
			err = &models.FilesystemError{Op: "rename", Path: dest, Err: rerr}
		}
	}
	if err != nil {
		os.Remove(part)
		rec.Err = err
		return rec
	}

	rec.ByteCount = n
	rec.Succeeded = true
	return rec
}

// FetchImages downloads every image resource into stagingDir. Records keep
// the order of resources regardless of how many fetches run at once, and
// the call returns only after every attempt has settled. Unresolved
// resources are recorded as failed without a request.
func (f *Fetcher) FetchImages(ctx context.Context, resources []models.ResolvedResource, stagingDir string) ([]models.DownloadRecord, error) {
	var images []models.ResolvedResource
	for _, res := range resources {
		if res.Kind == models.KindImage {
			images = append(images, res)
		}
	}
	if len(images) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, &models.FilesystemError{Op: "mkdir", Path: stagingDir, Err: err}
	}

	records := make([]models.DownloadRecord, len(images))
	var g errgroup.Group
	g.SetLimit(f.concurrency)

	for i, res := range images {
		i, res := i, res
		if !res.Resolved() {
			records[i] = models.DownloadRecord{URL: res.OriginalRef, Err: res.Err}
			f.logger.Warn().Str("ref", res.OriginalRef).Err(res.Err).Msg("skipping unresolved image")
			continue
		}
		g.Go(func() error {
			// Staged by index; rec.Name keeps the bundle name.
			dest := filepath.Join(stagingDir, fmt.Sprintf("%04d", i))
			rec := f.FetchResource(ctx, res.AbsoluteURL, dest)
			if !rec.Succeeded {
				f.logger.Warn().Str("url", rec.URL).Err(rec.Err).Msg("image download failed")
			}
			records[i] = rec
			return nil
		})
	}
	// Goroutines never return an error; failures live on the records.
	_ = g.Wait()

	return records, nil
}

// stream copies src to dst in fixed-size chunks, reporting each chunk to
// tracker. Read failures are transport errors, write failures filesystem
// errors.
func (f *Fetcher) stream(rawURL, dest string, src io.Reader, dst io.Writer, tracker Tracker) (int64, error) {
	buf := make([]byte, f.chunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, &models.FilesystemError{Op: "write", Path: dest, Err: werr}
			}
			total += int64(n)
			tracker.Add(n)
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, &models.TransportError{URL: rawURL, Err: rerr}
		}
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
