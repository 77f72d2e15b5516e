package prober

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/resolver"
	"github.com/amosWeiskopf/sitesnap/pkg/utils"
)

const maxManifestBytes = 512 * 1024

// Getter issues GET requests. Errors must be transport-level only.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// Options configures a Prober
type Options struct {
	OutputDir    string
	ManifestPath string
	LogFile      string
	SaveManifest bool
	UserAgent    string
	Logger       zerolog.Logger
}

// Prober checks which Disallow paths of a site still answer
type Prober struct {
	client Getter
	opts   Options
}

// New creates a Prober
func New(client Getter, opts Options) *Prober {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = "robots.txt"
	}
	if opts.LogFile == "" {
		opts.LogFile = "directories.txt"
	}
	return &Prober{client: client, opts: opts}
}

// LogPath is where probe results are appended
func (p *Prober) LogPath() string {
	return filepath.Join(p.opts.OutputDir, p.opts.LogFile)
}

// ParseManifest collects the value of every Disallow line. Empty values
// are skipped since they disallow nothing.
func ParseManifest(text string) models.ExclusionManifest {
	manifest := models.ExclusionManifest{DisallowPaths: []string{}}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "disallow") {
			continue
		}
		if path := strings.TrimSpace(value); path != "" {
			manifest.DisallowPaths = append(manifest.DisallowPaths, path)
		}
	}
	return manifest
}

// Probe fetches the target's manifest and requests each Disallow path.
// A missing or unreachable manifest yields no results and no error. Any
// response counts as reachable; only transport failures do not.
func (p *Prober) Probe(ctx context.Context, target models.Target) ([]models.ProbeResult, error) {
	logger := p.opts.Logger.With().Str("target", target.BaseURL).Logger()
	manifestURL := resolver.Join(target.BaseURL, p.opts.ManifestPath)

	body, ok := p.fetchManifest(ctx, manifestURL, logger)
	if !ok {
		return []models.ProbeResult{}, nil
	}

	if p.opts.SaveManifest {
		name := utils.SanitizeFilename(target.Host) + "_" + utils.LastPathSegment(manifestURL)
		path := filepath.Join(p.opts.OutputDir, name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return nil, &models.FilesystemError{Op: "write", Path: path, Err: err}
		}
		logger.Debug().Str("path", path).Msg("manifest saved")
	}

	manifest := ParseManifest(string(body))
	results := make([]models.ProbeResult, 0, len(manifest.DisallowPaths))
	if len(manifest.DisallowPaths) == 0 {
		logger.Info().Msg("manifest lists no disallowed paths")
		return results, nil
	}

	var group *robotstxt.Group
	if rules, err := robotstxt.FromBytes(body); err == nil {
		group = rules.FindGroup(p.opts.UserAgent)
	}

	logPath := p.LogPath()
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &models.FilesystemError{Op: "open", Path: logPath, Err: err}
	}
	defer logFile.Close()

	for _, path := range manifest.DisallowPaths {
		result := p.probePath(ctx, target.BaseURL, path)
		result.Allowed = group == nil || group.Test(path)
		results = append(results, result)

		logger.Info().Str("path", path).Bool("reachable", result.Reachable).Int("status", result.StatusCode).Msg("probed")
		if _, err := fmt.Fprintln(logFile, FormatResult(result)); err != nil {
			return results, &models.FilesystemError{Op: "write", Path: logPath, Err: err}
		}
	}

	if err := logFile.Close(); err != nil {
		return results, &models.FilesystemError{Op: "close", Path: logPath, Err: err}
	}
	return results, nil
}

// FormatResult renders a result as one tab-separated log line
func FormatResult(r models.ProbeResult) string {
	state, status := "unreachable", "-"
	if r.Reachable {
		state, status = "reachable", strconv.Itoa(r.StatusCode)
	}
	return r.Path + "\t" + state + "\t" + status
}

func (p *Prober) fetchManifest(ctx context.Context, manifestURL string, logger zerolog.Logger) ([]byte, bool) {
	resp, err := p.client.Get(ctx, manifestURL)
	if err != nil {
		logger.Warn().Err(err).Str("url", manifestURL).Msg("manifest unreachable")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn().Int("status", resp.StatusCode).Str("url", manifestURL).Msg("manifest unavailable")
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		logger.Warn().Err(err).Str("url", manifestURL).Msg("manifest read failed")
		return nil, false
	}
	return body, true
}

func (p *Prober) probePath(ctx context.Context, baseURL, path string) models.ProbeResult {
	probeURL := resolver.Join(baseURL, path)
	result := models.ProbeResult{Path: path, URL: probeURL}

	resp, err := p.client.Get(ctx, probeURL)
	if err != nil {
		return result
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxManifestBytes))
	resp.Body.Close()

	result.Reachable = true
	result.StatusCode = resp.StatusCode
	return result
}
