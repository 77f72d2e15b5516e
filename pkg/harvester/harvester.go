package harvester

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/sitesnap/internal/config"
	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/bundle"
	"github.com/amosWeiskopf/sitesnap/pkg/extractor"
	"github.com/amosWeiskopf/sitesnap/pkg/fetcher"
	"github.com/amosWeiskopf/sitesnap/pkg/prober"
	"github.com/amosWeiskopf/sitesnap/pkg/resolver"
	"github.com/amosWeiskopf/sitesnap/pkg/utils"
)

// ErrAborted is returned when the run was declined before it started
var ErrAborted = errors.New("download cancelled")

// Options selects what a single run does
type Options struct {
	Mode    models.Mode
	Archive bool
	Probe   bool
	// Confirm, when set, is asked before any network or disk activity.
	// Returning false aborts the run with ErrAborted.
	Confirm func(models.Target) bool
}

// Harvester runs the fetch, extract, resolve and bundle pipeline for a target
type Harvester struct {
	cfg       *config.Config
	fetcher   *fetcher.Fetcher
	extractor *extractor.Extractor
	resolver  *resolver.Resolver
	assembler *bundle.Assembler
	prober    *prober.Prober
	logger    zerolog.Logger
}

// New wires a Harvester from configuration
func New(cfg *config.Config, logger zerolog.Logger, progress fetcher.Progress) (*Harvester, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	f, err := fetcher.New(fetcher.Options{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           cfg.Fetch.Timeout,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		ChunkSize:         cfg.Fetch.ChunkSize,
		Concurrency:       cfg.Fetch.Concurrency,
		Progress:          progress,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	return &Harvester{
		cfg:       cfg,
		fetcher:   f,
		extractor: extractor.New(),
		resolver:  resolver.New(cfg.Harvest.StrictScheme),
		assembler: bundle.New(cfg.Harvest.OutputDir, logger),
		prober: prober.New(f, prober.Options{
			OutputDir:    cfg.Harvest.OutputDir,
			ManifestPath: cfg.Probe.ManifestPath,
			LogFile:      cfg.Probe.LogFile,
			SaveManifest: cfg.Probe.SaveManifest,
			UserAgent:    cfg.Fetch.UserAgent,
			Logger:       logger,
		}),
		logger: logger,
	}, nil
}

// Run harvests target. In full mode the page's images are fetched and
// bundled next to it; in basic mode only the page is bundled. Image
// failures are recorded on the result and never abort the run. Document,
// filesystem and probe log failures do.
func (h *Harvester) Run(ctx context.Context, target models.Target, opts Options) (*models.HarvestResult, error) {
	if opts.Mode == "" {
		opts.Mode = models.ModeBasic
	}
	if opts.Confirm != nil && !opts.Confirm(target) {
		return nil, ErrAborted
	}

	result := &models.HarvestResult{
		RunID:     uuid.NewString(),
		Target:    target,
		Mode:      opts.Mode,
		StartedAt: time.Now(),
	}
	logger := h.logger.With().Str("run_id", result.RunID).Str("target", target.BaseURL).Logger()
	logger.Info().Str("name", target.DisplayName).Str("mode", string(opts.Mode)).Msg("starting harvest")

	if h.cfg.Fetch.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Fetch.RunTimeout)
		defer cancel()
	}

	outputDir := h.outputDir()
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, &models.FilesystemError{Op: "mkdir", Path: outputDir, Err: err}
	}

	docPath := filepath.Join(outputDir, fetcher.DocumentFilename(target.Host, opts.Mode))
	doc, err := h.fetcher.FetchDocument(ctx, target.BaseURL, docPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load document")
		return result, fmt.Errorf("fetch document: %w", err)
	}
	result.Document = models.DownloadRecord{
		URL:       doc.SourceURL,
		Name:      filepath.Base(docPath),
		LocalPath: docPath,
		ByteCount: int64(len(doc.RawBytes)),
		Succeeded: true,
	}
	logger.Info().Str("path", docPath).Int64("bytes", result.Document.ByteCount).Msg("document downloaded")

	staging, err := os.MkdirTemp(outputDir, ".sitesnap-staging-")
	if err != nil {
		return result, &models.FilesystemError{Op: "mkdir", Path: outputDir, Err: err}
	}
	defer os.RemoveAll(staging)

	if opts.Mode == models.ModeFull {
		if err := h.collectResources(ctx, doc, staging, result, logger); err != nil {
			return result, err
		}
	}

	extras := h.extractText(target, doc, staging, logger)

	b, err := h.assembler.Assemble(bundle.Request{
		Target:   target,
		Mode:     opts.Mode,
		Document: result.Document,
		Images:   result.Images,
		Extras:   extras,
		Archive:  opts.Archive,
	})
	result.Bundle = b
	if err != nil {
		logger.Error().Err(err).Msg("failed to assemble bundle")
		return result, fmt.Errorf("assemble bundle: %w", err)
	}

	removed, err := bundle.Cleanup(
		filepath.Join(outputDir, fetcher.DocumentFilename(target.Host, models.ModeBasic)),
		filepath.Join(outputDir, fetcher.DocumentFilename(target.Host, models.ModeFull)),
	)
	result.Removed = removed
	if err != nil {
		logger.Error().Err(err).Msg("error deleting files")
	} else if removed != "" {
		logger.Debug().Str("path", removed).Msg("file deleted")
	}

	if opts.Probe {
		probes, err := h.prober.Probe(ctx, target)
		result.Probes = probes
		if err != nil {
			return result, fmt.Errorf("probe exclusion manifest: %w", err)
		}
	}

	result.FinishedAt = time.Now()
	logger.Info().
		Int("images", len(result.Images)).
		Int("failed_images", result.FailedImages()).
		Int("unresolved", result.UnresolvedCount()).
		Msg("harvest complete")
	return result, nil
}

// Probe runs only the exclusion-manifest probe for target
func (h *Harvester) Probe(ctx context.Context, target models.Target, confirm func(models.Target) bool) ([]models.ProbeResult, error) {
	if confirm != nil && !confirm(target) {
		return nil, ErrAborted
	}
	if err := os.MkdirAll(h.outputDir(), 0o755); err != nil {
		return nil, &models.FilesystemError{Op: "mkdir", Path: h.outputDir(), Err: err}
	}
	return h.prober.Probe(ctx, target)
}

// ProbeLogPath is where probe results are written
func (h *Harvester) ProbeLogPath() string {
	return h.prober.LogPath()
}

func (h *Harvester) collectResources(ctx context.Context, doc *models.FetchedDocument, staging string, result *models.HarvestResult, logger zerolog.Logger) error {
	parsed, err := h.extractor.Parse(doc.RawBytes)
	if err != nil {
		return fmt.Errorf("extract references: %w", err)
	}

	result.References = h.extractor.Extract(parsed)
	logger.Info().
		Strs("stylesheets", result.References.Stylesheets).
		Strs("scripts", result.References.Scripts).
		Strs("images", result.References.Images).
		Msg("found resources")

	result.Resources = h.resolver.ResolveAll(doc.SourceURL, result.References)
	for _, res := range result.Resources {
		if !res.Resolved() {
			logger.Warn().Str("kind", string(res.Kind)).Str("ref", res.OriginalRef).Err(res.Err).Msg("unresolved reference")
		}
	}

	images, err := h.fetcher.FetchImages(ctx, result.Resources, staging)
	if err != nil {
		return fmt.Errorf("fetch images: %w", err)
	}
	result.Images = images
	return nil
}

func (h *Harvester) extractText(target models.Target, doc *models.FetchedDocument, staging string, logger zerolog.Logger) []models.DownloadRecord {
	if !h.cfg.Harvest.ExtractText {
		return nil
	}

	text, err := h.extractor.ExtractText(doc.RawBytes)
	if err != nil {
		logger.Warn().Err(err).Msg("text extraction failed")
		return nil
	}

	name := utils.SanitizeFilename(target.Host) + "_content.txt"
	path := filepath.Join(staging, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to save page text")
		return nil
	}
	return []models.DownloadRecord{{
		URL:       doc.SourceURL,
		Name:      name,
		LocalPath: path,
		ByteCount: int64(len(text)),
		Succeeded: true,
	}}
}

func (h *Harvester) outputDir() string {
	if h.cfg.Harvest.OutputDir == "" {
		return "."
	}
	return h.cfg.Harvest.OutputDir
}

// Confirm asks a yes/no question on out and reads the answer from in.
// Only "yes" or "y" proceeds.
func Confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Do you want to proceed? (yes/no): ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}
