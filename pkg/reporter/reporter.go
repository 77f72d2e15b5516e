package reporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/prober"
)

// Reporter renders run summaries in various formats
type Reporter struct{}

// New creates a new Reporter instance
func New() *Reporter {
	return &Reporter{}
}

// GenerateReport renders result in the requested format
func (r *Reporter) GenerateReport(result *models.HarvestResult, format string) (string, error) {
	if result == nil {
		return "", fmt.Errorf("no result to report")
	}

	switch format {
	case "", "text":
		return r.generateText(result), nil
	case "json":
		return r.generateJSON(result)
	case "html":
		return r.generateHTML(result)
	case "markdown":
		return r.generateMarkdown(result), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// GenerateProbeReport renders probe results as plain text lines
func (r *Reporter) GenerateProbeReport(results []models.ProbeResult) string {
	if len(results) == 0 {
		return "No disallowed paths probed.\n"
	}
	var sb strings.Builder
	for _, res := range results {
		sb.WriteString(prober.FormatResult(res))
		sb.WriteString("\n")
	}
	return sb.String()
}

// reportView adds the error strings that models keep out of JSON
type reportView struct {
	*models.HarvestResult
	Failures []failure `json:"failures,omitempty"`
}

type failure struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

func newView(result *models.HarvestResult) reportView {
	view := reportView{HarvestResult: result}
	for _, res := range result.Resources {
		if !res.Resolved() && res.Err != nil {
			view.Failures = append(view.Failures, failure{Kind: "resolve", Target: res.OriginalRef, Error: res.Err.Error()})
		}
	}
	for _, rec := range result.Images {
		if !rec.Succeeded && rec.Err != nil {
			var resErr *models.ResolutionError
			if errors.As(rec.Err, &resErr) {
				continue
			}
			view.Failures = append(view.Failures, failure{Kind: "download", Target: rec.URL, Error: rec.Error()})
		}
	}
	return view
}

// generateJSON creates a JSON formatted report
func (r *Reporter) generateJSON(result *models.HarvestResult) (string, error) {
	data, err := json.MarshalIndent(newView(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

func (r *Reporter) generateText(result *models.HarvestResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Website Name: %s\n", result.Target.DisplayName)
	fmt.Fprintf(&sb, "Mode: %s\n", result.Mode)
	fmt.Fprintf(&sb, "Document: %s (%d bytes)\n", result.Document.URL, result.Document.ByteCount)
	if result.Mode == models.ModeFull {
		refs := result.References
		fmt.Fprintf(&sb, "Found resources: %d stylesheets, %d scripts, %d images\n",
			len(refs.Stylesheets), len(refs.Scripts), len(refs.Images))
		fmt.Fprintf(&sb, "Images: %d downloaded, %d failed\n",
			len(result.Images)-result.FailedImages(), result.FailedImages())
	}
	for _, f := range newView(result).Failures {
		fmt.Fprintf(&sb, "  %s failed: %s (%s)\n", f.Kind, f.Target, f.Error)
	}
	if b := result.Bundle; b != nil {
		if b.Archived() {
			fmt.Fprintf(&sb, "Files zipped into %s\n", b.ArchivePath)
		} else {
			fmt.Fprintf(&sb, "All files saved in %s\n", b.FolderPath)
		}
	}
	if result.Removed != "" {
		fmt.Fprintf(&sb, "File %s deleted.\n", result.Removed)
	}
	if len(result.Probes) > 0 {
		sb.WriteString("Probed paths:\n")
		sb.WriteString(r.GenerateProbeReport(result.Probes))
	}
	return sb.String()
}

func (r *Reporter) generateMarkdown(result *models.HarvestResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Snapshot of %s\n\n", result.Target.DisplayName)
	fmt.Fprintf(&sb, "- **URL:** %s\n", result.Target.BaseURL)
	fmt.Fprintf(&sb, "- **Mode:** %s\n", result.Mode)
	fmt.Fprintf(&sb, "- **Run:** %s\n", result.RunID)
	if b := result.Bundle; b != nil {
		if b.Archived() {
			fmt.Fprintf(&sb, "- **Archive:** %s\n", b.ArchivePath)
		} else {
			fmt.Fprintf(&sb, "- **Folder:** %s\n", b.FolderPath)
		}
	}

	if len(result.Images) > 0 {
		sb.WriteString("\n## Images\n\n| URL | File | Bytes | Status |\n|-----|------|-------|--------|\n")
		for _, rec := range result.Images {
			status := "ok"
			if !rec.Succeeded {
				status = "failed: " + rec.Error()
			}
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", rec.URL, rec.Name, rec.ByteCount, status)
		}
	}

	if len(result.Probes) > 0 {
		sb.WriteString("\n## Disallowed paths\n\n| Path | Reachable | Status |\n|------|-----------|--------|\n")
		for _, p := range result.Probes {
			fmt.Fprintf(&sb, "| %s | %t | %d |\n", p.Path, p.Reachable, p.StatusCode)
		}
	}
	return sb.String()
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Snapshot - {{.Target.DisplayName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; max-width: 1000px; margin: 0 auto; padding: 20px; }
        table { border-collapse: collapse; width: 100%; }
        td, th { border-bottom: 1px solid #ddd; padding: 0.4rem; text-align: left; }
        .failed { color: #dc3545; }
    </style>
</head>
<body>
    <h1>Snapshot of {{.Target.DisplayName}}</h1>
    <p>{{.Target.BaseURL}} ({{.Mode}}), generated {{.FinishedAt.Format "January 2, 2006 15:04"}}</p>
    {{if .Bundle}}<p>{{if .Bundle.ArchivePath}}Archive: {{.Bundle.ArchivePath}}{{else}}Folder: {{.Bundle.FolderPath}}{{end}}</p>{{end}}
    {{if .Images}}
    <h2>Images</h2>
    <table>
        <tr><th>URL</th><th>File</th><th>Bytes</th></tr>
        {{range .Images}}<tr{{if not .Succeeded}} class="failed"{{end}}><td>{{.URL}}</td><td>{{.Name}}</td><td>{{.ByteCount}}</td></tr>
        {{end}}
    </table>
    {{end}}
    {{if .Probes}}
    <h2>Disallowed paths</h2>
    <table>
        <tr><th>Path</th><th>Reachable</th><th>Status</th></tr>
        {{range .Probes}}<tr><td>{{.Path}}</td><td>{{.Reachable}}</td><td>{{.StatusCode}}</td></tr>
        {{end}}
    </table>
    {{end}}
</body>
</html>`

// generateHTML creates an HTML formatted report
func (r *Reporter) generateHTML(result *models.HarvestResult) (string, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, result); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
