package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Mode selects how much of a target is harvested
type Mode string

const (
	// ModeBasic fetches the document only
	ModeBasic Mode = "basic"
	// ModeFull fetches the document plus the images it references
	ModeFull Mode = "full"
)

// DocumentSuffix is the suffix used for the loose document file name.
func (m Mode) DocumentSuffix() string {
	if m == ModeFull {
		return "advanced"
	}
	return "basic"
}

// Target is the site a run operates against
type Target struct {
	BaseURL     string `json:"base_url"`
	DisplayName string `json:"display_name"`
	Host        string `json:"host"`
}

// NewTarget validates rawURL and builds a Target. An empty displayName
// falls back to the URL host.
func NewTarget(rawURL, displayName string) (Target, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Target{}, fmt.Errorf("target URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Target{}, fmt.Errorf("invalid URL %q: scheme and host are required", rawURL)
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = u.Host
	}
	return Target{BaseURL: rawURL, DisplayName: name, Host: u.Host}, nil
}

// FetchedDocument is the primary page of a run
type FetchedDocument struct {
	SourceURL   string `json:"source_url"`
	RawBytes    []byte `json:"-"`
	ContentType string `json:"content_type"`
	StatusCode  int    `json:"status_code"`
	LocalPath   string `json:"local_path"`
}

// ResourceKind tags what a reference points at
type ResourceKind string

const (
	KindStylesheet ResourceKind = "stylesheet"
	KindScript     ResourceKind = "script"
	KindImage      ResourceKind = "image"
)

// ReferenceSet holds raw, unresolved references in document order.
// Duplicates are kept.
type ReferenceSet struct {
	Stylesheets []string `json:"stylesheets"`
	Scripts     []string `json:"scripts"`
	Images      []string `json:"images"`
}

// Total returns the number of references across all kinds
func (r ReferenceSet) Total() int {
	return len(r.Stylesheets) + len(r.Scripts) + len(r.Images)
}

// ResolvedResource is a reference after resolution. AbsoluteURL is empty
// when resolution failed and Err says why.
type ResolvedResource struct {
	OriginalRef string       `json:"original_ref"`
	AbsoluteURL string       `json:"absolute_url,omitempty"`
	Kind        ResourceKind `json:"kind"`
	Err         error        `json:"-"`
}

// Resolved reports whether the resource has a usable URL
func (r ResolvedResource) Resolved() bool {
	return r.AbsoluteURL != ""
}

// DownloadRecord is the outcome of one attempted fetch
type DownloadRecord struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
	ByteCount int64  `json:"byte_count"`
	Succeeded bool   `json:"succeeded"`
	Err       error  `json:"-"`
}

// Error returns the failure message, if any
func (d DownloadRecord) Error() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// Bundle is the output of a run
type Bundle struct {
	FolderPath  string           `json:"folder_path"`
	Members     []DownloadRecord `json:"members"`
	ArchivePath string           `json:"archive_path,omitempty"`
}

// Archived reports whether the folder was packed and removed
func (b *Bundle) Archived() bool {
	return b != nil && b.ArchivePath != ""
}

// ExclusionManifest holds the Disallow paths parsed from robots.txt
type ExclusionManifest struct {
	DisallowPaths []string `json:"disallow_paths"`
}

// ProbeResult records whether a disallowed path answered at all.
// Reachable ignores the status code; only transport failures count.
type ProbeResult struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code,omitempty"`
	Allowed    bool   `json:"allowed"`
}

// HarvestResult summarises a whole run
type HarvestResult struct {
	RunID      string             `json:"run_id"`
	Target     Target             `json:"target"`
	Mode       Mode               `json:"mode"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Document   DownloadRecord     `json:"document"`
	References ReferenceSet       `json:"references"`
	Resources  []ResolvedResource `json:"resources"`
	Images     []DownloadRecord   `json:"images"`
	Bundle     *Bundle            `json:"bundle,omitempty"`
	Removed    string             `json:"removed,omitempty"`
	Probes     []ProbeResult      `json:"probes,omitempty"`
}

// FailedImages counts image fetches that did not succeed
func (h *HarvestResult) FailedImages() int {
	n := 0
	for _, rec := range h.Images {
		if !rec.Succeeded {
			n++
		}
	}
	return n
}

// UnresolvedCount counts references that could not be resolved
func (h *HarvestResult) UnresolvedCount() int {
	n := 0
	for _, r := range h.Resources {
		if !r.Resolved() {
			n++
		}
	}
	return n
}
