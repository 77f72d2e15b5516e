package resolver

import (
	"net/url"
	"strings"

	"github.com/amosWeiskopf/sitesnap/internal/models"
)

// Resolver turns raw references into absolute URLs.
//
// The default mode treats any reference containing "http" as already
// absolute and never joins it to the base. Such a reference that does not
// parse as an absolute URL, like "/http-docs/a.png", is malformed. Strict
// mode only accepts a parsed scheme prefix.
type Resolver struct {
	Strict bool
}

// New creates a Resolver
func New(strict bool) *Resolver {
	return &Resolver{Strict: strict}
}

// Resolve converts ref into an absolute URL relative to base
func (r *Resolver) Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &models.ResolutionError{Reference: ref, Reason: models.ReasonEmptyReference}
	}

	var resolved string
	switch {
	case r.isAbsolute(ref):
		resolved = ref
	case strings.HasPrefix(ref, "//"):
		b, err := url.Parse(base)
		if err != nil || b.Scheme == "" {
			return "", &models.ResolutionError{Reference: ref, Reason: models.ReasonMalformedReference}
		}
		resolved = b.Scheme + ":" + ref
	default:
		resolved = Join(base, ref)
	}

	u, err := url.Parse(resolved)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", &models.ResolutionError{Reference: ref, Reason: models.ReasonMalformedReference}
	}
	return resolved, nil
}

// ResolveAll resolves every reference in refs, keeping document order
// within each kind: stylesheets, then scripts, then images.
func (r *Resolver) ResolveAll(base string, refs models.ReferenceSet) []models.ResolvedResource {
	out := make([]models.ResolvedResource, 0, refs.Total())
	add := func(kind models.ResourceKind, list []string) {
		for _, ref := range list {
			res := models.ResolvedResource{OriginalRef: ref, Kind: kind}
			abs, err := r.Resolve(base, ref)
			if err != nil {
				res.Err = err
			} else {
				res.AbsoluteURL = abs
			}
			out = append(out, res)
		}
	}
	add(models.KindStylesheet, refs.Stylesheets)
	add(models.KindScript, refs.Scripts)
	add(models.KindImage, refs.Images)
	return out
}

func (r *Resolver) isAbsolute(ref string) bool {
	if !r.Strict {
		return strings.Contains(ref, "http")
	}
	u, err := url.Parse(ref)
	return err == nil && u.IsAbs()
}

// Join concatenates base and ref with exactly one separator. It does no
// path merging: a path already present on base is kept as-is.
func Join(base, ref string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}
