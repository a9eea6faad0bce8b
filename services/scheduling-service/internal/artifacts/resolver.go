// Package artifacts resolves opaque consent/receipt storage references to
// public URLs. The artifacts themselves (upload, rendering) are owned by an
// external blob store; the scheduling core only hands out links.
package artifacts

import (
	"net/url"
	"strings"

	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
)

type Resolver struct {
	baseURL string
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// PublicURL maps a stored artifact reference to a downloadable URL.
func (r *Resolver) PublicURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", faults.Validation("ref", "artifact reference is required")
	}
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(ref, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return r.baseURL + "/" + strings.Join(escaped, "/"), nil
}
