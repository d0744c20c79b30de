package tenancy

import "strings"

// ExemptRoutes is the allow-list of path prefixes served outside any
// tenant partition (health checks, platform administration, static assets).
type ExemptRoutes struct {
	prefixes []string
}

// NewExemptRoutes builds the matcher. Trailing slashes are ignored.
func NewExemptRoutes(prefixes []string) ExemptRoutes {
	clean := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimRight(p, "/"); p != "" {
			clean = append(clean, p)
		}
	}
	return ExemptRoutes{prefixes: clean}
}

// Match reports whether path is exempt. A prefix matches itself and any
// path below it, so "/health" matches "/health/ready" but not "/healthz".
func (e ExemptRoutes) Match(path string) bool {
	for _, p := range e.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
