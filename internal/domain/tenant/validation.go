package tenant

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/Strob0t/realtyhub/internal/domain"
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,61}[a-z0-9]$`)

// hostLabel matches a single DNS label after normalization.
var hostLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// reservedSlugs collide with schema names or with subdomains the platform
// itself serves.
var reservedSlugs = map[string]bool{
	"public":             true,
	"www":                true,
	"api":                true,
	"admin":              true,
	"platform":           true,
	"static":             true,
	"information-schema": true,
}

// ValidateSlug checks that slug is URL-safe, not reserved and maps to a
// legal schema name.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug is required", domain.ErrValidation)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug %q must be 3-63 chars of a-z, 0-9 and '-', starting with a letter", domain.ErrValidation, slug)
	}
	if reservedSlugs[slug] || strings.HasPrefix(slug, "pg-") {
		return fmt.Errorf("%w: slug %q is reserved", domain.ErrValidation, slug)
	}
	return nil
}

// SchemaNameFor derives the partition name for a slug. The mapping is
// deterministic and injective because slugs never contain '_'.
func SchemaNameFor(slug string) string {
	return strings.ReplaceAll(slug, "-", "_")
}

// NormalizeHost lowercases host, strips any port and the trailing dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// ValidateHost checks that host is a normalized DNS name with at least two labels.
func ValidateHost(host string) error {
	if host != NormalizeHost(host) {
		return fmt.Errorf("%w: host %q must be lowercase without port", domain.ErrValidation, host)
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: host %q must be a fully qualified domain", domain.ErrValidation, host)
	}
	for _, l := range labels {
		if !hostLabel.MatchString(l) {
			return fmt.Errorf("%w: host %q has an invalid label %q", domain.ErrValidation, host, l)
		}
	}
	return nil
}

// Normalize returns d with every routing key normalized.
func (d Domains) Normalize() Domains {
	return Domains{
		Primary:    NormalizeHost(d.Primary),
		Backoffice: NormalizeHost(d.Backoffice),
		APIHost:    NormalizeHost(d.APIHost),
	}
}

// Validate checks every claimed routing key and rejects duplicates within d.
func (d Domains) Validate() error {
	seen := make(map[string]bool, 3)
	for _, h := range d.Hosts() {
		if err := ValidateHost(h); err != nil {
			return err
		}
		if seen[h] {
			return fmt.Errorf("%w: host %q claimed twice", domain.ErrValidation, h)
		}
		seen[h] = true
	}
	return nil
}

// Validate checks a create request. Domains must already be normalized.
func (r *CreateRequest) Validate() error {
	if err := ValidateSlug(r.Slug); err != nil {
		return err
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return fmt.Errorf("%w: display_name is required", domain.ErrValidation)
	}
	if r.Plan.MaxAgents < 0 || r.Plan.MaxListings < 0 {
		return fmt.Errorf("%w: plan limits must not be negative", domain.ErrValidation)
	}
	return r.Domains.Validate()
}
