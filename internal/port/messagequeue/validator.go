package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectTenantProvision:
		var p ProvisionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Slug == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingSlug)
		}
	case SubjectTenantInvalidate:
		var p InvalidatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Slug == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingSlug)
		}
	}
	return nil
}

var errMissingSlug = errors.New("slug is required")
