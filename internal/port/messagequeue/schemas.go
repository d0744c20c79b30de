package messagequeue

import "time"

// ProvisionPayload is the schema for tenants.provision messages.
type ProvisionPayload struct {
	Slug   string `json:"slug"`
	Repair bool   `json:"repair,omitempty"`
}

// InvalidatePayload is the schema for tenants.invalidate messages. Hosts
// lists every routing key the tenant held before and after the change.
type InvalidatePayload struct {
	Slug    string    `json:"slug"`
	Hosts   []string  `json:"hosts,omitempty"`
	Version time.Time `json:"version,omitzero"` // tenant updated_at after the change
	Origin  string    `json:"origin,omitempty"` // replica id of the publisher
}
