package tenant

import (
	"fmt"
	"strings"
	"time"
)

// TableResult is the tagged outcome of cloning one shared table into a
// tenant partition. Error is empty on success.
type TableResult struct {
	Table    string `json:"table"`
	Required bool   `json:"required"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the clone succeeded.
func (r TableResult) OK() bool { return r.Error == "" }

// ProvisionReport aggregates the per-table results of one provisioning run.
type ProvisionReport struct {
	Schema     string        `json:"schema"`
	Tables     []TableResult `json:"tables"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RequiredFailures returns the failed clones that block readiness.
func (r *ProvisionReport) RequiredFailures() []TableResult {
	return r.filter(func(tr TableResult) bool { return !tr.OK() && tr.Required })
}

// Gaps returns failed clones of optional tables. A tenant with gaps is
// ready but not fully provisioned.
func (r *ProvisionReport) Gaps() []TableResult {
	return r.filter(func(tr TableResult) bool { return !tr.OK() && !tr.Required })
}

// Complete reports whether every table cloned successfully.
func (r *ProvisionReport) Complete() bool {
	for _, tr := range r.Tables {
		if !tr.OK() {
			return false
		}
	}
	return true
}

// Summary renders failed clones as "table: error; ..." for the registry's
// provisioning_error column.
func (r *ProvisionReport) Summary() string {
	var parts []string
	for _, tr := range r.Tables {
		if !tr.OK() {
			parts = append(parts, fmt.Sprintf("%s: %s", tr.Table, tr.Error))
		}
	}
	return strings.Join(parts, "; ")
}

func (r *ProvisionReport) filter(keep func(TableResult) bool) []TableResult {
	var out []TableResult
	for _, tr := range r.Tables {
		if keep(tr) {
			out = append(out, tr)
		}
	}
	return out
}
