// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input. Wrap it with the detail:
// fmt.Errorf("%w: slug is required", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates a lifecycle transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// Credential errors. They stay distinguishable internally; the HTTP layer
// collapses them into a single re-authenticate response.
var (
	ErrCredentialMalformed   = errors.New("credential malformed")
	ErrCredentialExpired     = errors.New("credential expired")
	ErrCrossTenantCredential = errors.New("credential issued for a different tenant")
	ErrInvalidCredentials    = errors.New("invalid credentials")
)
