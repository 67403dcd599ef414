package valet

import "github.com/google/uuid"

// NewStateToken generates the single-use anti-CSRF state for an OAuth
// authorization flow. Random (v4) rather than time-sortable: the token must
// be unguessable, not orderable.
func NewStateToken() string {
	return uuid.NewString()
}
