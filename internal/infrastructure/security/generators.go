// Package security provides identifier generation utilities
package security

import (
	"github.com/oklog/ulid/v2"
)

// GenerateULID generates a new ULID string. Used for visitor identities,
// workflow ids, and the client-generated request ids that make session
// starts idempotent.
func GenerateULID() string {
	return ulid.Make().String()
}
