// ABOUTME: Local participant identity generation
// ABOUTME: Identities are unique per process so two clients never share one

package token

import (
	"strings"

	"github.com/google/uuid"
)

// IdentityPrefix starts every generated human identity.
const IdentityPrefix = "user-"

// NewIdentity returns a fresh identity such as "user-1f0c9a7e".
func NewIdentity() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return IdentityPrefix + id[:8]
}
