// ABOUTME: Role classification of remote participants (Human or Agent)
// ABOUTME: Explicit credential attributes win; the identity marker match is a fragile fallback

package participant

import (
	"strings"

	"github.com/2389/coven-room/internal/session"
)

// Role is the classification of a remote participant.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// RoleSource records which rule decided a participant's role.
type RoleSource string

const (
	SourceRoleAttribute   RoleSource = "role_attribute"
	SourceParticipantKind RoleSource = "participant_kind"
	SourceIdentityMarker  RoleSource = "identity_marker"
	SourceDefault         RoleSource = "default"
)

// Participant attributes consulted by the classifier.
const (
	// AttrRole is set from the role claim of the participant's credential.
	AttrRole = "role"
	// AttrParticipantKind is the LiveKit participant kind.
	AttrParticipantKind = "lk.participant.kind"
)

// DefaultAgentMarkers are matched case-insensitively against identities
// that carry no explicit role.
var DefaultAgentMarkers = []string{"agent", "ai"}

// Classifier decides a participant's role once, at join time.
//
// The identity marker rule is a heuristic on a free-text field: an identity
// such as "user-maida" is classified as an agent because it contains "ai".
// It only runs when the participant's credential carries no role.
type Classifier struct {
	markers []string
}

// NewClassifier creates a classifier. A nil markers slice selects
// DefaultAgentMarkers; an empty non-nil slice disables the fallback.
func NewClassifier(markers []string) *Classifier {
	if markers == nil {
		markers = DefaultAgentMarkers
	}
	c := &Classifier{}
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			c.markers = append(c.markers, m)
		}
	}
	return c
}

// Markers returns the normalized agent markers.
func (c *Classifier) Markers() []string {
	return append([]string(nil), c.markers...)
}

// Classify returns the role of info and the rule that decided it.
func (c *Classifier) Classify(info session.ParticipantInfo) (Role, RoleSource) {
	switch strings.ToLower(strings.TrimSpace(info.Attributes[AttrRole])) {
	case string(RoleAgent):
		return RoleAgent, SourceRoleAttribute
	case string(RoleHuman):
		return RoleHuman, SourceRoleAttribute
	}

	if strings.EqualFold(info.Attributes[AttrParticipantKind], "agent") {
		return RoleAgent, SourceParticipantKind
	}

	identity := strings.ToLower(info.Identity)
	for _, m := range c.markers {
		if strings.Contains(identity, m) {
			return RoleAgent, SourceIdentityMarker
		}
	}
	return RoleHuman, SourceDefault
}
