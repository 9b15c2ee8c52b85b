// ABOUTME: ParticipantRegistry tracks remote participants for the lifetime of a session
// ABOUTME: Classifies each on join and notifies listeners only when agent presence flips

package participant

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-room/internal/event"
	"github.com/2389/coven-room/internal/session"
)

// Participant is a remote endpoint visible in the session. Role is fixed
// for the lifetime of the membership.
type Participant struct {
	Identity   string
	SID        string
	Name       string
	Role       Role
	RoleSource RoleSource
	Attributes map[string]string
	Tracks     []session.TrackPublication
	JoinedAt   time.Time
}

func (p *Participant) clone() Participant {
	out := *p
	out.Attributes = maps.Clone(p.Attributes)
	out.Tracks = slices.Clone(p.Tracks)
	return out
}

// Registry is the set of joined remote participants. Join, Leave and
// HandleEvent are meant to be driven from the session's dispatch goroutine;
// presence listeners run on that same goroutine after the registry lock is
// released, so they may read the registry.
type Registry struct {
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.RWMutex
	localIdentity string
	participants  map[string]*Participant
	agents        int

	presence event.Listeners[bool]
}

// NewRegistry creates an empty registry. Pass nil classifier for the default
// markers and nil logger for default.
func NewRegistry(classifier *Classifier, logger *slog.Logger) *Registry {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		classifier:   classifier,
		logger:       logger.With("component", "participants"),
		now:          time.Now,
		participants: make(map[string]*Participant),
	}
}

// SetLocalIdentity tells the registry which identity is the local client, so
// a remote participant claiming it can be rejected.
func (r *Registry) SetLocalIdentity(identity string) {
	r.mu.Lock()
	r.localIdentity = identity
	r.mu.Unlock()
}

// OnAgentPresenceChange registers fn to be called with the new value each
// time agent presence flips.
func (r *Registry) OnAgentPresenceChange(fn func(present bool)) *event.Subscription {
	return r.presence.Add(fn)
}

// HandleEvent applies one normalized session event.
func (r *Registry) HandleEvent(ev session.Event) {
	switch ev.Type {
	case session.EventParticipantJoined:
		if ev.Participant != nil {
			r.Join(*ev.Participant)
		}
	case session.EventParticipantLeft:
		if ev.Participant != nil {
			r.Leave(ev.Participant.Identity)
		}
	case session.EventTrackPublished, session.EventTrackSubscribed:
		if ev.Track != nil {
			r.updateTrack(*ev.Track)
		}
	case session.EventStateChanged:
		if ev.State == session.StateDisconnected || ev.State == session.StateFailed {
			r.Reset()
		}
	}
}

// Join creates and classifies a participant. It returns false when the
// identity is already joined or is the local identity.
func (r *Registry) Join(info session.ParticipantInfo) (Participant, bool) {
	if info.Identity == "" {
		r.logger.Warn("ignoring participant without identity", "participant_sid", info.SID)
		return Participant{}, false
	}

	role, source := r.classifier.Classify(info)

	r.mu.Lock()
	if info.Identity == r.localIdentity {
		r.mu.Unlock()
		r.logger.Warn("remote participant uses the local identity; ignoring",
			"participant_identity", info.Identity,
			"participant_sid", info.SID,
		)
		return Participant{}, false
	}
	if existing, ok := r.participants[info.Identity]; ok {
		r.mu.Unlock()
		r.logger.Warn("duplicate participant identity; keeping first membership",
			"participant_identity", info.Identity,
			"existing_sid", existing.SID,
			"participant_sid", info.SID,
		)
		return Participant{}, false
	}

	p := &Participant{
		Identity:   info.Identity,
		SID:        info.SID,
		Name:       info.Name,
		Role:       role,
		RoleSource: source,
		Attributes: maps.Clone(info.Attributes),
		Tracks:     slices.Clone(info.Tracks),
		JoinedAt:   r.now(),
	}
	r.participants[p.Identity] = p
	flipped := false
	if role == RoleAgent {
		r.agents++
		flipped = r.agents == 1
	}
	out := p.clone()
	r.mu.Unlock()

	r.logger.Info("participant joined",
		"participant_identity", p.Identity,
		"role", role,
		"role_source", source,
		"tracks", len(p.Tracks),
	)
	if source == SourceIdentityMarker {
		r.logger.Debug("role inferred from identity marker", "participant_identity", p.Identity)
	}
	if flipped {
		r.presence.Emit(true)
	}
	return out, true
}

// Leave removes a participant. It returns false if the identity was not joined.
func (r *Registry) Leave(identity string) bool {
	r.mu.Lock()
	p, ok := r.participants[identity]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("leave for unknown participant", "participant_identity", identity)
		return false
	}
	delete(r.participants, identity)
	flipped := false
	if p.Role == RoleAgent {
		r.agents--
		flipped = r.agents == 0
	}
	r.mu.Unlock()

	r.logger.Info("participant left", "participant_identity", identity, "role", p.Role)
	if flipped {
		r.presence.Emit(false)
	}
	return true
}

// Reset forgets every participant, as when the session ends.
func (r *Registry) Reset() {
	r.mu.Lock()
	hadAgent := r.agents > 0
	count := len(r.participants)
	r.participants = make(map[string]*Participant)
	r.agents = 0
	r.mu.Unlock()

	if count > 0 {
		r.logger.Debug("participant registry cleared", "participants", count)
	}
	if hadAgent {
		r.presence.Emit(false)
	}
}

func (r *Registry) updateTrack(track session.TrackPublication) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[track.ParticipantIdentity]
	if !ok {
		return
	}
	for i := range p.Tracks {
		if p.Tracks[i].SID == track.SID {
			p.Tracks[i] = track
			return
		}
	}
	p.Tracks = append(p.Tracks, track)
}

// AgentPresent reports whether at least one joined participant is an agent.
func (r *Registry) AgentPresent() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents > 0
}

// Get returns a copy of the participant with the given identity.
func (r *Registry) Get(identity string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[identity]
	if !ok {
		return Participant{}, false
	}
	return p.clone(), true
}

// Participants returns copies of all joined participants sorted by identity.
func (r *Registry) Participants() []Participant {
	r.mu.RLock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Participant) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

// Len returns the number of joined participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
