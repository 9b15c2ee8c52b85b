// ABOUTME: Tests for participant classification and agent presence tracking
// ABOUTME: Covers role sources, presence flips, duplicates and registry reset

package participant

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-room/internal/session"
)

type flipRecorder struct {
	flips []bool
}

func (f *flipRecorder) record(present bool) {
	f.flips = append(f.flips, present)
}

func TestClassifier_RoleSources(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name   string
		info   session.ParticipantInfo
		role   Role
		source RoleSource
	}{
		{
			name:   "explicit agent role wins over identity",
			info:   session.ParticipantInfo{Identity: "user-42", Attributes: map[string]string{AttrRole: "agent"}},
			role:   RoleAgent,
			source: SourceRoleAttribute,
		},
		{
			name:   "explicit human role wins over marker",
			info:   session.ParticipantInfo{Identity: "agent-smith", Attributes: map[string]string{AttrRole: "Human"}},
			role:   RoleHuman,
			source: SourceRoleAttribute,
		},
		{
			name:   "livekit agent kind",
			info:   session.ParticipantInfo{Identity: "worker-1", Attributes: map[string]string{AttrParticipantKind: "agent"}},
			role:   RoleAgent,
			source: SourceParticipantKind,
		},
		{
			name:   "identity marker fallback",
			info:   session.ParticipantInfo{Identity: "agent-primary"},
			role:   RoleAgent,
			source: SourceIdentityMarker,
		},
		{
			name:   "marker match is case insensitive",
			info:   session.ParticipantInfo{Identity: "Corelance-AI"},
			role:   RoleAgent,
			source: SourceIdentityMarker,
		},
		{
			name:   "unknown role attribute falls through",
			info:   session.ParticipantInfo{Identity: "user-7f3k2", Attributes: map[string]string{AttrRole: "observer"}},
			role:   RoleHuman,
			source: SourceDefault,
		},
		{
			name:   "plain human",
			info:   session.ParticipantInfo{Identity: "user-7f3k2"},
			role:   RoleHuman,
			source: SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, source := c.Classify(tt.info)
			assert.Equal(t, tt.role, role)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestClassifier_CustomMarkers(t *testing.T) {
	c := NewClassifier([]string{" Bot ", ""})
	assert.Equal(t, []string{"bot"}, c.Markers())

	role, _ := c.Classify(session.ParticipantInfo{Identity: "helper-BOT"})
	assert.Equal(t, RoleAgent, role)

	role, _ = c.Classify(session.ParticipantInfo{Identity: "agent-primary"})
	assert.Equal(t, RoleHuman, role)

	disabled := NewClassifier([]string{})
	role, _ = disabled.Classify(session.ParticipantInfo{Identity: "agent-primary"})
	assert.Equal(t, RoleHuman, role)
}

func TestRegistry_HumanThenAgentScenario(t *testing.T) {
	r := NewRegistry(nil, nil)
	rec := &flipRecorder{}
	sub := r.OnAgentPresenceChange(rec.record)
	defer sub.Release()

	human, ok := r.Join(session.ParticipantInfo{Identity: "user-7f3k2", SID: "PA_1"})
	require.True(t, ok)
	assert.Equal(t, RoleHuman, human.Role)
	assert.False(t, r.AgentPresent())
	assert.Empty(t, rec.flips)

	agent, ok := r.Join(session.ParticipantInfo{Identity: "agent-primary", SID: "PA_2"})
	require.True(t, ok)
	assert.Equal(t, RoleAgent, agent.Role)
	assert.True(t, r.AgentPresent())
	assert.Equal(t, []bool{true}, rec.flips)

	require.True(t, r.Leave("agent-primary"))
	assert.False(t, r.AgentPresent())
	assert.Equal(t, []bool{true, false}, rec.flips)
}

func TestRegistry_NotifiesOnlyOnFlip(t *testing.T) {
	r := NewRegistry(nil, nil)
	rec := &flipRecorder{}
	r.OnAgentPresenceChange(rec.record)

	r.Join(session.ParticipantInfo{Identity: "agent-a"})
	r.Join(session.ParticipantInfo{Identity: "agent-b"})
	r.Join(session.ParticipantInfo{Identity: "user-1"})
	r.Leave("agent-a")
	r.Leave("user-1")
	assert.Equal(t, []bool{true}, rec.flips)
	assert.True(t, r.AgentPresent())

	r.Leave("agent-b")
	assert.Equal(t, []bool{true, false}, rec.flips)
}

func TestRegistry_RandomSequenceMatchesPresence(t *testing.T) {
	r := NewRegistry(nil, nil)
	rec := &flipRecorder{}
	r.OnAgentPresenceChange(rec.record)

	identities := []string{"agent-1", "agent-2", "user-1", "user-2", "ai-helper"}
	joined := map[string]bool{}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 500; i++ {
		id := identities[rng.IntN(len(identities))]
		if joined[id] {
			r.Leave(id)
			delete(joined, id)
		} else {
			r.Join(session.ParticipantInfo{Identity: id})
			joined[id] = true
		}

		want := joined["agent-1"] || joined["agent-2"] || joined["ai-helper"]
		require.Equal(t, want, r.AgentPresent(), "step %d", i)
		if len(rec.flips) > 0 {
			require.Equal(t, want, rec.flips[len(rec.flips)-1], "step %d", i)
		}
	}

	for i := 1; i < len(rec.flips); i++ {
		assert.NotEqual(t, rec.flips[i-1], rec.flips[i], "consecutive notifications must alternate")
	}
}

func TestRegistry_DuplicateAndLocalIdentityIgnored(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SetLocalIdentity("user-local")

	_, ok := r.Join(session.ParticipantInfo{Identity: "user-local"})
	assert.False(t, ok)

	_, ok = r.Join(session.ParticipantInfo{Identity: "user-1", SID: "PA_1"})
	require.True(t, ok)
	_, ok = r.Join(session.ParticipantInfo{Identity: "user-1", SID: "PA_2"})
	assert.False(t, ok)

	p, ok := r.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, "PA_1", p.SID)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Join(session.ParticipantInfo{})
	assert.False(t, ok)
}

func TestRegistry_RoleIsFixedAtJoin(t *testing.T) {
	r := NewRegistry(nil, nil)
	info := session.ParticipantInfo{Identity: "user-1", Attributes: map[string]string{AttrRole: "human"}}
	r.Join(info)

	// Mutating the caller's attributes after join has no effect.
	info.Attributes[AttrRole] = "agent"
	p, _ := r.Get("user-1")
	assert.Equal(t, RoleHuman, p.Role)
	assert.Equal(t, "human", p.Attributes[AttrRole])
}

func TestRegistry_HandleEvent(t *testing.T) {
	r := NewRegistry(nil, nil)
	rec := &flipRecorder{}
	r.OnAgentPresenceChange(rec.record)

	r.HandleEvent(session.Event{
		Type:        session.EventParticipantJoined,
		Participant: &session.ParticipantInfo{Identity: "agent-primary"},
	})
	r.HandleEvent(session.Event{
		Type:  session.EventTrackPublished,
		Track: &session.TrackPublication{SID: "TR_1", Kind: session.TrackKindAudio, ParticipantIdentity: "agent-primary"},
	})
	r.HandleEvent(session.Event{
		Type:  session.EventTrackSubscribed,
		Track: &session.TrackPublication{SID: "TR_1", Kind: session.TrackKindAudio, ParticipantIdentity: "agent-primary", Subscribed: true},
	})

	p, ok := r.Get("agent-primary")
	require.True(t, ok)
	require.Len(t, p.Tracks, 1)
	assert.True(t, p.Tracks[0].Subscribed)

	r.HandleEvent(session.Event{Type: session.EventStateChanged, State: session.StateFailed})
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []bool{true, false}, rec.flips)
}

func TestRegistry_ParticipantsSorted(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Join(session.ParticipantInfo{Identity: "user-b"})
	r.Join(session.ParticipantInfo{Identity: "agent-primary"})
	r.Join(session.ParticipantInfo{Identity: "user-a"})

	var ids []string
	for _, p := range r.Participants() {
		ids = append(ids, p.Identity)
	}
	assert.Equal(t, []string{"agent-primary", "user-a", "user-b"}, ids)
}

func TestRegistry_ReleasedListenerNotCalled(t *testing.T) {
	r := NewRegistry(nil, nil)
	rec := &flipRecorder{}
	sub := r.OnAgentPresenceChange(rec.record)
	sub.Release()
	sub.Release()

	r.Join(session.ParticipantInfo{Identity: "agent-primary"})
	assert.Empty(t, rec.flips)
}
