package meetings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusLobbyOpen, true},
		{StatusScheduled, StatusLive, true},
		{StatusScheduled, StatusEnded, false},
		{StatusLobbyOpen, StatusLive, true},
		{StatusLobbyOpen, StatusEnded, true},
		{StatusLive, StatusEnded, true},
		{StatusLive, StatusLobbyOpen, false},
		{StatusScheduled, StatusCancelled, true},
		{StatusLive, StatusCancelled, true},
		{StatusEnded, StatusCancelled, false},
		{StatusEnded, StatusLive, false},
		{StatusCancelled, StatusLive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusEnded.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusLobbyOpen.Terminal())
	assert.False(t, StatusLive.Terminal())
}

func TestRolePrivileged(t *testing.T) {
	assert.True(t, RoleHost.Privileged())
	assert.True(t, RoleCoHost.Privileged())
	assert.False(t, RoleModerator.Privileged())
	assert.False(t, RoleParticipant.Privileged())
}

func TestRegistryHandsOutCopies(t *testing.T) {
	reg := NewRegistry()
	reg.Set(&Meeting{ID: "m1", Title: "standup", Status: StatusScheduled})

	// Mutating a fetched meeting must not leak into the registry until the
	// caller publishes it back with Set.
	got := reg.Get("m1")
	got.Status = StatusLive
	assert.Equal(t, StatusScheduled, reg.Get("m1").Status)

	listed := reg.List()
	assert.Len(t, listed, 1)
	listed[0].Title = "renamed"
	assert.Equal(t, "standup", reg.Get("m1").Title)

	got.Title = "retro"
	reg.Set(got)
	assert.Equal(t, "retro", reg.Get("m1").Title)
	assert.Equal(t, StatusLive, reg.Get("m1").Status)
}

func TestChatMessageOrdering(t *testing.T) {
	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	a := &ChatMessage{SentAt: at, Seq: 1}
	b := &ChatMessage{SentAt: at, Seq: 2}
	c := &ChatMessage{SentAt: at.Add(time.Millisecond), Seq: 0}

	// Same timestamp: arrival sequence breaks the tie.
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	// Earlier timestamp wins regardless of sequence.
	assert.True(t, b.Before(c))
	assert.False(t, a.Before(a))
}
