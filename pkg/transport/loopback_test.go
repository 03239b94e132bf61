package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoopback(t *testing.T) *Loopback {
	t.Helper()
	return NewLoopback(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func cred(room, identity string) Credential {
	return Credential{
		Token:        "tok-" + identity,
		Identity:     identity,
		DisplayName:  "User " + identity,
		RoomName:     room,
		CanPublish:   true,
		CanSubscribe: true,
		ExpiresAt:    time.Now().Add(time.Minute),
	}
}

// collect drains up to n events with a deadline so a missing event fails the
// test instead of hanging it.
func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d, got %+v", len(out)+1, n, out)
		}
	}
	return out
}

func TestCreateRoomRejectsDuplicates(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()

	require.NoError(t, p.CreateRoom(ctx, "room-1"))
	assert.ErrorIs(t, p.CreateRoom(ctx, "room-1"), ErrRoomExists)
}

func TestConnectUnknownRoom(t *testing.T) {
	p := newTestLoopback(t)
	_, err := p.Connect(context.Background(), cred("nope", "alice"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestConnectExpiredCredential(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	c := cred("room-1", "alice")
	c.ExpiresAt = time.Now().Add(-time.Second)
	_, err := p.Connect(ctx, c)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestConnectReplaysExistingParticipants(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	alice, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)

	bob, err := p.Connect(ctx, cred("room-1", "bob"))
	require.NoError(t, err)

	// Late joiner sees the existing roster.
	evs := collect(t, bob.Events(), 1)
	assert.Equal(t, EventParticipantJoined, evs[0].Type)
	assert.Equal(t, "alice", evs[0].ParticipantID)

	// Existing participant is told about the newcomer.
	evs = collect(t, alice.Events(), 1)
	assert.Equal(t, EventParticipantJoined, evs[0].Type)
	assert.Equal(t, "bob", evs[0].ParticipantID)
	assert.Equal(t, "User bob", evs[0].DisplayName)
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	first, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)
	_, err = p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)

	evs := collect(t, first.Events(), 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, ReasonNetworkDrop, evs[0].Reason)

	// Stale channel is closed after the drop event.
	_, open := <-first.Events()
	assert.False(t, open)
}

func TestRevokeBlocksNewConnects(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))
	require.NoError(t, p.RevokeRoomCredentials(ctx, "room-1"))

	_, err := p.Connect(ctx, cred("room-1", "alice"))
	assert.ErrorIs(t, err, ErrCredentialRevoked)
}

func TestDestroyRoomDisconnectsEveryone(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	alice, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)

	require.NoError(t, p.DestroyRoom(ctx, "room-1"))
	assert.ErrorIs(t, p.DestroyRoom(ctx, "room-1"), ErrRoomNotFound)

	evs := collect(t, alice.Events(), 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, ReasonRoomClosed, evs[0].Reason)
}

func TestDisconnectParticipantKick(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	alice, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)
	bob, err := p.Connect(ctx, cred("room-1", "bob"))
	require.NoError(t, err)
	collect(t, alice.Events(), 1) // drain bob's join
	collect(t, bob.Events(), 1)   // drain alice's replayed join

	require.NoError(t, p.DisconnectParticipant(ctx, "room-1", "bob", ReasonKicked))
	assert.ErrorIs(t, p.DisconnectParticipant(ctx, "room-1", "bob", ReasonKicked), ErrNotConnected)

	evs := collect(t, bob.Events(), 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, ReasonKicked, evs[0].Reason)

	evs = collect(t, alice.Events(), 1)
	assert.Equal(t, EventParticipantLeft, evs[0].Type)
	assert.Equal(t, "bob", evs[0].ParticipantID)
}

func TestObserveRoomSeesJoinAndLeave(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	feed, err := p.ObserveRoom(ctx, "room-1")
	require.NoError(t, err)

	conn, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)
	require.NoError(t, conn.Disconnect())

	evs := collect(t, feed, 2)
	assert.Equal(t, EventParticipantJoined, evs[0].Type)
	assert.Equal(t, "alice", evs[0].ParticipantID)
	assert.Equal(t, EventParticipantLeft, evs[1].Type)
	assert.Equal(t, ReasonClientLeft, evs[1].Reason)

	// Destroying the room closes the observer feed.
	require.NoError(t, p.DestroyRoom(ctx, "room-1"))
	_, open := <-feed
	assert.False(t, open)
}

func TestPublishRequiresPermission(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	c := cred("room-1", "alice")
	c.CanPublish = false
	conn, err := p.Connect(ctx, c)
	require.NoError(t, err)

	assert.ErrorIs(t, conn.PublishTrack(TrackScreen), ErrPublishForbidden)
}

func TestPublishNotifiesPeers(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	alice, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)
	bob, err := p.Connect(ctx, cred("room-1", "bob"))
	require.NoError(t, err)
	collect(t, bob.Events(), 1) // drain replayed roster

	require.NoError(t, alice.PublishTrack(TrackVideo))

	evs := collect(t, bob.Events(), 1)
	assert.Equal(t, EventTrackSubscribed, evs[0].Type)
	assert.Equal(t, "alice", evs[0].ParticipantID)
	assert.Equal(t, TrackVideo, evs[0].Track)

	// Peer can now attach; unpublished tracks cannot be subscribed.
	assert.NoError(t, bob.SubscribeTrack("alice", TrackVideo))
	assert.ErrorIs(t, bob.SubscribeTrack("alice", TrackScreen), ErrNotConnected)

	require.NoError(t, alice.UnpublishTrack(TrackVideo))
	assert.ErrorIs(t, bob.SubscribeTrack("alice", TrackVideo), ErrNotConnected)
}

func TestVoluntaryDisconnect(t *testing.T) {
	p := newTestLoopback(t)
	ctx := context.Background()
	require.NoError(t, p.CreateRoom(ctx, "room-1"))

	conn, err := p.Connect(ctx, cred("room-1", "alice"))
	require.NoError(t, err)
	require.NoError(t, conn.Disconnect())

	evs := collect(t, conn.Events(), 1)
	assert.Equal(t, EventDisconnected, evs[0].Type)
	assert.Equal(t, ReasonClientLeft, evs[0].Reason)

	assert.ErrorIs(t, conn.PublishTrack(TrackAudio), ErrNotConnected)
}
