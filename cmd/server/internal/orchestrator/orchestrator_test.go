package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarbase/meetsvc/cmd/server/internal/audit"
	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/pkg/transport"
)

// fakeStore 内存实现的 Store，测试专用
type fakeStore struct {
	mu           sync.Mutex
	meetings     map[string]*meetings.Meeting
	participants map[string]map[string]*meetings.Participant
	chat         []*meetings.ChatMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		meetings:     map[string]*meetings.Meeting{},
		participants: map[string]map[string]*meetings.Participant{},
	}
}

func (f *fakeStore) SaveMeeting(_ context.Context, m *meetings.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.meetings[m.ID] = &cp
	return nil
}

func (f *fakeStore) LoadMeetings(_ context.Context) ([]*meetings.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*meetings.Meeting, 0, len(f.meetings))
	for _, m := range f.meetings {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) SaveParticipant(_ context.Context, p *meetings.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byUser := f.participants[p.MeetingID]
	if byUser == nil {
		byUser = map[string]*meetings.Participant{}
		f.participants[p.MeetingID] = byUser
	}
	cp := *p
	byUser[p.UserID] = &cp
	return nil
}

func (f *fakeStore) ListParticipants(_ context.Context, meetingID string) ([]*meetings.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*meetings.Participant, 0, len(f.participants[meetingID]))
	for _, p := range f.participants[meetingID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) AppendChatMessage(_ context.Context, msg *meetings.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.chat = append(f.chat, &cp)
	return nil
}

func (f *fakeStore) Close() error { return nil }

type testEnv struct {
	orch     *Orchestrator
	reg      *meetings.Registry
	store    *fakeStore
	provider *transport.Loopback
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = "test-secret"
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := meetings.NewRegistry()
	store := newFakeStore()
	provider := transport.NewLoopback(0, log)

	orch, err := New(cfg, reg, store, provider, audit.NopAuditLogger{}, log)
	require.NoError(t, err)
	return &testEnv{orch: orch, reg: reg, store: store, provider: provider}
}

func (e *testEnv) addMeeting(t *testing.T, m *meetings.Meeting) *meetings.Meeting {
	t.Helper()
	if m.ID == "" {
		m.ID = "mtg-1"
	}
	if m.Status == "" {
		m.Status = meetings.StatusScheduled
	}
	if m.Capacity == 0 {
		m.Capacity = 50
	}
	require.NoError(t, e.store.SaveMeeting(context.Background(), m))
	e.reg.Set(m)
	return m
}

func requester(userID string) meetings.Requester {
	return meetings.Requester{UserID: userID, DisplayName: "User " + userID}
}

func TestJoinOrganizerAlwaysAdmitted(t *testing.T) {
	env := newTestEnv(t, Config{})
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassNobody},
	})

	res, err := env.orch.Join(context.Background(), m.ID, requester("alice"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionAdmitted, res.State)
	require.NotNil(t, res.Credential)
	assert.True(t, res.Credential.CanPublish)
	assert.NotEmpty(t, res.Credential.Token)

	// First admitted join opens the lobby and allocates the room lazily.
	assert.Equal(t, meetings.StatusLobbyOpen, env.reg.Get(m.ID).Status)
	assert.NotEmpty(t, env.reg.Get(m.ID).RoomName)
}

func TestJoinUninvitedDenied(t *testing.T) {
	env := newTestEnv(t, Config{})
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			InvitedParticipantIDs: []string{"bob"},
			AllowUninvitedJoin:    false,
			LobbyBypassType:       meetings.BypassInvited,
		},
	})

	_, err := env.orch.Join(context.Background(), m.ID, requester("mallory"))
	var denial *DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, meetings.ReasonNotInvited, denial.Reason)
}

func TestJoinWaitThenHostAdmit(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassNobody,
		},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionWaiting, res.State)
	assert.Nil(t, res.Credential)

	// Polling again while the host has not acted keeps waiting.
	res, err = env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionWaiting, res.State)

	require.NoError(t, env.orch.Admit(ctx, m.ID, "alice", "bob"))

	res, err = env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionAdmitted, res.State)
	require.NotNil(t, res.Credential)
}

func TestHostDenyRemovesWaiter(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassNobody,
		},
	})

	_, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)

	require.NoError(t, env.orch.Deny(ctx, m.ID, "alice", "bob"))

	roster, err := env.orch.Roster(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, meetings.AdmissionLeft, roster[0].State)

	// Denying twice is an error: the entry is no longer waiting.
	assert.ErrorIs(t, env.orch.Deny(ctx, m.ID, "alice", "bob"), ErrNotWaiting)
}

func TestModerationRequiresPrivilege(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassNobody,
		},
	})

	_, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	_, err = env.orch.Join(ctx, m.ID, requester("carol"))
	require.NoError(t, err)

	assert.ErrorIs(t, env.orch.Admit(ctx, m.ID, "carol", "bob"), ErrForbidden)
	assert.NoError(t, env.orch.Admit(ctx, m.ID, "alice", "bob"))
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Capacity:    2,
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassEveryone,
		},
	})

	users := []string{"u1", "u2", "u3"}
	results := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, results[i] = env.orch.Join(ctx, m.ID, requester(u))
		}(i, u)
	}
	wg.Wait()

	admitted, denied := 0, 0
	for _, err := range results {
		if err == nil {
			admitted++
			continue
		}
		var denial *DenialError
		require.ErrorAs(t, err, &denial)
		assert.Equal(t, meetings.ReasonMeetingFull, denial.Reason)
		denied++
	}
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 1, denied)
}

func TestDuplicateJoinDoesNotDoubleReserve(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Capacity:    2,
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassEveryone,
		},
	})

	// The same user retrying holds exactly one seat.
	for i := 0; i < 3; i++ {
		res, err := env.orch.Join(ctx, m.ID, requester("bob"))
		require.NoError(t, err)
		assert.Equal(t, meetings.AdmissionAdmitted, res.State)
	}

	res, err := env.orch.Join(ctx, m.ID, requester("carol"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionAdmitted, res.State)
}

func TestConnectedTransitionsMeetingLive(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("alice"))
	require.NoError(t, err)
	conn, err := env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)
	defer conn.Disconnect()

	assert.Eventually(t, func() bool {
		return env.reg.Get(m.ID).Status == meetings.StatusLive
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		roster, err := env.orch.Roster(ctx, m.ID)
		if err != nil || len(roster) != 1 {
			return false
		}
		return roster[0].State == meetings.AdmissionConnected
	}, time.Second, 5*time.Millisecond)
}

func TestLastLeaveEndsMeeting(t *testing.T) {
	env := newTestEnv(t, Config{}) // EmptyMeetingTimeout 0: end immediately
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("alice"))
	require.NoError(t, err)
	conn, err := env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return env.reg.Get(m.ID).Status == meetings.StatusLive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Disconnect())

	assert.Eventually(t, func() bool {
		return env.reg.Get(m.ID).Status == meetings.StatusEnded
	}, time.Second, 5*time.Millisecond)
}

func TestEndIsIdempotentAndClosesRoom(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)

	require.NoError(t, env.orch.End(ctx, m.ID, "alice"))
	require.NoError(t, env.orch.End(ctx, m.ID, "alice")) // second end is a no-op

	assert.Equal(t, meetings.StatusEnded, env.reg.Get(m.ID).Status)

	// The issued credential is dead: the room is gone.
	_, err = env.provider.Connect(ctx, *res.Credential)
	assert.True(t, errors.Is(err, transport.ErrRoomNotFound) || errors.Is(err, transport.ErrCredentialRevoked))

	// Joining an ended meeting is refused with a typed denial.
	_, err = env.orch.Join(ctx, m.ID, requester("carol"))
	var denial *DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, meetings.ReasonMeetingClosed, denial.Reason)
}

func TestEndRequiresHostOrConfiguredCoHost(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name         string
		coHostMayEnd bool
		wantErr      error
	}{
		{"co-host allowed", true, nil},
		{"co-host forbidden", false, ErrForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, Config{CoHostMayEnd: tc.coHostMayEnd, EmptyMeetingTimeout: time.Hour})
			m := env.addMeeting(t, &meetings.Meeting{
				OrganizerID: "alice",
				Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
			})
			_, err := env.orch.Join(ctx, m.ID, meetings.Requester{UserID: "carl", DisplayName: "Carl", Role: meetings.RoleCoHost})
			require.NoError(t, err)

			err = env.orch.End(ctx, m.ID, "carl")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKickConnectedParticipant(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	conn, err := env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.orch.Kick(ctx, m.ID, "alice", "bob"))

	// The kicked connection sees the terminal reason.
	var got transport.Event
	for ev := range conn.Events() {
		got = ev
	}
	assert.Equal(t, transport.EventDisconnected, got.Type)
	assert.Equal(t, transport.ReasonKicked, got.Reason)

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionLeft
	}, time.Second, 5*time.Millisecond)
}

func TestNetworkDropKeepsSeat(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	_, err = env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.provider.DisconnectParticipant(ctx, env.reg.Get(m.ID).RoomName, "bob", transport.ReasonNetworkDrop))

	// A drop demotes to admitted so the credential can reconnect; the
	// meeting stays live within the grace period.
	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionAdmitted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, meetings.StatusLive, env.reg.Get(m.ID).Status)
}

func TestNetworkDropOfLastParticipantKeepsMeetingLive(t *testing.T) {
	env := newTestEnv(t, Config{}) // EmptyMeetingTimeout 0: only real leaves end it
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	_, err = env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.provider.DisconnectParticipant(ctx, env.reg.Get(m.ID).RoomName, "bob", transport.ReasonNetworkDrop))

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionAdmitted
	}, time.Second, 5*time.Millisecond)

	// The drop is not a leave: the meeting holds for the reconnect and the
	// same user is re-admitted without policy re-evaluation.
	assert.Equal(t, meetings.StatusLive, env.reg.Get(m.ID).Status)
	res, err = env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)
	assert.Equal(t, meetings.AdmissionAdmitted, res.State)
	require.NotNil(t, res.Credential)
}

func TestUpdateMediaRequiresConnected(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)

	on := true
	_, err = env.orch.UpdateMedia(ctx, m.ID, "bob", MediaUpdate{AudioOn: &on})
	assert.ErrorIs(t, err, ErrNotConnected)

	conn, err := env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)
	defer conn.Disconnect()

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return len(roster) == 1 && roster[0].State == meetings.AdmissionConnected
	}, time.Second, 5*time.Millisecond)

	p, err := env.orch.UpdateMedia(ctx, m.ID, "bob", MediaUpdate{AudioOn: &on, HandRaised: &on})
	require.NoError(t, err)
	assert.True(t, p.AudioOn)
	assert.True(t, p.HandRaised)
	assert.False(t, p.VideoOn) // untouched flag keeps its value
}

func TestSweepExpiresStaleWaiters(t *testing.T) {
	env := newTestEnv(t, Config{WaitingTimeout: time.Minute})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassNobody,
		},
	})

	_, err := env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)

	env.orch.sweep(ctx, time.Now().Add(30*time.Second))
	roster, _ := env.orch.Roster(ctx, m.ID)
	assert.Equal(t, meetings.AdmissionWaiting, roster[0].State)

	env.orch.sweep(ctx, time.Now().Add(2*time.Minute))
	roster, _ = env.orch.Roster(ctx, m.ID)
	assert.Equal(t, meetings.AdmissionLeft, roster[0].State)
}

func TestSweepEndsEmptyMeetingAfterGrace(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: 5 * time.Minute})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access:      meetings.AccessConfiguration{LobbyBypassType: meetings.BypassEveryone, AllowUninvitedJoin: true},
	})

	res, err := env.orch.Join(ctx, m.ID, requester("alice"))
	require.NoError(t, err)
	conn, err := env.provider.Connect(ctx, *res.Credential)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return env.reg.Get(m.ID).Status == meetings.StatusLive
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Disconnect())

	assert.Eventually(t, func() bool {
		roster, _ := env.orch.Roster(ctx, m.ID)
		return roster[0].State == meetings.AdmissionLeft
	}, time.Second, 5*time.Millisecond)

	env.orch.sweep(ctx, time.Now().Add(time.Minute))
	assert.Equal(t, meetings.StatusLive, env.reg.Get(m.ID).Status)

	env.orch.sweep(ctx, time.Now().Add(10*time.Minute))
	assert.Equal(t, meetings.StatusEnded, env.reg.Get(m.ID).Status)
}

func TestSubscribeReceivesRosterEvents(t *testing.T) {
	env := newTestEnv(t, Config{EmptyMeetingTimeout: time.Hour})
	ctx := context.Background()
	m := env.addMeeting(t, &meetings.Meeting{
		OrganizerID: "alice",
		Access: meetings.AccessConfiguration{
			AllowUninvitedJoin: true,
			LobbyBypassType:    meetings.BypassNobody,
		},
	})

	ch, cancel, err := env.orch.Subscribe(ctx, m.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = env.orch.Join(ctx, m.ID, requester("bob"))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, EventParticipantState, ev.Type)
		assert.Equal(t, "bob", ev.UserID)
		assert.Equal(t, meetings.AdmissionWaiting, ev.State)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestJoinUnknownMeeting(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, err := env.orch.Join(context.Background(), "nope", requester("bob"))
	assert.ErrorIs(t, err, meetings.ErrMeetingNotFound)
}
