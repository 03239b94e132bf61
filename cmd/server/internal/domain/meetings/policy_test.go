package meetings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func policyMeeting(mut func(*Meeting)) *Meeting {
	m := &Meeting{
		ID:           "mtg-1",
		FoundationID: "acme",
		OrganizerID:  "alice",
		Capacity:     10,
		Status:       StatusScheduled,
		Access: AccessConfiguration{
			InvitedParticipantIDs: []string{"bob"},
			AllowUninvitedJoin:    false,
			LobbyBypassType:       BypassInvited,
		},
	}
	if mut != nil {
		mut(m)
	}
	return m
}

func TestDecideAccess(t *testing.T) {
	tests := []struct {
		name      string
		mut       func(*Meeting)
		occupancy int
		req       Requester
		want      Decision
	}{
		{
			name: "organizer always admitted",
			req:  Requester{UserID: "alice"},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "organizer admitted even when full",
			mut:  func(m *Meeting) { m.Capacity = 1 },
			occupancy: 1,
			req:  Requester{UserID: "alice"},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "co-host bypasses policy",
			req:  Requester{UserID: "carol", Role: RoleCoHost},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "ended meeting denies",
			mut:  func(m *Meeting) { m.Status = StatusEnded },
			req:  Requester{UserID: "bob"},
			want: Decision{Verdict: VerdictDeny, Reason: ReasonMeetingClosed},
		},
		{
			name: "cancelled meeting denies",
			mut:  func(m *Meeting) { m.Status = StatusCancelled },
			req:  Requester{UserID: "bob"},
			want: Decision{Verdict: VerdictDeny, Reason: ReasonMeetingClosed},
		},
		{
			name:      "capacity beats invitation",
			mut:       func(m *Meeting) { m.Capacity = 2 },
			occupancy: 2,
			req:       Requester{UserID: "bob"},
			want:      Decision{Verdict: VerdictDeny, Reason: ReasonMeetingFull},
		},
		{
			name: "invited user bypasses lobby under invited policy",
			req:  Requester{UserID: "bob"},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "uninvited user denied when uninvited join is off",
			req:  Requester{UserID: "mallory"},
			want: Decision{Verdict: VerdictDeny, Reason: ReasonNotInvited},
		},
		{
			name: "uninvited user waits under invited policy when allowed",
			mut:  func(m *Meeting) { m.Access.AllowUninvitedJoin = true },
			req:  Requester{UserID: "mallory"},
			want: Decision{Verdict: VerdictWait},
		},
		{
			name: "everyone bypass admits anonymous",
			mut: func(m *Meeting) {
				m.Access.AllowUninvitedJoin = true
				m.Access.LobbyBypassType = BypassEveryone
			},
			req:  Requester{UserID: "guest-1", Anonymous: true},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "organization bypass admits matching foundation",
			mut: func(m *Meeting) {
				m.Access.AllowUninvitedJoin = true
				m.Access.LobbyBypassType = BypassOrganization
			},
			req:  Requester{UserID: "carol", FoundationID: "acme"},
			want: Decision{Verdict: VerdictAdmit},
		},
		{
			name: "organization bypass waits foreign foundation",
			mut: func(m *Meeting) {
				m.Access.AllowUninvitedJoin = true
				m.Access.LobbyBypassType = BypassOrganization
			},
			req:  Requester{UserID: "carol", FoundationID: "globex"},
			want: Decision{Verdict: VerdictWait},
		},
		{
			name: "organization bypass waits empty foundation",
			mut: func(m *Meeting) {
				m.Access.AllowUninvitedJoin = true
				m.Access.LobbyBypassType = BypassOrganization
				m.FoundationID = ""
			},
			req:  Requester{UserID: "carol"},
			want: Decision{Verdict: VerdictWait},
		},
		{
			name: "nobody bypass forces invited users to wait",
			mut:  func(m *Meeting) { m.Access.LobbyBypassType = BypassNobody },
			req:  Requester{UserID: "bob"},
			want: Decision{Verdict: VerdictWait},
		},
		{
			name: "unknown bypass falls back to wait",
			mut:  func(m *Meeting) { m.Access.LobbyBypassType = "vip_only" },
			req:  Requester{UserID: "bob"},
			want: Decision{Verdict: VerdictWait},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := policyMeeting(tt.mut)
			got := DecideAccess(m, tt.occupancy, tt.req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideAccessIsRepeatable(t *testing.T) {
	// Retried joins must see the same verdict when nothing changed.
	m := policyMeeting(func(m *Meeting) { m.Access.AllowUninvitedJoin = true })
	req := Requester{UserID: "mallory"}
	first := DecideAccess(m, 3, req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DecideAccess(m, 3, req))
	}
}
