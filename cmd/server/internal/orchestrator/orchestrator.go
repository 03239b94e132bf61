// Package orchestrator drives the live-session lifecycle: join admission,
// waiting-room control, the meeting status machine, media-state changes and
// room teardown. It owns the only code path that creates or destroys
// transport rooms.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scholarbase/meetsvc/cmd/server/internal/audit"
	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/pkg/metrics"
	"github.com/scholarbase/meetsvc/pkg/transport"
)

// Orchestrator 运行期错误
var (
	ErrNotWaiting      = errors.New("participant is not in the waiting room")
	ErrNotConnected    = errors.New("participant is not connected")
	ErrNotInMeeting    = errors.New("participant has no record in this meeting")
	ErrForbidden       = errors.New("requester may not perform this operation")
	ErrMeetingInactive = errors.New("meeting is not active")
)

// DenialError is returned from Join when the admission policy denies the
// attempt. The API layer maps Reason onto the wire error code.
type DenialError struct {
	Reason meetings.DenyReason
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("join denied: %s", e.Reason)
}

// Config 会话编排配置
type Config struct {
	// TokenSecret signs join credentials.
	TokenSecret string
	// JoinTokenTTL bounds credential lifetime; <=0 defaults to 5 minutes.
	JoinTokenTTL time.Duration
	// WaitingTimeout removes waiting-room entries not acted on in time;
	// <=0 disables the timeout.
	WaitingTimeout time.Duration
	// EmptyMeetingTimeout is the grace period before a live meeting with no
	// connected participants is ended. <=0 ends it on the next sweep.
	EmptyMeetingTimeout time.Duration
	// CoHostMayEnd allows co-hosts to end the meeting, not just the host.
	CoHostMayEnd bool
}

// session 单个会议的运行期状态；participants 与订阅者都由 mu 保护
type session struct {
	mu           sync.Mutex
	meetingID    string
	participants map[string]*meetings.Participant // keyed by user ID
	// waitingSince tracks when each waiting-room entry arrived so stale
	// entries can be expired by the janitor.
	waitingSince map[string]time.Time
	subs         map[*subscriber]struct{}
	watching     bool
	// everConnected distinguishes "nobody showed up yet" from "everyone
	// left": only the latter empties the meeting toward auto-end.
	everConnected bool
	emptySince    time.Time
	closed        bool
}

// Orchestrator 会话编排器
type Orchestrator struct {
	cfg      Config
	reg      *meetings.Registry
	store    meetings.Store
	provider transport.Provider
	issuer   *TokenIssuer
	auditor  audit.AuditLogger
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	// joinGroup collapses duplicate in-flight joins for the same
	// (meeting, user) pair so network retries cannot double-reserve a seat.
	joinGroup singleflight.Group

	// onEnded, when set, is invoked after a meeting is torn down so
	// collaborators (chat) can release their per-meeting state.
	onEnded func(meetingID string)
}

// SetOnMeetingEnded registers the end-of-meeting hook. Must be called before
// the orchestrator starts serving.
func (o *Orchestrator) SetOnMeetingEnded(fn func(meetingID string)) {
	o.onEnded = fn
}

// IsConnected reports whether the user currently holds a connected seat in
// the meeting.
func (o *Orchestrator) IsConnected(ctx context.Context, meetingID, userID string) bool {
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participants[userID]
	return p != nil && p.State == meetings.AdmissionConnected
}

// New creates the orchestrator. The registry must already hold the persisted
// meetings; participant records are loaded per meeting on first touch.
func New(cfg Config, reg *meetings.Registry, store meetings.Store, provider transport.Provider, auditor audit.AuditLogger, log *slog.Logger) (*Orchestrator, error) {
	issuer, err := NewTokenIssuer([]byte(cfg.TokenSecret), cfg.JoinTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	if auditor == nil {
		auditor = audit.NopAuditLogger{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		reg:      reg,
		store:    store,
		provider: provider,
		issuer:   issuer,
		auditor:  auditor,
		log:      log,
		now:      time.Now,
		sessions: map[string]*session{},
	}, nil
}

// getSession returns the session for a meeting, loading persisted participant
// records on first access.
func (o *Orchestrator) getSession(ctx context.Context, meetingID string) (*session, error) {
	o.mu.Lock()
	s, ok := o.sessions[meetingID]
	if !ok {
		s = &session{
			meetingID:    meetingID,
			participants: map[string]*meetings.Participant{},
			waitingSince: map[string]time.Time{},
			subs:         map[*subscriber]struct{}{},
		}
		o.sessions[meetingID] = s
	}
	o.mu.Unlock()
	if ok {
		return s, nil
	}

	persisted, err := o.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	s.mu.Lock()
	for _, p := range persisted {
		if _, exists := s.participants[p.UserID]; !exists {
			cp := *p
			// In-memory connection state does not survive a restart.
			if cp.State == meetings.AdmissionConnected {
				cp.State = meetings.AdmissionAdmitted
			}
			s.participants[cp.UserID] = &cp
		}
	}
	s.mu.Unlock()
	return s, nil
}

// JoinResult 加入请求的结果；State 为 admitted 时携带入会凭证
type JoinResult struct {
	State       meetings.AdmissionState `json:"state"`
	Credential  *transport.Credential   `json:"credential,omitempty"`
	Participant meetings.Participant    `json:"participant"`
}

// Join runs the admission policy for one requester and, when admitted,
// reserves a seat and issues a join credential. It is deterministic for a
// given meeting state, so a waiting client polls it until the host acts.
// Duplicate in-flight calls for the same (meeting, user) pair share one
// evaluation.
func (o *Orchestrator) Join(ctx context.Context, meetingID string, req meetings.Requester) (*JoinResult, error) {
	started := o.now()
	key := meetingID + "|" + req.UserID
	v, err, _ := o.joinGroup.Do(key, func() (interface{}, error) {
		return o.join(ctx, meetingID, req)
	})
	metrics.RecordJoinDuration(o.now().Sub(started).Seconds())
	if err != nil {
		return nil, err
	}
	return v.(*JoinResult), nil
}

func (o *Orchestrator) join(ctx context.Context, meetingID string, req meetings.Requester) (*JoinResult, error) {
	m := o.reg.Get(meetingID)
	if m == nil {
		return nil, meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read under the session lock; the copy fetched above may predate a
	// concurrent status or room change published by another goroutine.
	if cur := o.reg.Get(meetingID); cur != nil {
		m = cur
	}

	if m.Status.Terminal() {
		metrics.RecordJoinDecision(string(meetings.VerdictDeny), string(meetings.ReasonMeetingClosed))
		return nil, &DenialError{Reason: meetings.ReasonMeetingClosed}
	}

	// A participant the host already admitted (or one reconnecting) skips
	// policy re-evaluation; their seat is reserved by the admitted state.
	if p := s.participants[req.UserID]; p != nil {
		switch p.State {
		case meetings.AdmissionAdmitted, meetings.AdmissionConnected:
			return o.grantLocked(ctx, m, s, p, req)
		case meetings.AdmissionWaiting:
			// still waiting for the host; fall through and re-evaluate in
			// case access configuration changed
		}
	}

	occupancy := s.occupancyLocked(req.UserID)
	dec := meetings.DecideAccess(m, occupancy, req)
	metrics.RecordJoinDecision(string(dec.Verdict), string(dec.Reason))

	switch dec.Verdict {
	case meetings.VerdictDeny:
		o.log.Info("join denied", "meeting_id", meetingID, "user", req.UserID, "reason", dec.Reason)
		return nil, &DenialError{Reason: dec.Reason}

	case meetings.VerdictWait:
		p := s.upsertLocked(req)
		p.State = meetings.AdmissionWaiting
		if _, ok := s.waitingSince[p.UserID]; !ok {
			s.waitingSince[p.UserID] = o.now()
		}
		if err := o.store.SaveParticipant(ctx, p); err != nil {
			return nil, fmt.Errorf("persist participant: %w", err)
		}
		o.emitLocked(s, Event{
			Type: EventParticipantState, MeetingID: meetingID,
			UserID: p.UserID, State: p.State, Role: p.Role, At: o.now(),
		})
		o.log.Info("join waiting", "meeting_id", meetingID, "user", req.UserID)
		return &JoinResult{State: meetings.AdmissionWaiting, Participant: *p}, nil

	case meetings.VerdictAdmit:
		p := s.upsertLocked(req)
		return o.grantLocked(ctx, m, s, p, req)

	default:
		return nil, fmt.Errorf("unknown verdict %q", dec.Verdict)
	}
}

// grantLocked reserves the seat, ensures the transport room exists and
// issues the credential. Caller holds s.mu.
func (o *Orchestrator) grantLocked(ctx context.Context, m *meetings.Meeting, s *session, p *meetings.Participant, req meetings.Requester) (*JoinResult, error) {
	if p.State != meetings.AdmissionConnected {
		p.State = meetings.AdmissionAdmitted
	}
	delete(s.waitingSince, p.UserID)
	if err := o.ensureRoomLocked(ctx, m, s); err != nil {
		return nil, err
	}

	cred, err := o.issuer.Issue(p.UserID, p.DisplayName, m.RoomName, canPresent(m, req))
	if err != nil {
		return nil, err
	}

	if m.Status == meetings.StatusScheduled {
		m.Status = meetings.StatusLobbyOpen
		m.UpdatedAt = o.now()
		if err := o.store.SaveMeeting(ctx, m); err != nil {
			return nil, fmt.Errorf("persist meeting: %w", err)
		}
		o.reg.Set(m)
		o.emitLocked(s, Event{Type: EventStatusChanged, MeetingID: m.ID, Status: m.Status, At: o.now()})
	}
	if err := o.store.SaveParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("persist participant: %w", err)
	}
	o.emitLocked(s, Event{
		Type: EventParticipantState, MeetingID: m.ID,
		UserID: p.UserID, State: p.State, Role: p.Role, At: o.now(),
	})
	o.log.Info("join admitted", "meeting_id", m.ID, "user", p.UserID, "room", m.RoomName)
	return &JoinResult{State: p.State, Credential: &cred, Participant: *p}, nil
}

// ensureRoomLocked lazily creates the transport room on the first admitted
// join and starts the server-side room watcher. Caller holds s.mu.
func (o *Orchestrator) ensureRoomLocked(ctx context.Context, m *meetings.Meeting, s *session) error {
	if m.RoomName == "" {
		roomName := "meet-" + m.ID
		if err := o.provider.CreateRoom(ctx, roomName); err != nil && !errors.Is(err, transport.ErrRoomExists) {
			return fmt.Errorf("create room: %w", err)
		}
		m.RoomName = roomName
		m.UpdatedAt = o.now()
		if err := o.store.SaveMeeting(ctx, m); err != nil {
			return fmt.Errorf("persist meeting: %w", err)
		}
		o.reg.Set(m)
	}
	if !s.watching {
		ch, err := o.provider.ObserveRoom(ctx, m.RoomName)
		if err != nil {
			return fmt.Errorf("observe room: %w", err)
		}
		s.watching = true
		go o.watchRoom(m.ID, ch)
	}
	return nil
}

// occupancyLocked counts seats held by other participants. Admitted counts
// as occupied: a seat is reserved the moment the credential is issued, not
// when the client finishes connecting. Caller holds s.mu.
func (s *session) occupancyLocked(exceptUserID string) int {
	n := 0
	for id, p := range s.participants {
		if id == exceptUserID {
			continue
		}
		if p.State == meetings.AdmissionAdmitted || p.State == meetings.AdmissionConnected {
			n++
		}
	}
	return n
}

// upsertLocked finds or creates the participant record for a requester.
// Rejoin reuses the existing record. Caller holds s.mu.
func (s *session) upsertLocked(req meetings.Requester) *meetings.Participant {
	p := s.participants[req.UserID]
	if p == nil {
		role := req.Role
		if role == "" {
			role = meetings.RoleParticipant
		}
		p = &meetings.Participant{
			MeetingID:   s.meetingID,
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			Anonymous:   req.Anonymous,
			Role:        role,
		}
		s.participants[req.UserID] = p
	}
	if req.DisplayName != "" {
		p.DisplayName = req.DisplayName
	}
	return p
}

// canPresent maps the presenter policy onto the credential's publish flag.
func canPresent(m *meetings.Meeting, req meetings.Requester) bool {
	if req.UserID == m.OrganizerID || req.Role.Privileged() {
		return true
	}
	switch m.Access.AllowedPresenters {
	case meetings.PresentersEveryone:
		return true
	case meetings.PresentersOrganization:
		return req.FoundationID != "" && req.FoundationID == m.FoundationID
	case meetings.PresentersSpecific:
		return m.Access.IsInvited(req.UserID)
	default: // host_only and unknown values
		return false
	}
}

// watchRoom consumes the provider's room event feed and reconciles it into
// participant state and the meeting status machine. The feed closes when the
// room is destroyed.
func (o *Orchestrator) watchRoom(meetingID string, ch <-chan transport.Event) {
	for ev := range ch {
		switch ev.Type {
		case transport.EventParticipantJoined:
			o.onConnected(meetingID, ev.ParticipantID)
		case transport.EventParticipantLeft:
			o.onDisconnected(meetingID, ev.ParticipantID, ev.Reason)
		}
	}
}

func (o *Orchestrator) onConnected(meetingID, userID string) {
	ctx := context.Background()
	m := o.reg.Get(meetingID)
	s, err := o.getSession(ctx, meetingID)
	if m == nil || err != nil {
		return
	}

	s.mu.Lock()
	if cur := o.reg.Get(meetingID); cur != nil {
		m = cur
	}
	p := s.participants[userID]
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.State = meetings.AdmissionConnected
	p.JoinedAt = o.now()
	p.LeftAt = time.Time{}
	s.everConnected = true
	s.emptySince = time.Time{}
	connected := s.connectedLocked()

	if meetings.CanTransition(m.Status, meetings.StatusLive) && m.Status != meetings.StatusLive {
		m.Status = meetings.StatusLive
		m.UpdatedAt = o.now()
		o.reg.Set(m)
		if err := o.store.SaveMeeting(ctx, m); err != nil {
			o.log.Error("persist meeting on live transition", "meeting_id", meetingID, "error", err)
		}
		o.emitLocked(s, Event{Type: EventStatusChanged, MeetingID: meetingID, Status: m.Status, At: o.now()})
	}
	if err := o.store.SaveParticipant(ctx, p); err != nil {
		o.log.Error("persist participant", "meeting_id", meetingID, "user", userID, "error", err)
	}
	o.emitLocked(s, Event{
		Type: EventParticipantState, MeetingID: meetingID,
		UserID: userID, State: p.State, Role: p.Role, At: o.now(),
	})
	s.mu.Unlock()

	metrics.SetConnectedParticipants(meetingID, connected)
	metrics.SetActiveMeetings(o.reg.CountByStatus(meetings.StatusLive))
}

func (o *Orchestrator) onDisconnected(meetingID, userID string, reason transport.DisconnectReason) {
	ctx := context.Background()
	m := o.reg.Get(meetingID)
	s, err := o.getSession(ctx, meetingID)
	if m == nil || err != nil {
		return
	}

	s.mu.Lock()
	p := s.participants[userID]
	if p == nil || p.State != meetings.AdmissionConnected {
		s.mu.Unlock()
		return
	}
	if reason == transport.ReasonNetworkDrop {
		// The client may reconnect with its credential; keep the seat.
		p.State = meetings.AdmissionAdmitted
	} else {
		p.State = meetings.AdmissionLeft
		p.LeftAt = o.now()
	}
	connected := s.connectedLocked()
	if connected == 0 && s.everConnected {
		s.emptySince = o.now()
	}
	if err := o.store.SaveParticipant(ctx, p); err != nil {
		o.log.Error("persist participant", "meeting_id", meetingID, "user", userID, "error", err)
	}
	o.emitLocked(s, Event{
		Type: EventParticipantState, MeetingID: meetingID,
		UserID: userID, State: p.State, Role: p.Role, Reason: string(reason), At: o.now(),
	})
	s.mu.Unlock()

	metrics.SetConnectedParticipants(meetingID, connected)

	// Everyone gone: end now or leave a grace period for stragglers. A
	// network drop never ends the meeting here; the dropped seat is still
	// admitted and its credential may reconnect, so the meeting stays live
	// until the janitor grace period or a host end.
	if connected == 0 && o.cfg.EmptyMeetingTimeout <= 0 &&
		reason != transport.ReasonRoomClosed && reason != transport.ReasonNetworkDrop {
		if err := o.endMeeting(ctx, m, s, "system", "last participant left"); err != nil {
			o.log.Error("auto-end empty meeting", "meeting_id", meetingID, "error", err)
		}
	}
}

// connectedLocked counts connected participants. Caller holds s.mu.
func (s *session) connectedLocked() int {
	n := 0
	for _, p := range s.participants {
		if p.State == meetings.AdmissionConnected {
			n++
		}
	}
	return n
}

// Leave records a voluntary exit. Waiting participants simply drop out of
// the queue; connected ones are detached from the room as well.
func (o *Orchestrator) Leave(ctx context.Context, meetingID, userID string) error {
	m := o.reg.Get(meetingID)
	if m == nil {
		return meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p := s.participants[userID]
	if p == nil || p.State == meetings.AdmissionLeft {
		s.mu.Unlock()
		return nil // leaving twice is a no-op
	}
	wasConnected := p.State == meetings.AdmissionConnected
	delete(s.waitingSince, userID)
	if !wasConnected {
		p.State = meetings.AdmissionLeft
		p.LeftAt = o.now()
		if err := o.store.SaveParticipant(ctx, p); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist participant: %w", err)
		}
		o.emitLocked(s, Event{
			Type: EventParticipantState, MeetingID: meetingID,
			UserID: userID, State: p.State, Role: p.Role, At: o.now(),
		})
	}
	s.mu.Unlock()

	if wasConnected {
		// The room watcher observes the disconnect and finishes the bookkeeping.
		if err := o.provider.DisconnectParticipant(ctx, m.RoomName, userID, transport.ReasonClientLeft); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			return fmt.Errorf("disconnect participant: %w", err)
		}
	}
	return nil
}

// Admit moves a waiting participant to admitted. The participant's polling
// Join call then receives the credential. Host or co-host only.
func (o *Orchestrator) Admit(ctx context.Context, meetingID, operatorID, userID string) error {
	return o.resolveWaiting(ctx, meetingID, operatorID, userID, true)
}

// Deny removes a waiting participant from the queue. Host or co-host only.
func (o *Orchestrator) Deny(ctx context.Context, meetingID, operatorID, userID string) error {
	return o.resolveWaiting(ctx, meetingID, operatorID, userID, false)
}

func (o *Orchestrator) resolveWaiting(ctx context.Context, meetingID, operatorID, userID string, admit bool) error {
	m := o.reg.Get(meetingID)
	if m == nil {
		return meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !o.operatorMayModerateLocked(m, s, operatorID) {
		s.mu.Unlock()
		return ErrForbidden
	}
	p := s.participants[userID]
	if p == nil {
		s.mu.Unlock()
		return ErrNotInMeeting
	}
	if p.State != meetings.AdmissionWaiting {
		s.mu.Unlock()
		return ErrNotWaiting
	}

	action := audit.ActionDenyParticipant
	reason := "denied"
	delete(s.waitingSince, userID)
	if admit {
		p.State = meetings.AdmissionAdmitted
		action = audit.ActionAdmitParticipant
		reason = ""
	} else {
		p.State = meetings.AdmissionLeft
		p.LeftAt = o.now()
	}
	if err := o.store.SaveParticipant(ctx, p); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist participant: %w", err)
	}
	o.emitLocked(s, Event{
		Type: EventParticipantState, MeetingID: meetingID,
		UserID: userID, State: p.State, Role: p.Role, Reason: reason, At: o.now(),
	})
	s.mu.Unlock()

	o.auditor.LogActionSimple(operatorID, action, meetingID, "user="+userID)
	o.log.Info("waiting room resolved", "meeting_id", meetingID, "operator", operatorID, "user", userID, "admitted", admit)
	return nil
}

// Kick force-removes a connected participant. Host or co-host only. The
// kicked client sees reason kicked and must not reconnect.
func (o *Orchestrator) Kick(ctx context.Context, meetingID, operatorID, userID string) error {
	m := o.reg.Get(meetingID)
	if m == nil {
		return meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !o.operatorMayModerateLocked(m, s, operatorID) {
		s.mu.Unlock()
		return ErrForbidden
	}
	p := s.participants[userID]
	if p == nil {
		s.mu.Unlock()
		return ErrNotInMeeting
	}
	wasConnected := p.State == meetings.AdmissionConnected
	if !wasConnected {
		// Kicking someone in the lobby is a deny.
		p.State = meetings.AdmissionLeft
		p.LeftAt = o.now()
		if err := o.store.SaveParticipant(ctx, p); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist participant: %w", err)
		}
		o.emitLocked(s, Event{
			Type: EventParticipantState, MeetingID: meetingID,
			UserID: userID, State: p.State, Role: p.Role, Reason: "kicked", At: o.now(),
		})
	}
	s.mu.Unlock()

	if wasConnected {
		if err := o.provider.DisconnectParticipant(ctx, m.RoomName, userID, transport.ReasonKicked); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			return fmt.Errorf("disconnect participant: %w", err)
		}
	}
	o.auditor.LogActionSimple(operatorID, audit.ActionKickParticipant, meetingID, "user="+userID)
	return nil
}

// operatorMayModerateLocked reports whether operatorID holds a moderation
// role in the meeting. Caller holds s.mu.
func (o *Orchestrator) operatorMayModerateLocked(m *meetings.Meeting, s *session, operatorID string) bool {
	if operatorID == m.OrganizerID {
		return true
	}
	if p := s.participants[operatorID]; p != nil {
		return p.Role.Privileged() || p.Role == meetings.RoleModerator
	}
	return false
}

// MediaUpdate 媒体状态变更；nil 字段保持不变
type MediaUpdate struct {
	AudioOn    *bool `json:"audio_on,omitempty"`
	VideoOn    *bool `json:"video_on,omitempty"`
	HandRaised *bool `json:"hand_raised,omitempty"`
}

// UpdateMedia changes a connected participant's own media flags. Camera and
// screen share toggles are independent at the transport layer; here the
// server just tracks the advertised state for the roster.
func (o *Orchestrator) UpdateMedia(ctx context.Context, meetingID, userID string, upd MediaUpdate) (*meetings.Participant, error) {
	m := o.reg.Get(meetingID)
	if m == nil {
		return nil, meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participants[userID]
	if p == nil {
		return nil, ErrNotInMeeting
	}
	if p.State != meetings.AdmissionConnected {
		return nil, ErrNotConnected
	}

	if upd.AudioOn != nil {
		p.AudioOn = *upd.AudioOn
	}
	if upd.VideoOn != nil {
		p.VideoOn = *upd.VideoOn
	}
	if upd.HandRaised != nil {
		p.HandRaised = *upd.HandRaised
	}
	if err := o.store.SaveParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("persist participant: %w", err)
	}
	o.emitLocked(s, Event{
		Type: EventMediaChanged, MeetingID: meetingID,
		UserID: userID, AudioOn: p.AudioOn, VideoOn: p.VideoOn, HandUp: p.HandRaised, At: o.now(),
	})
	snapshot := *p
	return &snapshot, nil
}

// End terminates the meeting: revokes outstanding credentials, destroys the
// room and marks everyone left. Idempotent; ending an already-ended meeting
// is a no-op. Host always may end; co-hosts per configuration.
func (o *Orchestrator) End(ctx context.Context, meetingID, requesterID string) error {
	m := o.reg.Get(meetingID)
	if m == nil {
		return meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	allowed := requesterID == m.OrganizerID
	if !allowed {
		if p := s.participants[requesterID]; p != nil {
			allowed = p.Role == meetings.RoleHost || (o.cfg.CoHostMayEnd && p.Role == meetings.RoleCoHost)
		}
	}
	s.mu.Unlock()
	if !allowed {
		return ErrForbidden
	}

	if err := o.endMeeting(ctx, m, s, requesterID, "ended by host"); err != nil {
		return err
	}
	o.auditor.LogActionSimple(requesterID, audit.ActionEndMeeting, meetingID, "")
	return nil
}

// endMeeting performs the teardown. Callers must not hold s.mu.
func (o *Orchestrator) endMeeting(ctx context.Context, m *meetings.Meeting, s *session, operator, detail string) error {
	s.mu.Lock()
	if cur := o.reg.Get(m.ID); cur != nil {
		m = cur
	}
	if m.Status.Terminal() || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	m.Status = meetings.StatusEnded
	m.UpdatedAt = o.now()
	o.reg.Set(m)
	if err := o.store.SaveMeeting(ctx, m); err != nil {
		o.log.Error("persist meeting on end", "meeting_id", m.ID, "error", err)
	}

	for _, p := range s.participants {
		if p.State == meetings.AdmissionLeft {
			continue
		}
		p.State = meetings.AdmissionLeft
		p.LeftAt = o.now()
		if err := o.store.SaveParticipant(ctx, p); err != nil {
			o.log.Error("persist participant on end", "meeting_id", m.ID, "user", p.UserID, "error", err)
		}
	}

	o.emitLocked(s, Event{Type: EventMeetingEnded, MeetingID: m.ID, Status: m.Status, Reason: detail, At: o.now()})
	for sub := range s.subs {
		close(sub.ch)
	}
	s.subs = map[*subscriber]struct{}{}
	roomName := m.RoomName
	s.mu.Unlock()

	if roomName != "" {
		// Revoke first so no credential issued before this point can be
		// replayed against a recreated room.
		if err := o.provider.RevokeRoomCredentials(ctx, roomName); err != nil && !errors.Is(err, transport.ErrRoomNotFound) {
			o.log.Error("revoke room credentials", "room", roomName, "error", err)
		}
		if err := o.provider.DestroyRoom(ctx, roomName); err != nil && !errors.Is(err, transport.ErrRoomNotFound) {
			o.log.Error("destroy room", "room", roomName, "error", err)
		}
	}

	metrics.DropMeetingGauges(m.ID)
	metrics.SetActiveMeetings(o.reg.CountByStatus(meetings.StatusLive))
	if o.onEnded != nil {
		o.onEnded(m.ID)
	}
	o.log.Info("meeting ended", "meeting_id", m.ID, "operator", operator, "detail", detail)
	return nil
}

// Roster returns a snapshot of every participant record for a meeting.
func (o *Orchestrator) Roster(ctx context.Context, meetingID string) ([]meetings.Participant, error) {
	if o.reg.Get(meetingID) == nil {
		return nil, meetings.ErrMeetingNotFound
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]meetings.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out, nil
}

// Subscribe attaches an event subscriber to a meeting. The returned cancel
// func detaches it; the channel closes when the meeting ends.
func (o *Orchestrator) Subscribe(ctx context.Context, meetingID string) (<-chan Event, func(), error) {
	m := o.reg.Get(meetingID)
	if m == nil {
		return nil, nil, meetings.ErrMeetingNotFound
	}
	if m.Status.Terminal() {
		return nil, nil, ErrMeetingInactive
	}
	s, err := o.getSession(ctx, meetingID)
	if err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan Event, 64)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrMeetingInactive
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

// emitLocked fans an event out to the session's subscribers. Caller holds s.mu.
func (o *Orchestrator) emitLocked(s *session, ev Event) {
	for sub := range s.subs {
		sub.push(ev)
	}
}

// RunJanitor sweeps sessions on the interval until ctx is cancelled,
// expiring stale waiting-room entries and ending meetings left empty past
// the grace period.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx, o.now())
		}
	}
}

// sweep applies the time-based policies once. Separated from RunJanitor so
// tests can drive it with a synthetic clock.
func (o *Orchestrator) sweep(ctx context.Context, now time.Time) {
	o.mu.Lock()
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, s := range sessions {
		m := o.reg.Get(s.meetingID)
		if m == nil || m.Status.Terminal() {
			continue
		}

		var expired []*meetings.Participant
		endEmpty := false

		s.mu.Lock()
		for uid, since := range s.waitingSince {
			p := s.participants[uid]
			if p == nil || p.State != meetings.AdmissionWaiting {
				delete(s.waitingSince, uid)
				continue
			}
			if o.cfg.WaitingTimeout > 0 && now.Sub(since) >= o.cfg.WaitingTimeout {
				p.State = meetings.AdmissionLeft
				p.LeftAt = now
				delete(s.waitingSince, uid)
				expired = append(expired, p)
				o.emitLocked(s, Event{
					Type: EventParticipantState, MeetingID: s.meetingID,
					UserID: uid, State: p.State, Role: p.Role, Reason: "waiting_timeout", At: now,
				})
			}
		}
		if o.cfg.EmptyMeetingTimeout > 0 && s.everConnected && !s.emptySince.IsZero() &&
			now.Sub(s.emptySince) >= o.cfg.EmptyMeetingTimeout && s.connectedLocked() == 0 {
			endEmpty = true
		}
		s.mu.Unlock()

		for _, p := range expired {
			if err := o.store.SaveParticipant(ctx, p); err != nil {
				o.log.Error("persist expired waiter", "meeting_id", s.meetingID, "user", p.UserID, "error", err)
			}
			o.log.Info("waiting room timeout", "meeting_id", s.meetingID, "user", p.UserID)
		}
		if endEmpty {
			if err := o.endMeeting(ctx, m, s, "system", "empty meeting timeout"); err != nil {
				o.log.Error("end empty meeting", "meeting_id", s.meetingID, "error", err)
			}
		}
	}
}
