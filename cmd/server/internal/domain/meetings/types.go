package meetings

import (
	"sync"
	"time"
)

// MeetingType 会议类型
type MeetingType string

const (
	TypeInstant   MeetingType = "instant"
	TypeScheduled MeetingType = "scheduled"
)

// LocationType 会议地点类型
type LocationType string

const (
	LocationOnline   LocationType = "online"
	LocationInPerson LocationType = "in_person"
	LocationHybrid   LocationType = "hybrid"
)

// Status 会议生命周期状态
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLobbyOpen Status = "lobby_open"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// CanTransition 校验状态机允许的迁移
// scheduled → lobby_open → live → ended，任意非终态 → cancelled
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusLobbyOpen:
		return from == StatusScheduled
	case StatusLive:
		return from == StatusScheduled || from == StatusLobbyOpen
	case StatusEnded:
		return from == StatusLobbyOpen || from == StatusLive
	case StatusCancelled:
		return true
	default:
		return false
	}
}

// Role 参会角色
type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "co_host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// Privileged reports whether the role bypasses admission policy entirely.
func (r Role) Privileged() bool {
	return r == RoleHost || r == RoleCoHost
}

// AdmissionState 参会者准入状态
type AdmissionState string

const (
	AdmissionInvited   AdmissionState = "invited"
	AdmissionWaiting   AdmissionState = "waiting"
	AdmissionAdmitted  AdmissionState = "admitted"
	AdmissionConnected AdmissionState = "connected"
	AdmissionLeft      AdmissionState = "left"
)

// LobbyBypass 等候室跳过策略
type LobbyBypass string

const (
	BypassEveryone     LobbyBypass = "everyone"
	BypassInvited      LobbyBypass = "invited"
	BypassOrganization LobbyBypass = "organization"
	BypassNobody       LobbyBypass = "nobody"
)

// PresenterPolicy 允许共享/演示的范围
type PresenterPolicy string

const (
	PresentersEveryone     PresenterPolicy = "everyone"
	PresentersOrganization PresenterPolicy = "organization"
	PresentersSpecific     PresenterPolicy = "specific"
	PresentersHostOnly     PresenterPolicy = "host_only"
)

// AccessConfiguration 会议准入配置，嵌入在 Meeting 中
type AccessConfiguration struct {
	InvitedParticipantIDs []string        `json:"invited_participant_ids"`
	AllowUninvitedJoin    bool            `json:"allow_uninvited_join"`
	LobbyBypassType       LobbyBypass     `json:"lobby_bypass_type"`
	AllowedPresenters     PresenterPolicy `json:"allowed_presenters"`
	RecordingEnabled      bool            `json:"recording_enabled"`
	WaitingRoomEnabled    bool            `json:"waiting_room_enabled"`
}

// IsInvited reports whether userID appears in the invited set.
func (a *AccessConfiguration) IsInvited(userID string) bool {
	for _, id := range a.InvitedParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Meeting 会议实体
// 仅由组织者（改期/取消，开始前）或 orchestrator（状态迁移）修改，
// 从不删除，终态 ended/cancelled 保留以供审计
type Meeting struct {
	ID           string              `json:"id"`
	FoundationID string              `json:"foundation_id"`
	OrganizerID  string              `json:"organizer_id"`
	Title        string              `json:"title"`
	Description  string              `json:"description,omitempty"`
	Type         MeetingType         `json:"type"`
	StartAt      time.Time           `json:"start_at"`
	EndAt        time.Time           `json:"end_at"`
	AllDay       bool                `json:"all_day"`
	LocationType LocationType        `json:"location_type"`
	Location     string              `json:"location,omitempty"`
	Capacity     int                 `json:"capacity"`
	Access       AccessConfiguration `json:"access"`
	Status       Status              `json:"status"`
	// RoomName is the external transport room, assigned lazily on first
	// admitted join. Empty until then.
	RoomName  string    `json:"room_name,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant 参会者记录，(meeting, identity) 唯一
// 重新加入复用同一条记录并回到 connected
type Participant struct {
	MeetingID   string         `json:"meeting_id"`
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Anonymous   bool           `json:"anonymous,omitempty"`
	Role        Role           `json:"role"`
	State       AdmissionState `json:"state"`
	AudioOn     bool           `json:"audio_on"`
	VideoOn     bool           `json:"video_on"`
	HandRaised  bool           `json:"hand_raised"`
	JoinedAt    time.Time      `json:"joined_at,omitempty"`
	LeftAt      time.Time      `json:"left_at,omitempty"`
}

// Registry maintains a thread-safe collection of meetings.
// Get/List hand out copies and Set stores a copy, so callers mutate their
// own snapshot and publish it back with Set; readers never share a struct
// with a writer.
type Registry struct {
	mu sync.Mutex
	m  map[string]*Meeting
}

// NewRegistry creates a new meeting registry
func NewRegistry() *Registry {
	return &Registry{m: map[string]*Meeting{}}
}

// Get retrieves a copy of the meeting, or nil if unknown.
func (r *Registry) Get(id string) *Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.m[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Set stores or updates a meeting
func (r *Registry) Set(m *Meeting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.m[m.ID] = &cp
}

// List returns copies of all meetings.
func (r *Registry) List() []*Meeting {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*Meeting, 0, len(r.m))
	for _, m := range r.m {
		cp := *m
		list = append(list, &cp)
	}
	return list
}

// CountByStatus returns the number of meetings currently in the given status.
func (r *Registry) CountByStatus(s Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.m {
		if m.Status == s {
			n++
		}
	}
	return n
}
