package meetings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scholarbase/meetsvc/cmd/server/internal/audit"
)

// scheduler.go - meeting creation and pre-start mutation
// Creating a meeting never allocates a transport room; rooms are created
// lazily on the first admitted join so meetings that are rescheduled or
// cancelled before anyone shows up leave no orphaned provider resources.

// Validation and mutation errors surfaced at the scheduling form.
var (
	ErrEmptyTitle       = errors.New("EMPTY_TITLE: meeting title is required")
	ErrInvalidSchedule  = errors.New("INVALID_SCHEDULE: end time must be strictly after start time")
	ErrLocationRequired = errors.New("LOCATION_REQUIRED: location is required for in-person and hybrid meetings")
	ErrInvalidCapacity  = errors.New("INVALID_CAPACITY: capacity must be at least 1")
	ErrMeetingNotFound  = errors.New("meeting not found")
	ErrNotOrganizer     = errors.New("only the organizer may modify the meeting")
	ErrAlreadyStarted   = errors.New("meeting already started")
)

// WarnUnreachable 在创建响应中提示“除组织者外无人可入会”的配置
const WarnUnreachable = "allow_uninvited_join is off and no participants are invited: only the organizer will ever be admitted"

// CreateInput 创建会议的组织者输入
type CreateInput struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Type         MeetingType         `json:"type"`
	StartAt      time.Time           `json:"start_at"`
	EndAt        time.Time           `json:"end_at"`
	AllDay       bool                `json:"all_day"`
	LocationType LocationType        `json:"location_type"`
	Location     string              `json:"location"`
	Capacity     int                 `json:"capacity"`
	Access       AccessConfiguration `json:"access"`
}

// Scheduler 负责会议的创建、改期与取消
type Scheduler struct {
	reg     *Registry
	store   Store
	now     func() time.Time
	log     *slog.Logger
	auditor audit.AuditLogger
}

// NewScheduler 创建 Scheduler；now 为空时使用 time.Now
func NewScheduler(reg *Registry, store Store, now func() time.Time, log *slog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{reg: reg, store: store, now: now, log: log, auditor: audit.NopAuditLogger{}}
}

// SetAuditor 设置审计记录器；必须在开始服务前调用
func (s *Scheduler) SetAuditor(a audit.AuditLogger) {
	if a != nil {
		s.auditor = a
	}
}

// Create validates organizer input and persists a new meeting in scheduled
// status. Validation errors are returned before anything is persisted.
func (s *Scheduler) Create(ctx context.Context, organizerID string, in CreateInput) (*Meeting, error) {
	now := s.now()

	if in.Title == "" {
		return nil, ErrEmptyTitle
	}
	if in.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	start, end := in.StartAt, in.EndAt
	if in.Type == TypeInstant && start.IsZero() {
		start = now
	}
	if in.AllDay {
		// All-day events normalize to day boundaries: [00:00 of start day,
		// 00:00 of the day after end day).
		start = startOfDay(start)
		if end.IsZero() {
			end = start.AddDate(0, 0, 1)
		} else {
			end = startOfDay(end).AddDate(0, 0, 1)
		}
	}
	if !end.IsZero() && !end.After(start) {
		return nil, ErrInvalidSchedule
	}

	if in.LocationType == LocationInPerson || in.LocationType == LocationHybrid {
		if in.Location == "" {
			return nil, ErrLocationRequired
		}
	}
	if in.LocationType == "" {
		in.LocationType = LocationOnline
	}
	if in.Access.LobbyBypassType == "" {
		in.Access.LobbyBypassType = BypassInvited
	}
	if in.Access.AllowedPresenters == "" {
		in.Access.AllowedPresenters = PresentersEveryone
	}

	m := &Meeting{
		ID:           uuid.NewString(),
		FoundationID: foundationFromContext(ctx),
		OrganizerID:  organizerID,
		Title:        in.Title,
		Description:  in.Description,
		Type:         in.Type,
		StartAt:      start,
		EndAt:        end,
		AllDay:       in.AllDay,
		LocationType: in.LocationType,
		Location:     in.Location,
		Capacity:     in.Capacity,
		Access:       in.Access,
		Status:       StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.Type == "" {
		m.Type = TypeScheduled
	}

	// Surface the unreachable-meeting configuration at creation time instead
	// of silently persisting a meeting nobody can enter.
	if !m.Access.AllowUninvitedJoin && len(m.Access.InvitedParticipantIDs) == 0 {
		m.Warnings = append(m.Warnings, WarnUnreachable)
	}

	if err := s.store.SaveMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("persist meeting: %w", err)
	}
	s.reg.Set(m)

	s.auditor.LogActionSimple(organizerID, audit.ActionCreateMeeting, m.ID, "title="+m.Title)
	s.log.Info("meeting created",
		"meeting_id", m.ID,
		"organizer", organizerID,
		"type", m.Type,
		"capacity", m.Capacity,
		"warnings", len(m.Warnings),
	)
	return m, nil
}

// RescheduleInput 改期输入；零值字段保持不变
type RescheduleInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
}

// Reschedule updates the schedule window before the meeting starts.
// Organizer only; meetings past scheduled status cannot be rescheduled.
func (s *Scheduler) Reschedule(ctx context.Context, requesterID, meetingID string, in RescheduleInput) (*Meeting, error) {
	m := s.reg.Get(meetingID)
	if m == nil {
		return nil, ErrMeetingNotFound
	}
	if m.OrganizerID != requesterID {
		return nil, ErrNotOrganizer
	}
	if m.Status != StatusScheduled {
		return nil, ErrAlreadyStarted
	}

	start, end := m.StartAt, m.EndAt
	if !in.StartAt.IsZero() {
		start = in.StartAt
	}
	if !in.EndAt.IsZero() {
		end = in.EndAt
	}
	if !end.IsZero() && !end.After(start) {
		return nil, ErrInvalidSchedule
	}

	m.StartAt, m.EndAt = start, end
	if in.Title != "" {
		m.Title = in.Title
	}
	if in.Description != "" {
		m.Description = in.Description
	}
	m.UpdatedAt = s.now()

	if err := s.store.SaveMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("persist meeting: %w", err)
	}
	s.reg.Set(m)
	s.auditor.LogActionSimple(requesterID, audit.ActionRescheduleMeeting, m.ID, "")
	return m, nil
}

// Cancel marks the meeting cancelled (terminal). Organizer only.
// Cancelled meetings are retained for audit, never removed.
func (s *Scheduler) Cancel(ctx context.Context, requesterID, meetingID string) (*Meeting, error) {
	m := s.reg.Get(meetingID)
	if m == nil {
		return nil, ErrMeetingNotFound
	}
	if m.OrganizerID != requesterID {
		return nil, ErrNotOrganizer
	}
	if m.Status.Terminal() {
		// cancelling a finished meeting is a no-op
		return m, nil
	}

	m.Status = StatusCancelled
	m.UpdatedAt = s.now()
	if err := s.store.SaveMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("persist meeting: %w", err)
	}
	s.reg.Set(m)

	s.auditor.LogActionSimple(requesterID, audit.ActionCancelMeeting, m.ID, "")
	s.log.Info("meeting cancelled", "meeting_id", m.ID, "organizer", requesterID)
	return m, nil
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

type ctxKey string

// CtxFoundationID carries the caller's foundation scope through request context.
const CtxFoundationID ctxKey = "foundation_id"

func foundationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxFoundationID).(string); ok {
		return v
	}
	return ""
}
