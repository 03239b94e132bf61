package orchestrator

import (
	"time"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

// EventType 会议事件类型，推送给 /ws/meetings/:id/events 的订阅者
type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventParticipantState EventType = "participant_state"
	EventMediaChanged     EventType = "media_changed"
	EventMeetingEnded     EventType = "meeting_ended"
)

// Event 会议级别的 roster/生命周期事件
type Event struct {
	Type      EventType               `json:"type"`
	MeetingID string                  `json:"meeting_id"`
	Status    meetings.Status         `json:"status,omitempty"`
	UserID    string                  `json:"user_id,omitempty"`
	State     meetings.AdmissionState `json:"state,omitempty"`
	Role      meetings.Role           `json:"role,omitempty"`
	AudioOn   bool                    `json:"audio_on,omitempty"`
	VideoOn   bool                    `json:"video_on,omitempty"`
	HandUp    bool                    `json:"hand_raised,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	At        time.Time               `json:"at"`
}

// subscriber 单个事件订阅者；慢消费者丢事件而不是阻塞会话锁
type subscriber struct {
	ch chan Event
}

func (s *subscriber) push(ev Event) {
	select {
	case s.ch <- ev:
	default:
	}
}
