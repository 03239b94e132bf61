package meetings

import (
	"context"
	"time"
)

// ChatMessage 会话内聊天消息，按 (SentAt, Seq) 全序排列
// 只追加，范围内不支持编辑或删除
type ChatMessage struct {
	ID         string    `json:"id"`
	MeetingID  string    `json:"meeting_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
	Seq        uint64    `json:"seq"`
}

// Before reports whether m orders strictly before other: send timestamp
// first, arrival sequence as the stable tie-break.
func (m *ChatMessage) Before(other *ChatMessage) bool {
	if m.SentAt.Equal(other.SentAt) {
		return m.Seq < other.Seq
	}
	return m.SentAt.Before(other.SentAt)
}

// Store is the persistence collaborator for meeting records. The service
// ships a JSON-file implementation and a Postgres implementation; the domain
// only ever sees this interface.
type Store interface {
	SaveMeeting(ctx context.Context, m *Meeting) error
	LoadMeetings(ctx context.Context) ([]*Meeting, error)

	SaveParticipant(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, meetingID string) ([]*Participant, error)

	// AppendChatMessage retains messages for audit; delivery to live
	// subscribers never reads them back.
	AppendChatMessage(ctx context.Context, msg *ChatMessage) error

	Close() error
}
