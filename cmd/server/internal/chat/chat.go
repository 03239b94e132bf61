// Package chat implements the in-session text channel: best-effort ordered
// fan-out to live WebSocket subscribers plus append-only retention through
// the meeting store. Messages are never edited or deleted.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/pkg/metrics"
)

// MaxMessageLen bounds a single chat message.
const MaxMessageLen = 4096

// historyLimit 附加时回放给新订阅者的最近消息条数
const historyLimit = 200

var (
	ErrEmptyMessage   = errors.New("chat: message text is empty")
	ErrMessageTooLong = errors.New("chat: message exceeds maximum length")
	ErrNotMember      = errors.New("chat: sender is not connected to the meeting")
	ErrRoomClosed     = errors.New("chat: meeting chat is closed")
)

// Membership 校验发送者是否在会中；由会话编排器实现
type Membership interface {
	IsConnected(ctx context.Context, meetingID, userID string) bool
}

// Service 管理所有会议的聊天房间
type Service struct {
	store   meetings.Store
	members Membership
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

// NewService creates the chat service.
func NewService(store meetings.Store, members Membership, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		members: members,
		log:     log,
		now:     time.Now,
		rooms:   map[string]*room{},
	}
}

// room 单个会议的聊天状态；seq 在 mu 下递增，保证到达顺序可复现
type room struct {
	mu      sync.Mutex
	closed  bool
	seq     uint64
	history []*meetings.ChatMessage
	subs    map[*Subscriber]struct{}
}

// Subscriber 单个聊天订阅者；慢消费者丢消息而不是阻塞发送方
type Subscriber struct {
	C chan *meetings.ChatMessage
}

func (s *Subscriber) push(msg *meetings.ChatMessage) {
	select {
	case s.C <- msg:
	default:
	}
}

func (s *Service) getRoom(meetingID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[meetingID]
	if !ok {
		r = &room{subs: map[*Subscriber]struct{}{}}
		s.rooms[meetingID] = r
	}
	return r
}

// Send validates, orders, persists and fans out one message. Only connected
// participants may send.
func (s *Service) Send(ctx context.Context, meetingID, senderID, senderName, text string) (*meetings.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	if s.members != nil && !s.members.IsConnected(ctx, meetingID, senderID) {
		return nil, ErrNotMember
	}

	r := s.getRoom(meetingID)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	r.seq++
	msg := &meetings.ChatMessage{
		ID:         uuid.NewString(),
		MeetingID:  meetingID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		SentAt:     s.now(),
		Seq:        r.seq,
	}
	r.history = append(r.history, msg)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
	for sub := range r.subs {
		sub.push(msg)
	}
	r.mu.Unlock()

	if err := s.store.AppendChatMessage(ctx, msg); err != nil {
		// Delivery already happened; retention failure is logged, not
		// surfaced to the sender.
		s.log.Error("append chat message", "meeting_id", meetingID, "error", err)
	}
	metrics.RecordChatMessage(meetingID)
	return msg, nil
}

// Subscribe attaches a subscriber and replays recent history in order. The
// cancel func detaches; the channel closes when the chat is closed.
func (s *Service) Subscribe(meetingID string) (*Subscriber, func(), error) {
	r := s.getRoom(meetingID)
	sub := &Subscriber{C: make(chan *meetings.ChatMessage, 128)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrRoomClosed
	}
	replay := make([]*meetings.ChatMessage, len(r.history))
	copy(replay, r.history)
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	sort.Slice(replay, func(i, j int) bool { return replay[i].Before(replay[j]) })
	for _, msg := range replay {
		sub.push(msg)
	}

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[sub]; ok {
			delete(r.subs, sub)
			close(sub.C)
		}
		r.mu.Unlock()
	}
	return sub, cancel, nil
}

// CloseRoom shuts the meeting's chat down, detaching every subscriber.
// Called when the meeting ends. Idempotent.
func (s *Service) CloseRoom(meetingID string) {
	s.mu.Lock()
	r, ok := s.rooms[meetingID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		for sub := range r.subs {
			close(sub.C)
		}
		r.subs = map[*Subscriber]struct{}{}
	}
	r.mu.Unlock()
}
