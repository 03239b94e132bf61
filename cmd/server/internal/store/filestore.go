// Package store provides persistence backends for meeting records.
// The file store mirrors the registry persistence used elsewhere in the
// product: a single JSON state file written atomically via tmp + rename,
// plus per-meeting JSONL chat logs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

type persistedState struct {
	Meetings     []*meetings.Meeting     `json:"meetings"`
	Participants []*meetings.Participant `json:"participants"`
}

// FileStore 基于 JSON 文件的存储实现
type FileStore struct {
	mu           sync.Mutex
	dir          string
	statePath    string
	meetings     map[string]*meetings.Meeting
	participants map[string]map[string]*meetings.Participant // meetingID -> userID -> record
}

// NewFileStore creates the state directory if needed and loads existing state.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "chat"), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &FileStore{
		dir:          dir,
		statePath:    filepath.Join(dir, "meetings.json"),
		meetings:     map[string]*meetings.Meeting{},
		participants: map[string]map[string]*meetings.Participant{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no file yet
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	for _, m := range st.Meetings {
		s.meetings[m.ID] = m
	}
	for _, p := range st.Participants {
		byUser := s.participants[p.MeetingID]
		if byUser == nil {
			byUser = map[string]*meetings.Participant{}
			s.participants[p.MeetingID] = byUser
		}
		byUser[p.UserID] = p
	}
	return nil
}

// flush writes the whole state atomically. Caller must hold s.mu.
func (s *FileStore) flush() error {
	st := persistedState{}
	for _, m := range s.meetings {
		st.Meetings = append(st.Meetings, m)
	}
	for _, byUser := range s.participants {
		for _, p := range byUser {
			st.Participants = append(st.Participants, p)
		}
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}

// SaveMeeting stores or updates a meeting record.
func (s *FileStore) SaveMeeting(_ context.Context, m *meetings.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = m
	return s.flush()
}

// LoadMeetings returns all persisted meetings.
func (s *FileStore) LoadMeetings(_ context.Context) ([]*meetings.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*meetings.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		list = append(list, m)
	}
	return list, nil
}

// SaveParticipant upserts the record for (meeting, identity).
func (s *FileStore) SaveParticipant(_ context.Context, p *meetings.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.participants[p.MeetingID]
	if byUser == nil {
		byUser = map[string]*meetings.Participant{}
		s.participants[p.MeetingID] = byUser
	}
	byUser[p.UserID] = p
	return s.flush()
}

// ListParticipants returns all participant records for a meeting.
func (s *FileStore) ListParticipants(_ context.Context, meetingID string) ([]*meetings.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.participants[meetingID]
	list := make([]*meetings.Participant, 0, len(byUser))
	for _, p := range byUser {
		list = append(list, p)
	}
	return list, nil
}

// AppendChatMessage appends one JSONL line to the meeting's chat log.
func (s *FileStore) AppendChatMessage(_ context.Context, msg *meetings.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	path := filepath.Join(s.dir, "chat", msg.MeetingID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chat log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write chat log: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }
