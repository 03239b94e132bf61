package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

func TestFileStoreMeetingsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	m := &meetings.Meeting{
		ID:          "mtg-1",
		OrganizerID: "alice",
		Title:       "persisted",
		Status:      meetings.StatusScheduled,
		Capacity:    10,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveMeeting(ctx, m))

	// Update in place, same ID must not duplicate.
	m.Status = meetings.StatusLive
	require.NoError(t, s.SaveMeeting(ctx, m))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	loaded, err := reopened.LoadMeetings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "persisted", loaded[0].Title)
	assert.Equal(t, meetings.StatusLive, loaded[0].Status)
}

func TestFileStoreParticipantsKeyedByMeetingAndUser(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	p := &meetings.Participant{
		MeetingID: "mtg-1", UserID: "bob",
		Role: meetings.RoleParticipant, State: meetings.AdmissionWaiting,
	}
	require.NoError(t, s.SaveParticipant(ctx, p))

	// Upsert: the same identity transitions rather than duplicating.
	p.State = meetings.AdmissionConnected
	require.NoError(t, s.SaveParticipant(ctx, p))
	require.NoError(t, s.SaveParticipant(ctx, &meetings.Participant{
		MeetingID: "mtg-2", UserID: "bob", State: meetings.AdmissionWaiting,
	}))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	list, err := reopened.ListParticipants(ctx, "mtg-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, meetings.AdmissionConnected, list[0].State)

	other, err := reopened.ListParticipants(ctx, "mtg-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	empty, err := reopened.ListParticipants(ctx, "mtg-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFileStoreChatLogAppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.AppendChatMessage(ctx, &meetings.ChatMessage{
			ID: "msg", MeetingID: "mtg-1", SenderID: "bob",
			Text: "hello", SentAt: time.Now(), Seq: i,
		}))
	}

	f, err := os.Open(filepath.Join(dir, "chat", "mtg-1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var seqs []uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var msg meetings.ChatMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
		seqs = append(seqs, msg.Seq)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestFileStoreEmptyDirStartsClean(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	loaded, err := s.LoadMeetings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chat"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meetings.json"), []byte("{not json"), 0o644))

	_, err := NewFileStore(dir)
	assert.Error(t, err)
}
