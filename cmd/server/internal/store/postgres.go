package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

// PostgresStore 基于 PostgreSQL 的存储实现
// 部署设置 DATABASE_URL 时启用；access 配置与 warnings 以 JSONB 存储
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
			id            TEXT PRIMARY KEY,
			foundation_id TEXT NOT NULL DEFAULT '',
			organizer_id  TEXT NOT NULL,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL,
			start_at      TIMESTAMPTZ,
			end_at        TIMESTAMPTZ,
			all_day       BOOLEAN NOT NULL DEFAULT FALSE,
			location_type TEXT NOT NULL,
			location      TEXT NOT NULL DEFAULT '',
			capacity      INT NOT NULL,
			access        JSONB NOT NULL,
			status        TEXT NOT NULL,
			room_name     TEXT NOT NULL DEFAULT '',
			warnings      JSONB,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			meeting_id   TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			anonymous    BOOLEAN NOT NULL DEFAULT FALSE,
			role         TEXT NOT NULL,
			state        TEXT NOT NULL,
			audio_on     BOOLEAN NOT NULL DEFAULT FALSE,
			video_on     BOOLEAN NOT NULL DEFAULT FALSE,
			hand_raised  BOOLEAN NOT NULL DEFAULT FALSE,
			joined_at    TIMESTAMPTZ,
			left_at      TIMESTAMPTZ,
			PRIMARY KEY (meeting_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id         TEXT PRIMARY KEY,
			meeting_id TEXT NOT NULL,
			sender_id  TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL,
			sent_at    TIMESTAMPTZ NOT NULL,
			seq        BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveMeeting upserts a meeting row.
func (s *PostgresStore) SaveMeeting(ctx context.Context, m *meetings.Meeting) error {
	access, err := json.Marshal(m.Access)
	if err != nil {
		return fmt.Errorf("marshal access config: %w", err)
	}
	warnings, err := json.Marshal(m.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, foundation_id, organizer_id, title, description, type,
			start_at, end_at, all_day, location_type, location, capacity, access,
			status, room_name, warnings, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description,
			start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
			all_day = EXCLUDED.all_day, location_type = EXCLUDED.location_type,
			location = EXCLUDED.location, capacity = EXCLUDED.capacity,
			access = EXCLUDED.access, status = EXCLUDED.status,
			room_name = EXCLUDED.room_name, warnings = EXCLUDED.warnings,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.FoundationID, m.OrganizerID, m.Title, m.Description, m.Type,
		m.StartAt, m.EndAt, m.AllDay, m.LocationType, m.Location, m.Capacity, access,
		m.Status, m.RoomName, warnings, m.CreatedAt, m.UpdatedAt)
	return err
}

// LoadMeetings returns all meeting rows.
func (s *PostgresStore) LoadMeetings(ctx context.Context) ([]*meetings.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, foundation_id, organizer_id, title, description, type,
			start_at, end_at, all_day, location_type, location, capacity, access,
			status, room_name, warnings, created_at, updated_at
		FROM meetings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*meetings.Meeting
	for rows.Next() {
		var m meetings.Meeting
		var access, warnings []byte
		err := rows.Scan(&m.ID, &m.FoundationID, &m.OrganizerID, &m.Title, &m.Description, &m.Type,
			&m.StartAt, &m.EndAt, &m.AllDay, &m.LocationType, &m.Location, &m.Capacity, &access,
			&m.Status, &m.RoomName, &warnings, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(access, &m.Access); err != nil {
			return nil, fmt.Errorf("unmarshal access config: %w", err)
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &m.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshal warnings: %w", err)
			}
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

// SaveParticipant upserts the record for (meeting, identity).
func (s *PostgresStore) SaveParticipant(ctx context.Context, p *meetings.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (meeting_id, user_id, display_name, anonymous, role,
			state, audio_on, video_on, hand_raised, joined_at, left_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (meeting_id, user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name, role = EXCLUDED.role,
			state = EXCLUDED.state, audio_on = EXCLUDED.audio_on,
			video_on = EXCLUDED.video_on, hand_raised = EXCLUDED.hand_raised,
			joined_at = EXCLUDED.joined_at, left_at = EXCLUDED.left_at
	`, p.MeetingID, p.UserID, p.DisplayName, p.Anonymous, p.Role,
		p.State, p.AudioOn, p.VideoOn, p.HandRaised, nullableTime(p.JoinedAt), nullableTime(p.LeftAt))
	return err
}

// ListParticipants returns all participant records for a meeting.
func (s *PostgresStore) ListParticipants(ctx context.Context, meetingID string) ([]*meetings.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meeting_id, user_id, display_name, anonymous, role, state,
			audio_on, video_on, hand_raised, joined_at, left_at
		FROM participants WHERE meeting_id = $1`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*meetings.Participant
	for rows.Next() {
		var p meetings.Participant
		var joined, left sql.NullTime
		err := rows.Scan(&p.MeetingID, &p.UserID, &p.DisplayName, &p.Anonymous, &p.Role, &p.State,
			&p.AudioOn, &p.VideoOn, &p.HandRaised, &joined, &left)
		if err != nil {
			return nil, err
		}
		if joined.Valid {
			p.JoinedAt = joined.Time
		}
		if left.Valid {
			p.LeftAt = left.Time
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// AppendChatMessage inserts one chat row; messages are append-only.
func (s *PostgresStore) AppendChatMessage(ctx context.Context, msg *meetings.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, meeting_id, sender_id, sender_name, text, sent_at, seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, msg.ID, msg.MeetingID, msg.SenderID, msg.SenderName, msg.Text, msg.SentAt, msg.Seq)
	return err
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
