package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	participantColumns = "id, meeting_id, user_id, is_muted, is_video_on, joined_at"
	meetingColumns     = "id, external_id, title, description, owner_id, is_active, created_at"

	createParticipantQuery = "INSERT INTO meeting_participants (meeting_id, user_id, joined_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (meeting_id, user_id) DO UPDATE SET meeting_id = EXCLUDED.meeting_id " +
		"RETURNING " + participantColumns
)

var errEmptyParticipantUpdate = errors.New("participant update has no fields set")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (Meeting, error) {
	var m Meeting
	err := row.Scan(
		&m.Id,
		&m.ExternalId,
		&m.Title,
		&m.Description,
		&m.OwnerId,
		&m.IsActive,
		&m.CreatedAt,
	)
	return m, err
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	err := row.Scan(
		&p.Id,
		&p.MeetingId,
		&p.UserId,
		&p.IsMuted,
		&p.IsVideoOn,
		&p.JoinedAt,
	)
	return p, err
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func (db *PgMeetingRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, created_at FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgMeetingRepository) GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+meetingColumns+" FROM meetings WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanMeeting(row)
}

func (db *PgMeetingRepository) MeetingIsActive(ctx context.Context, meetingId int) (bool, error) {
	var active bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT is_active FROM meetings WHERE id = $1",
		meetingId,
	).Scan(&active)

	return active, err
}

func (db *PgMeetingRepository) CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error) {
	var meeting Meeting
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			"INSERT INTO meetings (external_id, title, description, owner_id, is_active, created_at) "+
				"VALUES ($1, $2, $3, $4, TRUE, $5) RETURNING "+meetingColumns,
			params.ExternalId,
			params.Title,
			params.Description,
			params.OwnerId,
			now,
		)

		var err error
		meeting, err = scanMeeting(row)
		if err != nil {
			return fmt.Errorf("insert meeting: %w", err)
		}

		// the owner is a participant from the start
		if _, err := tx.ExecContext(ctx, createParticipantQuery, meeting.Id, params.OwnerId, now); err != nil {
			return fmt.Errorf("insert owner participant: %w", err)
		}

		return nil
	})
	if err != nil {
		return Meeting{}, err
	}

	return meeting, nil
}

func (db *PgMeetingRepository) DeactivateMeeting(ctx context.Context, meetingId int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE meetings SET is_active = FALSE WHERE id = $1",
		meetingId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgMeetingRepository) UpsertParticipant(ctx context.Context, meetingId, userId int) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		createParticipantQuery,
		meetingId,
		userId,
		time.Now().UTC(),
	)

	return scanParticipant(row)
}

func (db *PgMeetingRepository) ParticipantExists(ctx context.Context, meetingId, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM meeting_participants WHERE meeting_id = $1 AND user_id = $2)",
		meetingId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgMeetingRepository) UpdateParticipant(ctx context.Context, meetingId, userId int, update ParticipantUpdate) (Participant, error) {
	if update.empty() {
		return Participant{}, errEmptyParticipantUpdate
	}

	row := db.conn.QueryRowContext(ctx,
		"UPDATE meeting_participants SET is_muted = COALESCE($3, is_muted), is_video_on = COALESCE($4, is_video_on) "+
			"WHERE meeting_id = $1 AND user_id = $2 RETURNING "+participantColumns,
		meetingId,
		userId,
		nullBool(update.Muted),
		nullBool(update.VideoOn),
	)

	return scanParticipant(row)
}

func (db *PgMeetingRepository) DeleteParticipant(ctx context.Context, meetingId, userId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM meeting_participants WHERE meeting_id = $1 AND user_id = $2",
		meetingId,
		userId,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *PgMeetingRepository) AppendChat(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO chat_messages (meeting_id, user_id, message, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		msg.MeetingId,
		msg.UserId,
		msg.Message,
		msg.CreatedAt,
	).Scan(&msg.Id)
	if err != nil {
		return ChatMessage{}, err
	}

	return msg, nil
}

func (db *PgMeetingRepository) ListChatMessages(ctx context.Context, meetingId, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	// newest page first, then reversed so callers get timestamp order
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.meeting_id, c.user_id, u.username, c.message, c.created_at "+
			"FROM chat_messages c JOIN users u ON u.id = c.user_id "+
			"WHERE c.meeting_id = $1 ORDER BY c.created_at DESC, c.id DESC LIMIT $2",
		meetingId,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.Id, &msg.MeetingId, &msg.UserId, &msg.Username, &msg.Message, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
