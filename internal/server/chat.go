package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/npezzotti/go-meeting/internal/types"
)

const (
	maxChatLength       = 4096
	defaultHistoryLimit = 100
)

// SendChat persists a chat message and then delivers it to the whole room,
// sender included. Messages in a room are committed and broadcast in the
// same order and carry strictly increasing timestamps.
func (ms *MeetingServer) SendChat(ctx context.Context, user types.User, roomId, text string) (types.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return types.ChatMessage{}, fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	if len(text) > maxChatLength {
		return types.ChatMessage{}, fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidPayload, maxChatLength)
	}

	r, release, err := ms.holdRoom(ctx, roomId)
	if err != nil {
		return types.ChatMessage{}, err
	}
	defer release()

	if err := ms.authorize(ctx, user, r, actionMember); err != nil {
		return types.ChatMessage{}, err
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	saved, err := ms.db.AppendChat(ctx, database.ChatMessage{
		MeetingId: r.id,
		UserId:    user.Id,
		Username:  user.Username,
		Message:   text,
		CreatedAt: r.nextTimestamp(),
	})
	if err != nil {
		return types.ChatMessage{}, fmt.Errorf("%w: append chat: %w", ErrPersistenceFailed, err)
	}

	msg := types.ChatMessage{
		Id:        saved.Id,
		RoomId:    r.externalId,
		Identity:  user.Id,
		Username:  user.Username,
		Text:      saved.Message,
		Timestamp: saved.CreatedAt,
	}
	r.broadcast(eventMessage(EventNewMessage, msg))
	ms.stats.Incr(stats.MetricChatMessages)

	return msg, nil
}

// ChatHistory returns up to limit persisted messages of the room in
// timestamp order. Ended rooms stay readable for their participants.
func (ms *MeetingServer) ChatHistory(ctx context.Context, user types.User, roomId string, limit int) ([]types.ChatMessage, error) {
	r, err := ms.loadRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}

	if err := ms.authorize(ctx, user, r, actionRead); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	rows, err := ms.db.ListChatMessages(ctx, r.id, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list chat messages: %w", ErrPersistenceFailed, err)
	}

	msgs := make([]types.ChatMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, types.ChatMessage{
			Id:        row.Id,
			RoomId:    r.externalId,
			Identity:  row.UserId,
			Username:  row.Username,
			Text:      row.Message,
			Timestamp: row.CreatedAt,
		})
	}

	return msgs, nil
}
