package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/types"
)

// SetMuted persists the identity's audio state and broadcasts it to the
// room. Every live connection of the identity in the room follows.
func (ms *MeetingServer) SetMuted(ctx context.Context, user types.User, roomId string, muted bool) error {
	return ms.updatePresence(ctx, user, roomId, database.ParticipantUpdate{Muted: &muted},
		func(m *Member) { m.Muted = muted },
		eventMessage(EventAudioToggled, AudioToggled{RoomId: roomId, Identity: user.Id, Muted: muted}),
	)
}

// SetVideo persists the identity's camera state and broadcasts it.
func (ms *MeetingServer) SetVideo(ctx context.Context, user types.User, roomId string, videoOn bool) error {
	return ms.updatePresence(ctx, user, roomId, database.ParticipantUpdate{VideoOn: &videoOn},
		func(m *Member) { m.VideoOn = videoOn },
		eventMessage(EventVideoToggled, VideoToggled{RoomId: roomId, Identity: user.Id, VideoOn: videoOn}),
	)
}

func (ms *MeetingServer) updatePresence(ctx context.Context, user types.User, roomId string, update database.ParticipantUpdate, apply func(*Member), msg *ServerMessage) error {
	r, release, err := ms.holdRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer release()

	if err := ms.authorize(ctx, user, r, actionMember); err != nil {
		return err
	}

	r.seq.Lock()
	defer r.seq.Unlock()

	if _, err := ms.db.UpdateParticipant(ctx, r.id, user.Id, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: update participant: %w", ErrPersistenceFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.membersFor(user.Id) {
		apply(m)
	}
	r.broadcastLocked(msg)

	return nil
}

// AdminForceMute mutes target on behalf of the room owner. Only the
// target's connections get the notice; the whole room sees the new audio
// state.
func (ms *MeetingServer) AdminForceMute(ctx context.Context, admin types.User, roomId string, target int) error {
	r, release, err := ms.adminRoom(ctx, admin, roomId)
	if err != nil {
		return err
	}
	defer release()

	r.seq.Lock()
	defer r.seq.Unlock()

	muted := true
	if _, err := ms.db.UpdateParticipant(ctx, r.id, target, database.ParticipantUpdate{Muted: &muted}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTargetNotFound
		}
		return fmt.Errorf("%w: update participant: %w", ErrPersistenceFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	notice := eventMessage(EventForceMute, Notice{RoomId: r.externalId, Reason: reasonForceMute})
	for _, m := range r.membersFor(target) {
		m.Muted = true
		m.client.queueMessage(notice)
	}
	r.broadcastLocked(eventMessage(EventAudioToggled, AudioToggled{
		RoomId:   r.externalId,
		Identity: target,
		Muted:    true,
	}))
	r.log.Info().Int("admin", admin.Id).Int("target", target).Msg("participant force muted")

	return nil
}

// AdminRemove deletes the target's participant row and evicts its live
// connections. Each of them is sent removed-from-meeting before it leaves
// the member set, so the notice precedes any later room event.
func (ms *MeetingServer) AdminRemove(ctx context.Context, admin types.User, roomId string, target int) error {
	r, release, err := ms.adminRoom(ctx, admin, roomId)
	if err != nil {
		return err
	}
	defer release()

	r.seq.Lock()
	defer r.seq.Unlock()

	deleted, err := ms.db.DeleteParticipant(ctx, r.id, target)
	if err != nil {
		return fmt.Errorf("%w: delete participant: %w", ErrPersistenceFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	targets := r.membersFor(target)
	if !deleted && len(targets) == 0 {
		return ErrTargetNotFound
	}

	notice := eventMessage(EventRemovedFromMeeting, Notice{RoomId: r.externalId, Reason: reasonRemoved})
	for _, m := range targets {
		m.client.queueMessage(notice)
		ms.leaveLocked(r, m.ConnectionId)
	}
	r.log.Info().Int("admin", admin.Id).Int("target", target).Msg("participant removed")

	return nil
}

func (ms *MeetingServer) adminRoom(ctx context.Context, admin types.User, roomId string) (*Room, func(), error) {
	r, release, err := ms.holdRoom(ctx, roomId)
	if err != nil {
		return nil, nil, err
	}

	if err := ms.authorize(ctx, admin, r, actionAdmin); err != nil {
		release()
		return nil, nil, err
	}
	if !r.isActive() {
		release()
		return nil, nil, ErrRoomInactive
	}

	return r, release, nil
}

// StartScreenShare marks the connection as sharing its screen. Screen
// sharing is connection state only and is not persisted.
func (ms *MeetingServer) StartScreenShare(ctx context.Context, c *Client, roomId string) error {
	return ms.setScreenShare(ctx, c, roomId, true)
}

func (ms *MeetingServer) StopScreenShare(ctx context.Context, c *Client, roomId string) error {
	return ms.setScreenShare(ctx, c, roomId, false)
}

func (ms *MeetingServer) setScreenShare(ctx context.Context, c *Client, roomId string, sharing bool) error {
	r, err := ms.loadRoom(ctx, roomId)
	if err != nil {
		return err
	}

	if err := ms.authorize(ctx, c.user, r, actionMember); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[c.id]
	if !ok {
		return ErrUnauthorized
	}
	if m.ScreenSharing == sharing {
		return nil
	}

	m.ScreenSharing = sharing
	kind := EventScreenShareStarted
	if !sharing {
		kind = EventScreenShareStopped
	}
	r.broadcastLocked(eventMessage(kind, ScreenShareEvent{RoomId: r.externalId, Identity: c.user.Id}))

	return nil
}
