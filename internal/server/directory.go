package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/npezzotti/go-meeting/internal/types"
)

// loadRoom returns the in-memory room for externalId, reading it from the
// store on first use. Rooms are never created here.
func (ms *MeetingServer) loadRoom(ctx context.Context, externalId string) (*Room, error) {
	if externalId == "" {
		return nil, fmt.Errorf("%w: missing room id", ErrInvalidPayload)
	}

	ms.roomsLock.Lock()
	r, ok := ms.rooms[externalId]
	ms.roomsLock.Unlock()
	if ok {
		return r, nil
	}

	meeting, err := ms.db.GetMeetingByExternalId(ctx, externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("%w: get meeting: %w", ErrPersistenceFailed, err)
	}

	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()

	// another caller may have loaded it while we were reading
	if r, ok := ms.rooms[externalId]; ok {
		return r, nil
	}

	r = newRoom(meeting, ms.log)
	r.killTimer = time.AfterFunc(ms.idleRoomTimeout, func() { ms.unloadRoom(r) })
	ms.rooms[externalId] = r
	ms.stats.Incr(stats.MetricLoadedRooms)
	r.log.Debug().Msg("room loaded")

	return r, nil
}

func (ms *MeetingServer) unloadRoom(r *Room) {
	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unloaded || len(r.members) > 0 || r.holds > 0 {
		return
	}

	r.unloaded = true
	if ms.rooms[r.externalId] == r {
		delete(ms.rooms, r.externalId)
	}
	ms.stats.Decr(stats.MetricLoadedRooms)
	r.log.Debug().Msg("room unloaded")
}

// holdRoom loads the room and keeps it loaded until release is called, so
// a change persisted through r reaches the members joined to it. A room
// unloaded between load and hold is loaded again.
func (ms *MeetingServer) holdRoom(ctx context.Context, externalId string) (*Room, func(), error) {
	for {
		r, err := ms.loadRoom(ctx, externalId)
		if err != nil {
			return nil, nil, err
		}

		r.mu.Lock()
		if r.unloaded {
			r.mu.Unlock()
			continue
		}
		r.holds++
		r.mu.Unlock()

		return r, func() { ms.releaseRoom(r) }, nil
	}
}

func (ms *MeetingServer) releaseRoom(r *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.holds--
	r.scheduleUnloadLocked(ms.idleRoomTimeout)
}

func (ms *MeetingServer) loadedRoom(externalId string) *Room {
	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()

	return ms.rooms[externalId]
}

// Join adds c to the room. The other members are told about the new
// connection; the joiner gets the current member list instead. Joining a
// room the connection is already in returns the same view again; a
// connection in another room has to leave it first.
func (ms *MeetingServer) Join(ctx context.Context, c *Client, roomId string) (*JoinResult, error) {
	user, err := c.currentIdentity(time.Now())
	if err != nil {
		return nil, err
	}

	if other, ok := c.joinedElsewhere(roomId); ok {
		return nil, fmt.Errorf("%w: connection already joined %s", ErrInvalidPayload, other)
	}

	for {
		r, err := ms.loadRoom(ctx, roomId)
		if err != nil {
			return nil, err
		}

		if err := ms.authorize(ctx, user, r, actionJoin); err != nil {
			if errors.Is(err, ErrRoomInactive) {
				ms.observeDeactivation(r)
			}
			return nil, err
		}

		p, err := ms.db.UpsertParticipant(ctx, r.id, user.Id)
		if err != nil {
			return nil, fmt.Errorf("%w: upsert participant: %w", ErrPersistenceFailed, err)
		}

		r.mu.Lock()
		if r.unloaded {
			// lost a race with the idle timer; load a fresh copy
			r.mu.Unlock()
			continue
		}
		if !r.active {
			r.mu.Unlock()
			return nil, ErrRoomInactive
		}

		if _, ok := r.members[c.id]; !ok {
			if other, ok := c.joinedElsewhere(r.externalId); ok {
				r.mu.Unlock()
				return nil, fmt.Errorf("%w: connection already joined %s", ErrInvalidPayload, other)
			}
			m := &Member{
				client:       c,
				ConnectionId: c.id,
				User:         user,
				RoomId:       r.externalId,
				Muted:        p.IsMuted,
				VideoOn:      p.IsVideoOn,
			}
			r.members[c.id] = m
			c.addRoom(r)
			r.killTimer.Stop()

			r.broadcastLocked(eventMessage(EventMemberJoined, MemberEvent{
				RoomId:       r.externalId,
				ConnectionId: c.id,
				Identity:     user.Id,
				Username:     user.Username,
			}), c.id)
			r.log.Info().Str("conn", c.id).Int("user", user.Id).Msg("member joined")
		}

		res := &JoinResult{
			Meeting:      r.meeting,
			ConnectionId: c.id,
			Members:      r.memberInfosLocked(),
		}
		res.Meeting.IsActive = r.active
		r.mu.Unlock()

		return res, nil
	}
}

// Leave removes c from the room and tells the remaining members. Leaving a
// room the connection is not in does nothing.
func (ms *MeetingServer) Leave(c *Client, roomId string) {
	r := c.getRoom(roomId)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ms.leaveLocked(r, c.id)
}

func (ms *MeetingServer) leaveLocked(r *Room, connId string) {
	m, ok := r.removeMemberLocked(connId)
	if !ok {
		return
	}

	if m.ScreenSharing {
		r.broadcastLocked(eventMessage(EventScreenShareStopped, ScreenShareEvent{
			RoomId:   r.externalId,
			Identity: m.User.Id,
		}))
	}
	r.broadcastLocked(memberLeft(r, m))
	r.scheduleUnloadLocked(ms.idleRoomTimeout)
	r.log.Info().Str("conn", connId).Int("user", m.User.Id).Msg("member left")
}

// EndMeeting terminates the room on behalf of its owner.
func (ms *MeetingServer) EndMeeting(ctx context.Context, user types.User, roomId string) error {
	r, release, err := ms.holdRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer release()

	if err := ms.authorize(ctx, user, r, actionAdmin); err != nil {
		return err
	}

	return ms.terminate(ctx, r)
}

// Terminate deactivates the room, sends a single meeting-ended to every
// member and evicts them all. Terminating an ended room does nothing.
func (ms *MeetingServer) Terminate(ctx context.Context, roomId string) error {
	r, release, err := ms.holdRoom(ctx, roomId)
	if err != nil {
		return err
	}
	defer release()

	return ms.terminate(ctx, r)
}

func (ms *MeetingServer) terminate(ctx context.Context, r *Room) error {
	r.seq.Lock()
	defer r.seq.Unlock()

	if !r.isActive() {
		return nil
	}

	if err := ms.db.DeactivateMeeting(ctx, r.id); err != nil {
		return fmt.Errorf("%w: deactivate meeting: %w", ErrPersistenceFailed, err)
	}

	ms.evictAll(r, reasonMeetingEnd)
	return nil
}

// observeDeactivation reacts to the store reporting a loaded room as
// ended by evicting whoever is still connected to it.
func (ms *MeetingServer) observeDeactivation(r *Room) {
	if r.isActive() {
		r.log.Info().Msg("room deactivated outside the server")
	}
	ms.evictAll(r, reasonDeactivated)
}

func (ms *MeetingServer) evictAll(r *Room, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}

	r.evictAllLocked(eventMessage(EventMeetingEnded, Notice{
		RoomId: r.externalId,
		Reason: reason,
	}))
	r.scheduleUnloadLocked(ms.idleRoomTimeout)
	r.log.Info().Str("reason", reason).Msg("room ended")
}

func memberLeft(r *Room, m *Member) *ServerMessage {
	return eventMessage(EventMemberLeft, MemberEvent{
		RoomId:       r.externalId,
		ConnectionId: m.ConnectionId,
		Identity:     m.User.Id,
		Username:     m.User.Username,
	})
}
