package server

import (
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/types"
	"github.com/rs/zerolog"
)

// Room is the in-memory view of one active meeting. Rooms are loaded from
// the store on first join and unloaded again once they stay empty for the
// server's idle timeout.
type Room struct {
	id         int
	externalId string
	ownerId    int
	meeting    types.Meeting
	log        zerolog.Logger

	// mu guards the fields below. It is only held while touching memory,
	// never across a store call.
	mu       sync.RWMutex
	active   bool
	unloaded bool
	members  map[string]*Member
	// holds counts operations that persist through this copy and still
	// have to broadcast; the room is not unloaded while any are running
	holds int
	// killTimer unloads the room when it has been empty for a while
	killTimer *time.Timer

	// seq orders persisted mutations so that their broadcasts go out in
	// commit order. Acquire before mu, never the other way around.
	seq       sync.Mutex
	lastMsgAt time.Time
}

// Member is one connection's participation in a room.
type Member struct {
	client        *Client
	ConnectionId  string
	User          types.User
	RoomId        string
	Muted         bool
	VideoOn       bool
	ScreenSharing bool
}

func (m *Member) info() types.MemberInfo {
	return types.MemberInfo{
		ConnectionId:  m.ConnectionId,
		Identity:      m.User.Id,
		Username:      m.User.Username,
		Muted:         m.Muted,
		VideoOn:       m.VideoOn,
		ScreenSharing: m.ScreenSharing,
	}
}

func newRoom(m database.Meeting, l zerolog.Logger) *Room {
	return &Room{
		id:         m.Id,
		externalId: m.ExternalId,
		ownerId:    m.OwnerId,
		meeting: types.Meeting{
			Id:          m.Id,
			ExternalId:  m.ExternalId,
			Title:       m.Title,
			Description: m.Description,
			OwnerId:     m.OwnerId,
			CreatedAt:   m.CreatedAt,
		},
		active:    m.IsActive,
		members:   make(map[string]*Member),
		lastMsgAt: m.CreatedAt,
		log:       l.With().Str("room", m.ExternalId).Logger(),
	}
}

func (r *Room) isActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.active
}

// broadcastLocked enqueues msg for every member except the excluded
// connections. The caller must hold r.mu, which makes the recipient set an
// atomic snapshot with respect to joins and leaves.
func (r *Room) broadcastLocked(msg *ServerMessage, exclude ...string) {
	for connId, m := range r.members {
		if slices.Contains(exclude, connId) {
			continue
		}
		m.client.queueMessage(msg)
	}
}

func (r *Room) broadcast(msg *ServerMessage, exclude ...string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.broadcastLocked(msg, exclude...)
}

func (r *Room) member(connId string) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connId]
	return m, ok
}

// membersFor returns the live members held by identity. The caller must
// hold r.mu.
func (r *Room) membersFor(userId int) []*Member {
	var ms []*Member
	for _, m := range r.members {
		if m.User.Id == userId {
			ms = append(ms, m)
		}
	}
	return ms
}

func (r *Room) hasIdentity(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.membersFor(userId)) > 0
}

func (r *Room) memberInfos() []types.MemberInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.memberInfosLocked()
}

func (r *Room) memberInfosLocked() []types.MemberInfo {
	infos := make([]types.MemberInfo, 0, len(r.members))
	for _, m := range r.members {
		infos = append(infos, m.info())
	}
	return infos
}

func (r *Room) connectionIds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	return ids
}

// removeMemberLocked drops a member and reports whether it was present. The
// caller must hold r.mu for writing.
func (r *Room) removeMemberLocked(connId string) (*Member, bool) {
	m, ok := r.members[connId]
	if !ok {
		return nil, false
	}
	delete(r.members, connId)
	m.client.delRoom(r.externalId)
	return m, true
}

// evictAllLocked removes every member after sending them notice, and marks
// the room inactive. The caller must hold r.mu for writing.
func (r *Room) evictAllLocked(notice *ServerMessage) {
	r.active = false
	r.broadcastLocked(notice)
	for connId := range r.members {
		r.removeMemberLocked(connId)
	}
}

// nextTimestamp returns a chat timestamp strictly after the previous one.
// The caller must hold r.seq.
func (r *Room) nextTimestamp() time.Time {
	ts := Now()
	if !ts.After(r.lastMsgAt) {
		ts = r.lastMsgAt.Add(time.Millisecond)
	}
	r.lastMsgAt = ts
	return ts
}

// scheduleUnloadLocked arms the idle timer once the room is empty. The
// caller must hold r.mu for writing.
func (r *Room) scheduleUnloadLocked(d time.Duration) {
	if len(r.members) == 0 && r.holds == 0 && !r.unloaded && r.killTimer != nil {
		r.killTimer.Reset(d)
	}
}
