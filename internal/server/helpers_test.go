package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/npezzotti/go-meeting/internal/testutil"
	"github.com/npezzotti/go-meeting/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	alice = types.User{Id: 1, Username: "alice"}
	bob   = types.User{Id: 2, Username: "bob"}
	carol = types.User{Id: 3, Username: "carol"}
)

func testMeeting() database.Meeting {
	return database.Meeting{
		Id:         10,
		ExternalId: "R1",
		Title:      "standup",
		OwnerId:    alice.Id,
		IsActive:   true,
		CreatedAt:  time.Now().Add(-time.Minute).UTC(),
	}
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

// newTestServer creates a MeetingServer whose idle timer never fires
// during a test.
func newTestServer(t *testing.T, db database.MeetingRepository) *MeetingServer {
	return NewMeetingServer(testutil.TestLogger(t), db, newTestStats(), time.Minute)
}

// newTestClient registers a client without a websocket. Messages queued
// for it stay in its send channel for the test to read.
func newTestClient(t *testing.T, ms *MeetingServer, user types.User) *Client {
	c := NewClient(user, time.Time{}, nil, ms, testutil.TestLogger(t))
	require.NoError(t, ms.RegisterClient(c))
	return c
}

func expectRoom(db *database.MockMeetingRepository, m database.Meeting) {
	db.On("GetMeetingByExternalId", mock.Anything, m.ExternalId).Return(m, nil).Maybe()
}

func expectJoin(db *database.MockMeetingRepository, m database.Meeting, users ...types.User) {
	db.On("MeetingIsActive", mock.Anything, m.Id).Return(true, nil).Maybe()
	for _, u := range users {
		db.On("UpsertParticipant", mock.Anything, m.Id, u.Id).
			Return(database.Participant{MeetingId: m.Id, UserId: u.Id, IsVideoOn: true}, nil).
			Maybe()
	}
}

func mustJoin(t *testing.T, ms *MeetingServer, c *Client, roomId string) *JoinResult {
	t.Helper()
	res, err := ms.Join(context.Background(), c, roomId)
	require.NoError(t, err, "expected %s to join %s", c.user.Username, roomId)
	return res
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message to %s", c.user.Username)
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Errorf("expected no message for %s, got %+v", c.user.Username, msg)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// chatRepo records appended chat messages in memory so tests can compare
// the persisted order with what members received.
type chatRepo struct {
	*database.MockMeetingRepository
	mu    sync.Mutex
	saved []database.ChatMessage
}

func (r *chatRepo) AppendChat(ctx context.Context, msg database.ChatMessage) (database.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.Id = len(r.saved) + 1
	r.saved = append(r.saved, msg)
	return msg, nil
}

func (r *chatRepo) messages() []database.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]database.ChatMessage(nil), r.saved...)
}
