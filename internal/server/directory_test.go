package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	t.Run("notifies existing members only", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		expectJoin(db, m, alice, bob)

		ms := newTestServer(t, db)
		ca := newTestClient(t, ms, alice)
		cb := newTestClient(t, ms, bob)

		res := mustJoin(t, ms, ca, "R1")
		assert.Equal(t, ca.id, res.ConnectionId)
		assert.Equal(t, "standup", res.Meeting.Title)
		assert.True(t, res.Meeting.IsActive)
		assert.Len(t, res.Members, 1)
		assertNoMessage(t, ca)

		res = mustJoin(t, ms, cb, "R1")
		assert.Len(t, res.Members, 2)
		assertNoMessage(t, cb)

		msg := nextMessage(t, ca)
		assert.Equal(t, EventMemberJoined, msg.Event)
		assert.Equal(t, MemberEvent{RoomId: "R1", ConnectionId: cb.id, Identity: bob.Id, Username: "bob"}, msg.Data)

		assert.ElementsMatch(t, []string{ca.id, cb.id}, ms.loadedRoom("R1").connectionIds())
		assert.NotNil(t, cb.getRoom("R1"), "expected client to track joined room")
		db.AssertNumberOfCalls(t, "GetMeetingByExternalId", 1)
	})

	t.Run("joining twice is idempotent", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		expectJoin(db, m, alice, bob)

		ms := newTestServer(t, db)
		ca := newTestClient(t, ms, alice)
		cb := newTestClient(t, ms, bob)
		mustJoin(t, ms, ca, "R1")
		mustJoin(t, ms, cb, "R1")
		drain(ca)

		res := mustJoin(t, ms, cb, "R1")
		assert.Len(t, res.Members, 2)
		assertNoMessage(t, ca)
	})

	t.Run("member flags come from the participant row", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		db.On("MeetingIsActive", mock.Anything, m.Id).Return(true, nil)
		db.On("UpsertParticipant", mock.Anything, m.Id, bob.Id).
			Return(database.Participant{MeetingId: m.Id, UserId: bob.Id, IsMuted: true, IsVideoOn: false}, nil)

		ms := newTestServer(t, db)
		cb := newTestClient(t, ms, bob)
		res := mustJoin(t, ms, cb, "R1")

		require.Len(t, res.Members, 1)
		assert.True(t, res.Members[0].Muted)
		assert.False(t, res.Members[0].VideoOn)
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		db.On("GetMeetingByExternalId", mock.Anything, "nope").Return(database.Meeting{}, sql.ErrNoRows)

		ms := newTestServer(t, db)
		c := newTestClient(t, ms, bob)

		_, err := ms.Join(context.Background(), c, "nope")
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Nil(t, ms.loadedRoom("nope"), "expected no room to be created")
	})

	t.Run("store failure on lookup", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		db.On("GetMeetingByExternalId", mock.Anything, "R1").Return(database.Meeting{}, errors.New("connection refused"))

		ms := newTestServer(t, db)
		c := newTestClient(t, ms, bob)

		_, err := ms.Join(context.Background(), c, "R1")
		assert.ErrorIs(t, err, ErrPersistenceFailed)
	})

	t.Run("inactive room never mutates the member set", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		m.IsActive = false
		expectRoom(db, m)
		db.On("MeetingIsActive", mock.Anything, m.Id).Return(false, nil)

		ms := newTestServer(t, db)
		c := newTestClient(t, ms, bob)

		_, err := ms.Join(context.Background(), c, "R1")
		assert.ErrorIs(t, err, ErrRoomInactive)
		assert.Empty(t, ms.loadedRoom("R1").connectionIds())
		assert.Empty(t, c.roomIds())
		db.AssertNotCalled(t, "UpsertParticipant", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upsert failure", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		db.On("MeetingIsActive", mock.Anything, m.Id).Return(true, nil)
		db.On("UpsertParticipant", mock.Anything, m.Id, bob.Id).Return(database.Participant{}, errors.New("boom"))

		ms := newTestServer(t, db)
		c := newTestClient(t, ms, bob)

		_, err := ms.Join(context.Background(), c, "R1")
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.Empty(t, ms.loadedRoom("R1").connectionIds())
	})

	t.Run("expired credentials", func(t *testing.T) {
		ms := newTestServer(t, &database.MockMeetingRepository{})
		c := NewClient(bob, time.Now().Add(-time.Minute), nil, ms, testutil.TestLogger(t))

		_, err := ms.Join(context.Background(), c, "R1")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestObservedDeactivation(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m := testMeeting()
	expectRoom(db, m)
	db.On("MeetingIsActive", mock.Anything, m.Id).Return(true, nil).Once()
	db.On("MeetingIsActive", mock.Anything, m.Id).Return(false, nil)
	expectJoin(db, m, alice, bob)

	ms := newTestServer(t, db)
	ca := newTestClient(t, ms, alice)
	cb := newTestClient(t, ms, bob)
	mustJoin(t, ms, ca, "R1")

	_, err := ms.Join(context.Background(), cb, "R1")
	assert.ErrorIs(t, err, ErrRoomInactive)

	msg := nextMessage(t, ca)
	assert.Equal(t, EventMeetingEnded, msg.Event)
	assert.Equal(t, Notice{RoomId: "R1", Reason: reasonDeactivated}, msg.Data)
	assert.Empty(t, ms.loadedRoom("R1").connectionIds())
	assert.Nil(t, ca.getRoom("R1"))
	assertNoMessage(t, cb)
}

func TestLeave(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m := testMeeting()
	expectRoom(db, m)
	expectJoin(db, m, alice, bob)

	ms := newTestServer(t, db)
	ca := newTestClient(t, ms, alice)
	cb := newTestClient(t, ms, bob)
	mustJoin(t, ms, ca, "R1")
	mustJoin(t, ms, cb, "R1")
	drain(ca)

	ms.Leave(cb, "R1")
	msg := nextMessage(t, ca)
	assert.Equal(t, EventMemberLeft, msg.Event)
	assert.Equal(t, MemberEvent{RoomId: "R1", ConnectionId: cb.id, Identity: bob.Id, Username: "bob"}, msg.Data)
	assert.Equal(t, []string{ca.id}, ms.loadedRoom("R1").connectionIds())
	assertNoMessage(t, cb)

	t.Run("leaving twice is a no-op", func(t *testing.T) {
		ms.Leave(cb, "R1")
		assertNoMessage(t, ca)
	})

	t.Run("leaving a room never joined is a no-op", func(t *testing.T) {
		ms.Leave(cb, "other")
		assertNoMessage(t, ca)
	})

	t.Run("screen share is stopped for the leaver", func(t *testing.T) {
		mustJoin(t, ms, cb, "R1")
		require.NoError(t, ms.StartScreenShare(context.Background(), cb, "R1"))
		drain(ca)
		drain(cb)

		ms.Leave(cb, "R1")
		assert.Equal(t, EventScreenShareStopped, nextMessage(t, ca).Event)
		assert.Equal(t, EventMemberLeft, nextMessage(t, ca).Event)
	})
}

func TestTerminate(t *testing.T) {
	t.Run("idempotent with a single meeting-ended", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		expectJoin(db, m, alice, bob)
		db.On("DeactivateMeeting", mock.Anything, m.Id).Return(nil).Once()

		ms := newTestServer(t, db)
		ca := newTestClient(t, ms, alice)
		cb := newTestClient(t, ms, bob)
		mustJoin(t, ms, ca, "R1")
		mustJoin(t, ms, cb, "R1")
		drain(ca)

		require.NoError(t, ms.Terminate(context.Background(), "R1"))
		require.NoError(t, ms.Terminate(context.Background(), "R1"))

		for _, c := range []*Client{ca, cb} {
			msg := nextMessage(t, c)
			assert.Equal(t, EventMeetingEnded, msg.Event)
			assert.Equal(t, Notice{RoomId: "R1", Reason: reasonMeetingEnd}, msg.Data)
			assertNoMessage(t, c)
			assert.Empty(t, c.roomIds())
		}

		r := ms.loadedRoom("R1")
		assert.False(t, r.isActive())
		assert.Empty(t, r.connectionIds())
		db.AssertNumberOfCalls(t, "DeactivateMeeting", 1)
	})

	t.Run("persistence failure keeps members", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)
		expectJoin(db, m, alice)
		db.On("DeactivateMeeting", mock.Anything, m.Id).Return(errors.New("boom"))

		ms := newTestServer(t, db)
		ca := newTestClient(t, ms, alice)
		mustJoin(t, ms, ca, "R1")

		err := ms.Terminate(context.Background(), "R1")
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.True(t, ms.loadedRoom("R1").isActive())
		assert.Equal(t, []string{ca.id}, ms.loadedRoom("R1").connectionIds())
		assertNoMessage(t, ca)
	})

	t.Run("end meeting requires the owner", func(t *testing.T) {
		db := &database.MockMeetingRepository{}
		m := testMeeting()
		expectRoom(db, m)

		ms := newTestServer(t, db)
		err := ms.EndMeeting(context.Background(), bob, "R1")
		assert.ErrorIs(t, err, ErrUnauthorized)
		db.AssertNotCalled(t, "DeactivateMeeting", mock.Anything, mock.Anything)
	})
}

func TestIdleRoomUnload(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m := testMeeting()
	expectRoom(db, m)
	expectJoin(db, m, alice)

	ms := NewMeetingServer(testutil.TestLogger(t), db, newTestStats(), 20*time.Millisecond)
	ca := newTestClient(t, ms, alice)
	mustJoin(t, ms, ca, "R1")

	r := ms.loadedRoom("R1")
	time.Sleep(50 * time.Millisecond)
	assert.Same(t, r, ms.loadedRoom("R1"), "expected room with members to stay loaded")

	ms.Leave(ca, "R1")
	assert.Eventually(t, func() bool {
		return ms.loadedRoom("R1") == nil
	}, time.Second, 10*time.Millisecond, "expected empty room to be unloaded")

	// a later join loads a fresh copy
	mustJoin(t, ms, ca, "R1")
	assert.NotSame(t, r, ms.loadedRoom("R1"))
}

func TestJoinRetriesUnloadedRoom(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m := testMeeting()
	expectRoom(db, m)
	expectJoin(db, m, alice)

	ms := newTestServer(t, db)
	stale, err := ms.loadRoom(context.Background(), "R1")
	require.NoError(t, err)

	// simulate the idle timer winning between load and insert
	ms.unloadRoom(stale)
	require.True(t, stale.unloaded)

	ca := newTestClient(t, ms, alice)
	mustJoin(t, ms, ca, "R1")
	assert.NotSame(t, stale, ms.loadedRoom("R1"))
	assert.Empty(t, stale.connectionIds())
}

func TestHeldRoomStaysLoaded(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m := testMeeting()
	expectRoom(db, m)

	ms := NewMeetingServer(testutil.TestLogger(t), db, newTestStats(), 20*time.Millisecond)
	r, release, err := ms.holdRoom(context.Background(), "R1")
	require.NoError(t, err)

	ms.unloadRoom(r)
	time.Sleep(50 * time.Millisecond)
	assert.Same(t, r, ms.loadedRoom("R1"), "expected held room to stay loaded")
	assert.False(t, r.unloaded)

	release()
	assert.Eventually(t, func() bool {
		return ms.loadedRoom("R1") == nil
	}, time.Second, 10*time.Millisecond, "expected released room to be unloaded")
}

func TestJoin_OneRoomPerConnection(t *testing.T) {
	db := &database.MockMeetingRepository{}
	m1 := testMeeting()
	m2 := testMeeting()
	m2.Id, m2.ExternalId = 11, "R2"
	expectRoom(db, m1)
	expectRoom(db, m2)
	expectJoin(db, m1, alice)
	expectJoin(db, m2, alice)

	ms := newTestServer(t, db)
	ca := newTestClient(t, ms, alice)
	mustJoin(t, ms, ca, "R1")

	_, err := ms.Join(context.Background(), ca, "R2")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, []string{"R1"}, ca.roomIds())
	assert.Equal(t, []string{ca.id}, ms.loadedRoom("R1").connectionIds())
	if r2 := ms.loadedRoom("R2"); r2 != nil {
		assert.Empty(t, r2.connectionIds())
	}

	// joining the same room again stays a no-op
	mustJoin(t, ms, ca, "R1")

	// a second connection of the same identity may sit in another room
	ca2 := newTestClient(t, ms, alice)
	mustJoin(t, ms, ca2, "R2")
	assert.Equal(t, []string{ca2.id}, ms.loadedRoom("R2").connectionIds())

	ms.Leave(ca, "R1")
	mustJoin(t, ms, ca, "R2")
	assert.Equal(t, []string{"R2"}, ca.roomIds())
	assert.ElementsMatch(t, []string{ca.id, ca2.id}, ms.loadedRoom("R2").connectionIds())
}
