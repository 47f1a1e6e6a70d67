package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMeetingRepository struct {
	mock.Mock
}

func (m *MockMeetingRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMeetingRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMeetingRepository) GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error) {
	args := m.Called(ctx, externalId)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockMeetingRepository) MeetingIsActive(ctx context.Context, meetingId int) (bool, error) {
	args := m.Called(ctx, meetingId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMeetingRepository) CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Meeting), args.Error(1)
}
func (m *MockMeetingRepository) DeactivateMeeting(ctx context.Context, meetingId int) error {
	args := m.Called(ctx, meetingId)
	return args.Error(0)
}
func (m *MockMeetingRepository) UpsertParticipant(ctx context.Context, meetingId, userId int) (Participant, error) {
	args := m.Called(ctx, meetingId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) ParticipantExists(ctx context.Context, meetingId, userId int) (bool, error) {
	args := m.Called(ctx, meetingId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMeetingRepository) UpdateParticipant(ctx context.Context, meetingId, userId int, update ParticipantUpdate) (Participant, error) {
	args := m.Called(ctx, meetingId, userId, update)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockMeetingRepository) DeleteParticipant(ctx context.Context, meetingId, userId int) (bool, error) {
	args := m.Called(ctx, meetingId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockMeetingRepository) AppendChat(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(ChatMessage), args.Error(1)
}
func (m *MockMeetingRepository) ListChatMessages(ctx context.Context, meetingId, limit int) ([]ChatMessage, error) {
	args := m.Called(ctx, meetingId, limit)
	if msgs, ok := args.Get(0).([]ChatMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
