package database

import "context"

type MeetingRepository interface {
	Ping(ctx context.Context) error
	GetUserById(ctx context.Context, userId int) (User, error)
	GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error)
	MeetingIsActive(ctx context.Context, meetingId int) (bool, error)
	CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error)
	DeactivateMeeting(ctx context.Context, meetingId int) error
	UpsertParticipant(ctx context.Context, meetingId, userId int) (Participant, error)
	ParticipantExists(ctx context.Context, meetingId, userId int) (bool, error)
	UpdateParticipant(ctx context.Context, meetingId, userId int, update ParticipantUpdate) (Participant, error)
	DeleteParticipant(ctx context.Context, meetingId, userId int) (bool, error)
	AppendChat(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	ListChatMessages(ctx context.Context, meetingId, limit int) ([]ChatMessage, error)
}
