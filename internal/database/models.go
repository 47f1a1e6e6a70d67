package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	CreatedAt    time.Time
}

type Meeting struct {
	Id          int
	ExternalId  string
	Title       string
	Description string
	OwnerId     int
	IsActive    bool
	CreatedAt   time.Time
}

type Participant struct {
	Id        int
	MeetingId int
	UserId    int
	IsMuted   bool
	IsVideoOn bool
	JoinedAt  time.Time
}

type ChatMessage struct {
	Id        int
	MeetingId int
	UserId    int
	Username  string
	Message   string
	CreatedAt time.Time
}

type CreateMeetingParams struct {
	ExternalId  string
	Title       string
	Description string
	OwnerId     int
}

// ParticipantUpdate carries the flags to change on a participant row.
// Nil fields are left untouched.
type ParticipantUpdate struct {
	Muted   *bool
	VideoOn *bool
}

func (u ParticipantUpdate) empty() bool {
	return u.Muted == nil && u.VideoOn == nil
}
