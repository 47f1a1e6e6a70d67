package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Meeting struct {
	Id          int       `json:"id"`
	ExternalId  string    `json:"external_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerId     int       `json:"owner_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// MemberInfo describes one live connection in a meeting.
type MemberInfo struct {
	ConnectionId  string `json:"connection_id"`
	Identity      int    `json:"identity"`
	Username      string `json:"username"`
	Muted         bool   `json:"muted"`
	VideoOn       bool   `json:"video_on"`
	ScreenSharing bool   `json:"screen_sharing,omitempty"`
}

type ChatMessage struct {
	Id        int       `json:"id"`
	RoomId    string    `json:"room_id"`
	Identity  int       `json:"identity"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
