package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/go-meeting/internal/types"
)

type EventKind string

// Client originated events.
const (
	EventJoinMeeting       EventKind = "join-meeting"
	EventLeaveMeeting      EventKind = "leave-meeting"
	EventSendMessage       EventKind = "send-message"
	EventToggleAudio       EventKind = "toggle-audio"
	EventToggleVideo       EventKind = "toggle-video"
	EventSignalOffer       EventKind = "signal-offer"
	EventSignalAnswer      EventKind = "signal-answer"
	EventSignalIce         EventKind = "signal-ice"
	EventStartScreenShare  EventKind = "start-screen-share"
	EventStopScreenShare   EventKind = "stop-screen-share"
	EventForceMute         EventKind = "force-mute"
	EventRemoveParticipant EventKind = "remove-participant"
	EventEndMeeting        EventKind = "end-meeting"
)

// Server originated events.
const (
	EventMemberJoined       EventKind = "member-joined"
	EventMemberLeft         EventKind = "member-left"
	EventNewMessage         EventKind = "new-message"
	EventAudioToggled       EventKind = "audio-toggled"
	EventVideoToggled       EventKind = "video-toggled"
	EventScreenShareStarted EventKind = "screen-share-started"
	EventScreenShareStopped EventKind = "screen-share-stopped"
	EventRemovedFromMeeting EventKind = "removed-from-meeting"
	EventMeetingEnded       EventKind = "meeting-ended"
)

const (
	reasonForceMute   = "You have been muted by the host"
	reasonRemoved     = "You have been removed from the meeting by the host"
	reasonMeetingEnd  = "Meeting has been ended by the host"
	reasonDeactivated = "Meeting is no longer active"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinMeeting struct {
	RoomId   string `json:"room_id"`
	Identity int    `json:"identity,omitempty"`
}

type LeaveMeeting struct {
	RoomId   string `json:"room_id"`
	Identity int    `json:"identity,omitempty"`
}

type SendMessage struct {
	RoomId string `json:"room_id"`
	Text   string `json:"text"`
}

type ToggleAudio struct {
	RoomId string `json:"room_id"`
	Muted  bool   `json:"muted"`
}

type ToggleVideo struct {
	RoomId  string `json:"room_id"`
	VideoOn bool   `json:"video_on"`
}

type Signal struct {
	RoomId  string          `json:"room_id,omitempty"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

type ScreenShare struct {
	RoomId string `json:"room_id"`
}

type AdminAction struct {
	RoomId         string `json:"room_id"`
	TargetIdentity int    `json:"target_identity"`
}

type EndMeeting struct {
	RoomId string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Event    EventKind `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MemberEvent struct {
	RoomId       string `json:"room_id"`
	ConnectionId string `json:"connection_id"`
	Identity     int    `json:"identity"`
	Username     string `json:"username"`
}

type AudioToggled struct {
	RoomId   string `json:"room_id"`
	Identity int    `json:"identity"`
	Muted    bool   `json:"muted"`
}

type VideoToggled struct {
	RoomId   string `json:"room_id"`
	Identity int    `json:"identity"`
	VideoOn  bool   `json:"video_on"`
}

type ScreenShareEvent struct {
	RoomId   string `json:"room_id"`
	Identity int    `json:"identity"`
}

type SignalForward struct {
	RoomId   string          `json:"room_id"`
	From     string          `json:"from"`
	Identity int             `json:"identity"`
	Target   string          `json:"target"`
	Payload  json.RawMessage `json:"payload"`
}

type Notice struct {
	RoomId string `json:"room_id"`
	Reason string `json:"reason"`
}

type JoinResult struct {
	Meeting      types.Meeting      `json:"meeting"`
	ConnectionId string             `json:"connection_id"`
	Members      []types.MemberInfo `json:"members"`
}

func eventMessage(kind EventKind, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: kind,
		Data:  data,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrorResponse(id int, err error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: StatusCode(err),
			Error:        PublicError(err),
		},
	}
}

// payloadSlot stands in for a relayed signal payload while the envelope
// is encoded. encoding/json compacts and HTML-escapes raw values, so the
// payload bytes are written into the slot afterwards exactly as received.
var payloadSlot = []byte(`"payload":null`)

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	fwd, ok := msg.Data.(SignalForward)
	if !ok || len(fwd.Payload) == 0 {
		return json.Marshal(msg)
	}

	payload := fwd.Payload
	fwd.Payload = nil
	envelope := *msg
	envelope.Data = fwd

	b, err := json.Marshal(&envelope)
	if err != nil {
		return nil, err
	}

	i := bytes.LastIndex(b, payloadSlot)
	if i < 0 {
		return nil, fmt.Errorf("encoded signal has no payload field")
	}

	out := make([]byte, 0, len(b)+len(payload))
	out = append(out, b[:i]...)
	out = append(out, `"payload":`...)
	out = append(out, payload...)
	out = append(out, b[i+len(payloadSlot):]...)

	return out, nil
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
