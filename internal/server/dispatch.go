package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type eventHandler func(ctx context.Context, c *Client, msg *ClientMessage) (any, error)

func (ms *MeetingServer) dispatchTable() map[EventKind]eventHandler {
	return map[EventKind]eventHandler{
		EventJoinMeeting:       ms.handleJoin,
		EventLeaveMeeting:      ms.handleLeave,
		EventSendMessage:       ms.handleSendMessage,
		EventToggleAudio:       ms.handleToggleAudio,
		EventToggleVideo:       ms.handleToggleVideo,
		EventSignalOffer:       ms.handleSignal,
		EventSignalAnswer:      ms.handleSignal,
		EventSignalIce:         ms.handleSignal,
		EventStartScreenShare:  ms.handleStartScreenShare,
		EventStopScreenShare:   ms.handleStopScreenShare,
		EventForceMute:         ms.handleForceMute,
		EventRemoveParticipant: ms.handleRemoveParticipant,
		EventEndMeeting:        ms.handleEndMeeting,
	}
}

// handleMessage decodes and runs one client event, then acknowledges it to
// the sender. Errors and panics stop at this boundary and are reported
// only to the originating connection.
func (ms *MeetingServer) handleMessage(ctx context.Context, c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn().Err(err).Msg("failed to decode client message")
		c.queueMessage(ErrorResponse(0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)))
		return
	}

	handler, ok := ms.handlers[msg.Event]
	if !ok {
		c.queueMessage(ErrorResponse(msg.Id, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, msg.Event)))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Str("event", string(msg.Event)).Msg("recovered from panic in event handler")
			c.queueMessage(ErrorResponse(msg.Id, fmt.Errorf("panic: %v", rec)))
		}
	}()

	if _, err := c.currentIdentity(time.Now()); err != nil {
		c.queueMessage(ErrorResponse(msg.Id, err))
		return
	}

	data, err := handler(ctx, c, &msg)
	if err != nil {
		c.log.Debug().Err(err).Str("event", string(msg.Event)).Msg("event rejected")
		c.queueMessage(ErrorResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, data))
}

func decode[T any](msg *ClientMessage) (T, error) {
	var v T
	if len(msg.Data) == 0 {
		return v, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return v, nil
}

// checkIdentity rejects events that name an identity other than the one
// the connection authenticated as.
func checkIdentity(c *Client, identity int) error {
	if identity != 0 && identity != c.user.Id {
		return ErrUnauthorized
	}
	return nil
}

func (ms *MeetingServer) handleJoin(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[JoinMeeting](msg)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(c, p.Identity); err != nil {
		return nil, err
	}

	return ms.Join(ctx, c, p.RoomId)
}

func (ms *MeetingServer) handleLeave(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[LeaveMeeting](msg)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(c, p.Identity); err != nil {
		return nil, err
	}
	if p.RoomId == "" {
		return nil, fmt.Errorf("%w: missing room id", ErrInvalidPayload)
	}

	ms.Leave(c, p.RoomId)
	return nil, nil
}

func (ms *MeetingServer) handleSendMessage(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[SendMessage](msg)
	if err != nil {
		return nil, err
	}

	return ms.SendChat(ctx, c.user, p.RoomId, p.Text)
}

func (ms *MeetingServer) handleToggleAudio(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[ToggleAudio](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.SetMuted(ctx, c.user, p.RoomId, p.Muted)
}

func (ms *MeetingServer) handleToggleVideo(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[ToggleVideo](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.SetVideo(ctx, c.user, p.RoomId, p.VideoOn)
}

func (ms *MeetingServer) handleSignal(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[Signal](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.Relay(c, msg.Event, p)
}

func (ms *MeetingServer) handleStartScreenShare(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[ScreenShare](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.StartScreenShare(ctx, c, p.RoomId)
}

func (ms *MeetingServer) handleStopScreenShare(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[ScreenShare](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.StopScreenShare(ctx, c, p.RoomId)
}

func (ms *MeetingServer) handleForceMute(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[AdminAction](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.AdminForceMute(ctx, c.user, p.RoomId, p.TargetIdentity)
}

func (ms *MeetingServer) handleRemoveParticipant(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[AdminAction](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.AdminRemove(ctx, c.user, p.RoomId, p.TargetIdentity)
}

func (ms *MeetingServer) handleEndMeeting(ctx context.Context, c *Client, msg *ClientMessage) (any, error) {
	p, err := decode[EndMeeting](msg)
	if err != nil {
		return nil, err
	}

	return nil, ms.EndMeeting(ctx, c.user, p.RoomId)
}
