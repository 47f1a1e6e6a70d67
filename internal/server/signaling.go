package server

import (
	"fmt"

	"github.com/npezzotti/go-meeting/internal/stats"
)

// Relay forwards an offer, answer or ICE candidate to exactly one other
// connection. The payload is passed through untouched; only the sender's
// membership and the target's presence in the same room are checked.
func (ms *MeetingServer) Relay(c *Client, kind EventKind, sig Signal) error {
	if sig.Target == "" || len(sig.Payload) == 0 {
		return fmt.Errorf("%w: signal needs a target and a payload", ErrInvalidPayload)
	}

	var rooms []*Room
	if sig.RoomId != "" {
		r := c.getRoom(sig.RoomId)
		if r == nil {
			return ErrUnauthorized
		}
		rooms = append(rooms, r)
	} else {
		for _, id := range c.roomIds() {
			if r := c.getRoom(id); r != nil {
				rooms = append(rooms, r)
			}
		}
		if len(rooms) == 0 {
			return ErrUnauthorized
		}
	}

	for _, r := range rooms {
		if ms.relayIn(r, c, kind, sig) {
			ms.stats.Incr(stats.MetricSignalsRelayed)
			return nil
		}
	}

	return ErrTargetNotFound
}

// relayIn delivers the signal if both ends are members of r. Membership of
// the sender is checked again under the room lock since it may have left
// in the meantime.
func (ms *MeetingServer) relayIn(r *Room, c *Client, kind EventKind, sig Signal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.members[c.id]; !ok {
		return false
	}
	target, ok := r.members[sig.Target]
	if !ok || target.ConnectionId == c.id {
		return false
	}

	target.client.queueMessage(eventMessage(kind, SignalForward{
		RoomId:   r.externalId,
		From:     c.id,
		Identity: c.user.Id,
		Target:   sig.Target,
		Payload:  sig.Payload,
	}))
	return true
}
