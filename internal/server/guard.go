package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-meeting/internal/types"
)

type action int

const (
	// actionJoin requires the room to be active in the store.
	actionJoin action = iota
	// actionMember requires a live member or a participant row for the
	// identity in an active room.
	actionMember
	// actionRead is actionMember without the active requirement.
	actionRead
	// actionAdmin requires the identity to own the room.
	actionAdmin
)

func (a action) String() string {
	switch a {
	case actionJoin:
		return "join"
	case actionMember:
		return "member"
	case actionRead:
		return "read"
	case actionAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// authorize checks that user may perform act in r. It runs before every
// state change or relay; having joined earlier grants nothing by itself.
func (ms *MeetingServer) authorize(ctx context.Context, user types.User, r *Room, act action) error {
	if user.Id == 0 {
		return ErrUnauthenticated
	}

	switch act {
	case actionJoin:
		active, err := ms.db.MeetingIsActive(ctx, r.id)
		if err != nil {
			return fmt.Errorf("%w: check meeting active: %w", ErrPersistenceFailed, err)
		}
		if !active {
			return ErrRoomInactive
		}
		return nil
	case actionMember, actionRead:
		if act == actionMember && !r.isActive() {
			return ErrRoomInactive
		}
		if user.Id == r.ownerId || r.hasIdentity(user.Id) {
			return nil
		}

		exists, err := ms.db.ParticipantExists(ctx, r.id, user.Id)
		if err != nil {
			return fmt.Errorf("%w: check participant: %w", ErrPersistenceFailed, err)
		}
		if !exists {
			return ErrUnauthorized
		}
		return nil
	case actionAdmin:
		if user.Id != r.ownerId {
			return ErrUnauthorized
		}
		return nil
	}

	return fmt.Errorf("%w: unknown action %s", ErrUnauthorized, act)
}
