package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-meeting/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

// Client is one live websocket connection. Its id is the handle other
// members address signaling messages to.
type Client struct {
	id        string
	conn      *websocket.Conn
	ms        *MeetingServer
	log       zerolog.Logger
	user      types.User
	expiresAt time.Time
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewClient wraps an upgraded connection for an authenticated user whose
// credentials expire at expiresAt. A zero expiresAt never expires.
func NewClient(user types.User, expiresAt time.Time, conn *websocket.Conn, ms *MeetingServer, l zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		conn:      conn,
		ms:        ms,
		log:       l.With().Str("module", "client").Str("conn", id).Int("user", user.Id).Logger(),
		user:      user,
		expiresAt: expiresAt,
		send:      make(chan *ServerMessage, sendQueueSize),
		rooms:     make(map[string]*Room),
		stop:      make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

// currentIdentity re-validates the credentials the connection was opened
// with. It is checked before every event.
func (c *Client) currentIdentity(now time.Time) (types.User, error) {
	if c.user.Id == 0 {
		return types.User{}, ErrUnauthenticated
	}
	if !c.expiresAt.IsZero() && now.After(c.expiresAt) {
		return types.User{}, ErrUnauthenticated
	}
	return c.user, nil
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
		c.ms.UnregisterClient(c)
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		c.ms.handleMessage(ctx, c, raw)
	}
}

// queueMessage enqueues msg without blocking. A client whose queue is full
// is disconnected rather than silently skipped, so every member that stays
// joined observes every event addressed to it.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("send queue full, disconnecting client")
		c.stopClient()
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}

// joinedElsewhere reports the room the connection is a member of, if that
// room is not id. A connection is a member of at most one room.
func (c *Client) joinedElsewhere(id string) (string, bool) {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for other := range c.rooms {
		if other != id {
			return other, true
		}
	}
	return "", false
}

func (c *Client) roomIds() []string {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
