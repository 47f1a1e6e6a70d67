package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/rs/zerolog"
)

const defaultIdleRoomTimeout = 5 * time.Second

// MeetingServer owns the connection registry and the room directory. All
// realtime state lives here; nothing is kept in package level variables.
type MeetingServer struct {
	log             zerolog.Logger
	db              database.MeetingRepository
	stats           stats.StatsProvider
	idleRoomTimeout time.Duration
	handlers        map[EventKind]eventHandler

	clients      map[string]*Client
	clientsLock  sync.RWMutex
	shuttingDown bool
	connections  sync.WaitGroup

	// roomsLock guards the rooms map only. Lock order is roomsLock, then
	// Room.mu, then Client.roomsLock.
	rooms     map[string]*Room
	roomsLock sync.Mutex
}

func NewMeetingServer(logger zerolog.Logger, db database.MeetingRepository, su stats.StatsProvider, idleRoomTimeout time.Duration) *MeetingServer {
	if idleRoomTimeout <= 0 {
		idleRoomTimeout = defaultIdleRoomTimeout
	}

	ms := &MeetingServer{
		log:             logger.With().Str("module", "meeting-server").Logger(),
		db:              db,
		stats:           su,
		idleRoomTimeout: idleRoomTimeout,
		clients:         make(map[string]*Client),
		rooms:           make(map[string]*Room),
	}
	ms.handlers = ms.dispatchTable()

	su.RegisterMetric(stats.MetricActiveConnections)
	su.RegisterMetric(stats.MetricLoadedRooms)
	su.RegisterMetric(stats.MetricChatMessages)
	su.RegisterMetric(stats.MetricSignalsRelayed)

	return ms
}

// Shutdown disconnects every client and waits for their cleanup to finish
// or for ctx to expire.
func (ms *MeetingServer) Shutdown(ctx context.Context) error {
	ms.log.Info().Msg("shutting down meeting server")

	ms.clientsLock.Lock()
	ms.shuttingDown = true
	for _, c := range ms.clients {
		c.stopClient()
	}
	ms.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		ms.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	ms.roomsLock.Lock()
	defer ms.roomsLock.Unlock()
	for id, r := range ms.rooms {
		r.mu.Lock()
		if r.killTimer != nil {
			r.killTimer.Stop()
		}
		r.unloaded = true
		r.mu.Unlock()
		delete(ms.rooms, id)
	}

	return nil
}
