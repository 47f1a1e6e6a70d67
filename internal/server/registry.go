package server

import (
	"github.com/npezzotti/go-meeting/internal/stats"
)

// RegisterClient adds a live connection to the registry. The client's id
// becomes its handle for signaling.
func (ms *MeetingServer) RegisterClient(c *Client) error {
	ms.clientsLock.Lock()
	defer ms.clientsLock.Unlock()

	if ms.shuttingDown {
		return ErrServiceUnavailable
	}

	ms.clients[c.id] = c
	ms.connections.Add(1)
	ms.stats.Incr(stats.MetricActiveConnections)
	ms.log.Debug().Str("conn", c.id).Int("user", c.user.Id).Msg("client registered")

	return nil
}

// UnregisterClient removes a connection and leaves every room it had
// joined before returning, exactly as if it had sent leave-meeting for
// each. Calling it more than once is harmless.
func (ms *MeetingServer) UnregisterClient(c *Client) {
	ms.clientsLock.Lock()
	_, ok := ms.clients[c.id]
	delete(ms.clients, c.id)
	ms.clientsLock.Unlock()

	if !ok {
		return
	}

	for _, roomId := range c.roomIds() {
		ms.Leave(c, roomId)
	}

	c.stopClient()
	ms.stats.Decr(stats.MetricActiveConnections)
	ms.connections.Done()
	ms.log.Debug().Str("conn", c.id).Int("user", c.user.Id).Msg("client unregistered")
}

func (ms *MeetingServer) client(handle string) *Client {
	ms.clientsLock.RLock()
	defer ms.clientsLock.RUnlock()

	return ms.clients[handle]
}

func (ms *MeetingServer) numClients() int {
	ms.clientsLock.RLock()
	defer ms.clientsLock.RUnlock()

	return len(ms.clients)
}
