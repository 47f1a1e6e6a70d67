package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-meeting/internal/config"
	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/server"
	"github.com/npezzotti/go-meeting/internal/stats"
	"github.com/npezzotti/go-meeting/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

var (
	owner  = database.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com"}
	member = database.User{Id: 2, Username: "bob", EmailAddress: "bob@example.com"}
)

func testMeeting() database.Meeting {
	return database.Meeting{
		Id:         10,
		ExternalId: "R1",
		Title:      "standup",
		OwnerId:    owner.Id,
		IsActive:   true,
		CreatedAt:  time.Now().Add(-time.Minute).UTC(),
	}
}

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	return signed
}

func userToken(t *testing.T, userId int) string {
	return signToken(t, testSigningKey, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(time.Hour).Unix(),
	})
}

type memoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
	err     error
}

func newMemoryRevocationList() *memoryRevocationList {
	return &memoryRevocationList{revoked: make(map[string]time.Duration)}
}

func (l *memoryRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return false, l.err
	}
	_, ok := l.revoked[token]
	return ok, nil
}

func (l *memoryRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.revoked[token] = ttl
	return nil
}

var errRedisDown = errors.New("redis: connection refused")

// newTestApp wires a MeetingApp with a real meeting server over the mock
// repository and returns the full handler chain.
func newTestApp(t *testing.T, db *database.MockMeetingRepository, revoked RevocationList) (*MeetingApp, http.Handler) {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	ms := server.NewMeetingServer(logger, db, su, time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ms.Shutdown(ctx)
	})

	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewMeetingApp(http.NewServeMux(), logger, ms, db, revoked, cfg)
	return app, app.mux.Handler
}
