package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/redis/go-redis/v9"
)

const (
	tokenCookieKey = "token"
	userIdClaim    = "user-id"
	expClaim       = "exp"

	revokedKeyPrefix = "revoked:"
)

type contextKey string

const (
	userIdKey   contextKey = "user-id"
	tokenKey    contextKey = "token"
	tokenExpKey contextKey = "token-exp"
)

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)

	return userId, ok
}

func withToken(ctx context.Context, token string, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, tokenKey, token)
	return context.WithValue(ctx, tokenExpKey, expiresAt)
}

func tokenFromContext(ctx context.Context) (string, time.Time) {
	token, _ := ctx.Value(tokenKey).(string)
	exp, _ := ctx.Value(tokenExpKey).(time.Time)
	return token, exp
}

// RevocationList records tokens that were invalidated before they expired.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

type RedisRevocationList struct {
	client *redis.Client
}

func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := l.client.Exists(ctx, revokedKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}

	return n > 0, nil
}

// Revoke keeps the token on the list until it would have expired anyway.
func (l *RedisRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	if err := l.client.Set(ctx, revokedKeyPrefix+token, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// extractToken looks for the token in the session cookie, then in a bearer
// Authorization header and finally in the query string, which is the only
// option browsers have when opening a websocket.
func extractToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}

	return "", errors.New("no token in request")
}

func (s *MeetingApp) verifyToken(tokenString string) (int, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, time.Time{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return 0, time.Time{}, fmt.Errorf("invalid user id claim")
	}

	var expiresAt time.Time
	if exp, ok := claims[expClaim].(float64); ok {
		expiresAt = time.Unix(int64(exp), 0)
	}

	return int(userId), expiresAt, nil
}
