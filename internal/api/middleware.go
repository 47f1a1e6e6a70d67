package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

func (s *MeetingApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *MeetingApp) requestLogger(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.UserAgentHandler("user_agent")(h)

	return hlog.NewHandler(s.log)(h)
}

// authMiddleware resolves the caller's identity from a signed token that
// has not been revoked.
func (s *MeetingApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := extractToken(r)
		if err != nil {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		userId, expiresAt, err := s.verifyToken(tokenString)
		if err != nil {
			s.log.Debug().Err(err).Msg("failed to verify token")
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if s.revoked != nil {
			revoked, err := s.revoked.IsRevoked(r.Context(), tokenString)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to check token revocation")
			}
			if err != nil || revoked {
				errResp := NewUnauthorizedError()
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}

		ctx := WithUserId(r.Context(), userId)
		ctx = withToken(ctx, tokenString, expiresAt)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
