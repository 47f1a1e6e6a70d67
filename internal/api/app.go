package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-meeting/internal/config"
	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/server"
	"github.com/rs/zerolog"
)

type MeetingApp struct {
	log            zerolog.Logger
	db             database.MeetingRepository
	mux            *http.Server
	ms             *server.MeetingServer
	revoked        RevocationList
	signingKey     []byte
	allowedOrigins []string
}

// NewMeetingApp mounts the HTTP API on mux. revoked may be nil, in which
// case tokens are only checked for signature and expiry.
func NewMeetingApp(mux *http.ServeMux, logger zerolog.Logger, ms *server.MeetingServer, db database.MeetingRepository, revoked RevocationList, cfg *config.Config) *MeetingApp {
	s := &MeetingApp{
		log:            logger.With().Str("module", "api").Logger(),
		db:             db,
		ms:             ms,
		revoked:        revoked,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/meetings", s.authMiddleware(s.createMeeting))
	mux.Handle("POST /api/meetings/{id}/end", s.authMiddleware(s.endMeeting))
	mux.Handle("GET /api/meetings/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/admin/mute", s.authMiddleware(s.adminMute))
	mux.Handle("POST /api/admin/remove", s.authMiddleware(s.adminRemove))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.requestLogger(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *MeetingApp) Start() error {
	s.log.Info().Str("addr", s.mux.Addr).Msg("starting server")
	return s.mux.ListenAndServe()
}

func (s *MeetingApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
