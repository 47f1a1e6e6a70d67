package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-meeting/internal/database"
	"github.com/npezzotti/go-meeting/internal/server"
	"github.com/npezzotti/go-meeting/internal/types"
	"github.com/teris-io/shortid"
)

type CreateMeetingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type AdminActionRequest struct {
	MeetingId      string `json:"meeting_id"`
	TargetIdentity int    `json:"target_identity"`
}

func (s *MeetingApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *MeetingApp) writeError(w http.ResponseWriter, err error) {
	errResp := apiErrorFrom(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// currentUser loads the authenticated caller from the store.
func (s *MeetingApp) currentUser(r *http.Request) (types.User, error) {
	id, ok := UserId(r.Context())
	if !ok {
		return types.User{}, NewUnauthorizedError()
	}

	user, err := s.db.GetUserById(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, NewUnauthorizedError()
		}
		return types.User{}, NewInternalServerError(err)
	}

	return types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
	}, nil
}

func (s *MeetingApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MeetingApp) logout(w http.ResponseWriter, r *http.Request) {
	token, exp := tokenFromContext(r.Context())
	if s.revoked != nil && token != "" {
		ttl := time.Until(exp)
		if exp.IsZero() {
			ttl = 24 * time.Hour
		}

		if err := s.revoked.Revoke(r.Context(), token, ttl); err != nil {
			s.writeError(w, NewServiceUnavailableError(err))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieKey,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *MeetingApp) createMeeting(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req CreateMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Title == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	externalId, err := shortid.Generate()
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	m, err := s.db.CreateMeeting(r.Context(), database.CreateMeetingParams{
		ExternalId:  externalId,
		Title:       req.Title,
		Description: req.Description,
		OwnerId:     user.Id,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.log.Info().Str("meeting_id", m.ExternalId).Int("owner", user.Id).Msg("meeting created")

	s.writeJson(w, http.StatusCreated, types.Meeting{
		Id:          m.Id,
		ExternalId:  m.ExternalId,
		Title:       m.Title,
		Description: m.Description,
		OwnerId:     m.OwnerId,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
	})
}

func (s *MeetingApp) endMeeting(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.ms.EndMeeting(r.Context(), user, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *MeetingApp) getMessages(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var limit int
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	msgs, err := s.ms.ChatHistory(r.Context(), user, r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if msgs == nil {
		msgs = []types.ChatMessage{}
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *MeetingApp) decodeAdminAction(w http.ResponseWriter, r *http.Request) (types.User, AdminActionRequest, bool) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return types.User{}, AdminActionRequest{}, false
	}

	var req AdminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MeetingId == "" || req.TargetIdentity <= 0 {
		s.writeError(w, NewBadRequestError())
		return types.User{}, AdminActionRequest{}, false
	}

	return user, req, true
}

func (s *MeetingApp) adminMute(w http.ResponseWriter, r *http.Request) {
	user, req, ok := s.decodeAdminAction(w, r)
	if !ok {
		return
	}

	if err := s.ms.AdminForceMute(r.Context(), user, req.MeetingId, req.TargetIdentity); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *MeetingApp) adminRemove(w http.ResponseWriter, r *http.Request) {
	user, req, ok := s.decodeAdminAction(w, r)
	if !ok {
		return
	}

	if err := s.ms.AdminRemove(r.Context(), user, req.MeetingId, req.TargetIdentity); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *MeetingApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	_, exp := tokenFromContext(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(user, exp, conn, s.ms, s.log)
	if err := s.ms.RegisterClient(client); err != nil {
		s.log.Warn().Err(err).Int("user_id", user.Id).Msg("rejecting connection")
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, server.PublicError(err)),
			time.Now().Add(time.Second),
		)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
