package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	created, err := s.store.CreateSession(r.Context(), interview.Session{
		UserID:          strings.TrimSpace(req.UserID),
		CustomerProfile: strings.TrimSpace(req.CustomerProfile),
		Objectives:      req.Objectives,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.metrics.CountEvent("session_created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       created.ID,
		UserID:          created.UserID,
		CustomerProfile: created.CustomerProfile,
		Objectives:      created.Objectives,
		CreatedAt:       created.CreatedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "profile lookup not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	p, err := s.profiles.GetProfile(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"customer_profile": p.CustomerProfile,
		"objectives":       p.Objectives,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"conversations": s.sessions.List(),
	})
}

// handleEndConversation force-closes a live conversation connection.
func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.End(id, "")
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.metrics.SetActiveConversations(s.sessions.ActiveCount())
	s.metrics.CountEvent("ended_by_api")
	respondJSON(w, http.StatusOK, sess)
}
