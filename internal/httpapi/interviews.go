package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/interviewsim/internal/interview"
)

const defaultInterviewLimit = 50

// handleListInterviews serves the dashboard feed, newest first.
func (s *Server) handleListInterviews(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondStoreError(w, interview.ErrUnauthenticated)
		return
	}
	limit := defaultInterviewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if records == nil {
		records = []interview.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"interviews": records})
}

func (s *Server) handleGetInterview(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "store not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondStoreError(w, interview.ErrUnauthenticated)
		return
	}
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if rec.UserID != userID {
		respondStoreError(w, interview.ErrForbidden)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
