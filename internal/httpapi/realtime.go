package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/interviewsim/internal/analysis"
)

// CredentialMinter issues the ephemeral realtime session payload for a
// practice session.
type CredentialMinter interface {
	Mint(ctx context.Context, sessionID string) (json.RawMessage, error)
}

func (s *Server) handleRealtimeSession(w http.ResponseWriter, r *http.Request) {
	if s.credentials == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "realtime credentials not configured")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	raw, err := s.credentials.Mint(r.Context(), sessionID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sessionID).Error("error creating realtime session")
		respondError(w, http.StatusBadGateway, "realtime_session_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleAnalyzeTranscript(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "analysis not configured")
		return
	}
	var req analysis.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := analysis.Validate(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ev, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(w, http.StatusGatewayTimeout, "analysis_timeout", err.Error())
			return
		}
		s.log.WithError(err).WithField("session_id", req.SessionID).Error("error analyzing transcript")
		respondError(w, http.StatusBadGateway, "analysis_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ev)
}
