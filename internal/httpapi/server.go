package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/config"
	"github.com/ent0n29/interviewsim/internal/conversation"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/session"
)

// Deps are the collaborators behind the HTTP surface. Nil members disable
// the routes that need them.
type Deps struct {
	Sessions      *session.Manager
	Store         interview.Store
	Profiles      profile.Source
	Credentials   CredentialMinter
	Analyzer      conversation.Analyzer
	Conversations ConversationFactory
	Metrics       *observability.Metrics
	// RecordingsDir is served under /recordings/ when set.
	RecordingsDir string
	Logger        *logrus.Entry
}

type Server struct {
	cfg           config.Config
	sessions      *session.Manager
	store         interview.Store
	profiles      profile.Source
	credentials   CredentialMinter
	analyzer      conversation.Analyzer
	conversations ConversationFactory
	metrics       *observability.Metrics
	recordingsDir string
	log           *logrus.Entry
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logging.Component(nil, "httpapi")
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	return &Server{
		cfg:           cfg,
		sessions:      sessions,
		store:         deps.Store,
		profiles:      deps.Profiles,
		credentials:   deps.Credentials,
		analyzer:      deps.Analyzer,
		conversations: deps.Conversations,
		metrics:       deps.Metrics,
		recordingsDir: deps.RecordingsDir,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections may drive a microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	if s.recordingsDir != "" {
		fs := http.FileServer(http.Dir(s.recordingsDir))
		r.Handle("/recordings/*", http.StripPrefix("/recordings/", fs))
	}

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}/profile", s.handleGetProfile)
	r.Get("/v1/realtime/session", s.handleRealtimeSession)
	r.Post("/v1/analyze-transcript", s.handleAnalyzeTranscript)
	r.Get("/v1/interviews", s.handleListInterviews)
	r.Get("/v1/interviews/{id}", s.handleGetInterview)
	r.Get("/v1/conversation/ws", s.handleConversationWS)
	r.Get("/v1/conversations", s.handleListConversations)
	r.Post("/v1/conversations/{id}/end", s.handleEndConversation)
	r.Get("/v1/setup/status", s.handleSetupStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_conversations": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil || s.conversations == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        "not_ready",
			"store":         s.store != nil,
			"conversations": s.conversations != nil,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondStoreError maps interview store sentinels onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interview.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, interview.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, interview.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, interview.ErrInvalid):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
