package httpapi

import (
	"net/http"
	"os"
	"strings"
)

type setupCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type setupStatusResponse struct {
	AnalysisProvider string       `json:"analysis_provider"`
	StorageBackend   string       `json:"storage_backend"`
	StoreMode        string       `json:"store_mode"`
	RecordingFormat  string       `json:"recording_format"`
	Checks           []setupCheck `json:"checks"`
}

// handleSetupStatus reports which backends are configured and what is missing.
func (s *Server) handleSetupStatus(w http.ResponseWriter, _ *http.Request) {
	storeMode := "in-memory"
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}
	resp := setupStatusResponse{
		AnalysisProvider: s.cfg.ResolvedAnalysisProvider(),
		StorageBackend:   s.cfg.ResolvedStorageBackend(),
		StoreMode:        storeMode,
		RecordingFormat:  s.cfg.RecordingFormat,
	}
	resp.Checks = append(resp.Checks, s.realtimeChecks()...)
	resp.Checks = append(resp.Checks, s.persistenceChecks(storeMode)...)
	resp.Checks = append(resp.Checks, s.storageChecks(resp.StorageBackend)...)
	resp.Checks = append(resp.Checks, s.analysisChecks(resp.AnalysisProvider)...)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) realtimeChecks() []setupCheck {
	switch {
	case strings.TrimSpace(s.cfg.CredentialURL) != "":
		return []setupCheck{{
			ID:     "realtime_credentials",
			Status: "ok",
			Label:  "Realtime credentials",
			Detail: "external endpoint " + s.cfg.CredentialURL,
		}}
	case strings.TrimSpace(s.cfg.OpenAIAPIKey) != "":
		return []setupCheck{{
			ID:     "realtime_credentials",
			Status: "ok",
			Label:  "Realtime credentials",
			Detail: "minted locally (" + s.cfg.RealtimeModel + ")",
		}}
	default:
		return []setupCheck{{
			ID:     "realtime_credentials",
			Status: "error",
			Label:  "Realtime credentials",
			Detail: "OPENAI_API_KEY is not set",
			Fix:    "Set OPENAI_API_KEY or REALTIME_CREDENTIAL_URL.",
		}}
	}
}

func (s *Server) persistenceChecks(storeMode string) []setupCheck {
	checks := make([]setupCheck, 0, 2)
	if storeMode == "postgres" {
		checks = append(checks, setupCheck{ID: "store", Status: "ok", Label: "Interview persistence", Detail: "postgres"})
	} else {
		checks = append(checks, setupCheck{
			ID:     "store",
			Status: "warn",
			Label:  "Interview persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep interviews across restarts.",
		})
	}
	if strings.TrimSpace(s.cfg.RedisAddr) != "" {
		checks = append(checks, setupCheck{ID: "profile_cache", Status: "ok", Label: "Profile cache", Detail: s.cfg.RedisAddr})
	} else {
		checks = append(checks, setupCheck{ID: "profile_cache", Status: "warn", Label: "Profile cache", Detail: "disabled"})
	}
	return checks
}

func (s *Server) storageChecks(backend string) []setupCheck {
	if backend == "gcs" {
		check := setupCheck{ID: "recording_storage", Status: "ok", Label: "Recording storage", Detail: "gs://" + s.cfg.GCSBucket}
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			check.Status = "warn"
			check.Fix = "Set GOOGLE_APPLICATION_CREDENTIALS unless running with workload identity."
		}
		return []setupCheck{check}
	}
	check := setupCheck{ID: "recording_storage", Status: "ok", Label: "Recording storage", Detail: s.cfg.LocalStorageDir}
	if info, err := os.Stat(s.cfg.LocalStorageDir); err != nil || !info.IsDir() {
		check.Status = "warn"
		check.Detail = s.cfg.LocalStorageDir + " does not exist yet"
		check.Fix = "It is created on the first upload; set LOCAL_STORAGE_DIR to change it."
	}
	return []setupCheck{check}
}

func (s *Server) analysisChecks(provider string) []setupCheck {
	switch provider {
	case "mock":
		return []setupCheck{{
			ID:     "analysis",
			Status: "warn",
			Label:  "Transcript analysis is mock",
			Detail: "Evaluations are canned text.",
			Fix:    "Set OPENAI_API_KEY or ANALYSIS_PROVIDER=vertex with VERTEX_PROJECT_ID.",
		}}
	case "vertex":
		return []setupCheck{{ID: "analysis", Status: "ok", Label: "Transcript analysis", Detail: "vertex " + s.cfg.VertexModel}}
	default:
		check := setupCheck{ID: "analysis", Status: "ok", Label: "Transcript analysis", Detail: "openai " + s.cfg.AnalysisModel}
		if strings.TrimSpace(s.cfg.OpenAIAPIKey) == "" {
			check.Status = "error"
			check.Detail = "OPENAI_API_KEY is not set"
		}
		return []setupCheck{check}
	}
}
