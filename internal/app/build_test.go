package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ent0n29/interviewsim/internal/config"
	"github.com/ent0n29/interviewsim/internal/logging"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:         "interviewsim_test",
		LogLevel:                 "error",
		SessionInactivityTimeout: time.Minute,
		BackgroundTimeout:        time.Second,
		RealtimeURL:              "http://127.0.0.1:0/v1/realtime",
		RealtimeModel:            "test-model",
		StorageBackend:           "auto",
		LocalStorageDir:          t.TempDir(),
		PublicBaseURL:            "http://localhost:8080",
		RecordingFormat:          "wav",
		AnalysisProvider:         "auto",
	}
}

func TestBuildWiresLocalBackends(t *testing.T) {
	cfg := localConfig(t)
	built, err := Build(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if built.Backends.Storage != "local" || built.Backends.Analysis != "mock" || built.Backends.Profiles != "store" {
		t.Fatalf("Backends = %+v", built.Backends)
	}
	if built.Store == nil || built.Sessions == nil {
		t.Fatalf("Build() left store or sessions nil")
	}

	srv := httptest.NewServer(built.API.Router())
	defer srv.Close()
	res, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/readyz status = %d, want 200", res.StatusCode)
	}
}

func TestRecordingEncodersFollowFormat(t *testing.T) {
	log := logging.Component(logging.Discard(), "test")
	cfg := localConfig(t)
	enc, err := recordingEncoders(cfg, log)()
	if err != nil {
		t.Fatalf("wav encoder error = %v", err)
	}
	if enc.ContentType() != "audio/wav" {
		t.Fatalf("ContentType() = %q, want audio/wav", enc.ContentType())
	}
}

func TestResolveAnalysisProviderRequiresKey(t *testing.T) {
	cfg := localConfig(t)
	cfg.AnalysisProvider = "openai"
	if _, err := resolveAnalysisProvider(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error without OPENAI_API_KEY")
	}
}
