package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/analysis"
	"github.com/ent0n29/interviewsim/internal/audio/opus"
	"github.com/ent0n29/interviewsim/internal/config"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/storage"
)

type analysisSetup struct {
	provider analysis.Provider
	resolved string
	detail   string
	cleanup  func() error
}

func resolveAnalysisProvider(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (analysisSetup, error) {
	switch mode := cfg.ResolvedAnalysisProvider(); mode {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return analysisSetup{}, fmt.Errorf("ANALYSIS_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		p := analysis.NewOpenAIProvider(analysis.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			APIBase:    cfg.OpenAIAPIBase,
			Model:      cfg.AnalysisModel,
			MaxRetries: cfg.ProviderMaxRetries,
			Metrics:    metrics,
		})
		return analysisSetup{provider: p, resolved: mode, detail: "openai " + cfg.AnalysisModel}, nil
	case "vertex":
		p, err := analysis.NewVertexProvider(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel)
		if err != nil {
			return analysisSetup{}, fmt.Errorf("vertex analysis provider init failed: %w", err)
		}
		return analysisSetup{provider: p, resolved: mode, detail: "vertex " + cfg.VertexModel, cleanup: p.Close}, nil
	case "mock":
		return analysisSetup{provider: analysis.NewMockProvider(), resolved: mode, detail: "mock"}, nil
	default:
		return analysisSetup{}, fmt.Errorf("unknown ANALYSIS_PROVIDER %q", mode)
	}
}

type storageSetup struct {
	uploader storage.Uploader
	resolved string
	// localDir is served under /recordings/ for the local backend.
	localDir string
	cleanup  func() error
}

func resolveStorage(ctx context.Context, cfg config.Config) (storageSetup, error) {
	switch mode := cfg.ResolvedStorageBackend(); mode {
	case "gcs":
		up, err := storage.NewGCSUploader(ctx, cfg.GCSBucket)
		if err != nil {
			return storageSetup{}, fmt.Errorf("gcs uploader init failed: %w", err)
		}
		return storageSetup{uploader: up, resolved: mode, cleanup: up.Close}, nil
	default:
		if err := os.MkdirAll(cfg.LocalStorageDir, 0o755); err != nil {
			return storageSetup{}, fmt.Errorf("create local storage dir: %w", err)
		}
		up, err := storage.NewLocalUploader(cfg.LocalStorageDir, cfg.PublicBaseURL)
		if err != nil {
			return storageSetup{}, fmt.Errorf("local uploader init failed: %w", err)
		}
		return storageSetup{uploader: up, resolved: "local", localDir: up.Dir()}, nil
	}
}

// recordingEncoders picks Ogg/Opus when requested and falls back to WAV when
// libopus cannot initialize.
func recordingEncoders(cfg config.Config, log *logrus.Entry) recorder.EncoderFactory {
	if cfg.RecordingFormat != "ogg" {
		return recorder.WAVEncoders
	}
	return func() (recorder.Encoder, error) {
		enc, err := opus.NewOggEncoder(recorder.Channels)
		if err != nil {
			log.WithError(err).Warn("ogg/opus encoder unavailable, recording as wav")
			return recorder.WAVEncoders()
		}
		return enc, nil
	}
}
