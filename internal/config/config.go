package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the interview practice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	BackgroundTimeout        time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	OpenAIAPIKey       string
	OpenAIAPIBase      string
	RealtimeURL        string
	RealtimeModel      string
	RealtimeVoice      string
	TranscriptionModel string
	// CredentialURL points at an external credential endpoint. Empty means the
	// service mints ephemeral keys itself.
	CredentialURL      string
	ICEServers         []string
	ProviderMaxRetries int

	DatabaseURL     string
	RedisAddr       string
	ProfileCacheTTL time.Duration

	StorageBackend  string
	GCSBucket       string
	LocalStorageDir string
	PublicBaseURL   string
	RecordingFormat string

	AnalysisProvider string
	AnalysisModel    string
	VertexProject    string
	VertexLocation   string
	VertexModel      string
}

// Load reads a .env file when present, then environment variables, and
// applies safe defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "interviewsim"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		AllowAnyOrigin:     false,
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIAPIBase:      envOrDefault("OPENAI_API_BASE", "https://api.openai.com/v1"),
		RealtimeURL:        envOrDefault("REALTIME_URL", "https://api.openai.com/v1/realtime"),
		RealtimeModel:      envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeVoice:      envOrDefault("REALTIME_VOICE", "alloy"),
		TranscriptionModel: envOrDefault("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		CredentialURL:      stringsTrimSpace("REALTIME_CREDENTIAL_URL"),
		ICEServers:         listFromEnv("ICE_SERVERS", []string{"stun:stun.l.google.com:19302"}),
		ProviderMaxRetries: 3,
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		RedisAddr:          stringsTrimSpace("REDIS_ADDR"),
		ProfileCacheTTL:    10 * time.Minute,
		StorageBackend:     strings.ToLower(envOrDefault("STORAGE_BACKEND", "auto")),
		GCSBucket:          stringsTrimSpace("GCS_BUCKET"),
		LocalStorageDir:    envOrDefault("LOCAL_STORAGE_DIR", "data/recordings"),
		PublicBaseURL:      strings.TrimRight(envOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		RecordingFormat:    strings.ToLower(envOrDefault("RECORDING_FORMAT", "ogg")),
		AnalysisProvider:   strings.ToLower(envOrDefault("ANALYSIS_PROVIDER", "auto")),
		AnalysisModel:      envOrDefault("ANALYSIS_MODEL", "gpt-4o"),
		VertexProject:      stringsTrimSpace("VERTEX_PROJECT_ID"),
		VertexLocation:     envOrDefault("VERTEX_LOCATION", "us-central1"),
		VertexModel:        envOrDefault("VERTEX_MODEL", "gemini-1.5-pro"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		BackgroundTimeout:        2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackgroundTimeout, err = durationFromEnv("APP_BACKGROUND_TIMEOUT", cfg.BackgroundTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProfileCacheTTL, err = durationFromEnv("PROFILE_CACHE_TTL", cfg.ProfileCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderMaxRetries, err = intFromEnv("PROVIDER_MAX_RETRIES", cfg.ProviderMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.BackgroundTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_BACKGROUND_TIMEOUT must be positive")
	}
	if cfg.ProviderMaxRetries < 0 {
		return Config{}, fmt.Errorf("PROVIDER_MAX_RETRIES must be >= 0")
	}
	switch cfg.StorageBackend {
	case "auto", "gcs", "local":
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND must be one of auto, gcs, local")
	}
	if cfg.StorageBackend == "gcs" && cfg.GCSBucket == "" {
		return Config{}, fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
	}
	switch cfg.RecordingFormat {
	case "ogg", "wav":
	default:
		return Config{}, fmt.Errorf("RECORDING_FORMAT must be ogg or wav")
	}
	switch cfg.AnalysisProvider {
	case "auto", "openai", "vertex", "mock":
	default:
		return Config{}, fmt.Errorf("ANALYSIS_PROVIDER must be one of auto, openai, vertex, mock")
	}
	if cfg.AnalysisProvider == "vertex" && cfg.VertexProject == "" {
		return Config{}, fmt.Errorf("VERTEX_PROJECT_ID is required when ANALYSIS_PROVIDER=vertex")
	}

	return cfg, nil
}

// ResolvedStorageBackend picks gcs when a bucket is configured in auto mode.
func (c Config) ResolvedStorageBackend() string {
	if c.StorageBackend != "auto" {
		return c.StorageBackend
	}
	if c.GCSBucket != "" {
		return "gcs"
	}
	return "local"
}

// ResolvedAnalysisProvider picks the first configured provider in auto mode.
func (c Config) ResolvedAnalysisProvider() string {
	if c.AnalysisProvider != "auto" {
		return c.AnalysisProvider
	}
	switch {
	case c.OpenAIAPIKey != "":
		return "openai"
	case c.VertexProject != "":
		return "vertex"
	default:
		return "mock"
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
