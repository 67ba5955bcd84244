package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/redact"
	"github.com/ent0n29/interviewsim/internal/reliability"
)

var ErrMissingAPIKey = errors.New("missing OpenAI API key")

type MinterConfig struct {
	APIKey             string
	APIBase            string
	Model              string
	Voice              string
	TranscriptionModel string
	MaxRetries         int
	Profiles           profile.Source
	HTTPClient         *http.Client
	Logger             *logrus.Entry
	Metrics            *observability.Metrics
}

// Minter creates upstream realtime sessions carrying the persona of a
// practice session. The persona never travels through the client.
type Minter struct {
	cfg     MinterConfig
	client  *http.Client
	log     *logrus.Entry
	metrics *observability.Metrics
	sleep   func(context.Context, time.Duration) error
}

func NewMinter(cfg MinterConfig) *Minter {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Component(nil, "realtime_minter")
	}
	return &Minter{cfg: cfg, client: client, log: log, metrics: cfg.Metrics, sleep: sleepCtx}
}

type sessionRequest struct {
	Model                   string                `json:"model"`
	Voice                   string                `json:"voice"`
	Instructions            string                `json:"instructions,omitempty"`
	InputAudioTranscription *transcriptionRequest `json:"input_audio_transcription,omitempty"`
}

type transcriptionRequest struct {
	Model string `json:"model"`
}

// Mint creates an upstream session and returns its JSON body unchanged.
func (m *Minter) Mint(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if strings.TrimSpace(m.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	req := sessionRequest{
		Model:                   m.cfg.Model,
		Voice:                   m.cfg.Voice,
		InputAudioTranscription: &transcriptionRequest{Model: m.cfg.TranscriptionModel},
	}
	if m.cfg.Profiles != nil && strings.TrimSpace(sessionID) != "" {
		p, err := m.cfg.Profiles.GetProfile(ctx, sessionID)
		switch {
		case err == nil:
			req.Instructions = PersonaInstructions(p)
		case errors.Is(err, profile.ErrNotFound):
			m.log.WithField("session_id", sessionID).Warn("no profile for session, using default persona")
		default:
			return nil, fmt.Errorf("lookup persona: %w", err)
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 3*time.Second)); err != nil {
				return nil, err
			}
		}
		body, status, err := m.post(ctx, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if status == 0 || !reliability.IsRetryableHTTPStatus(status) {
			break
		}
		m.log.WithError(err).WithField("attempt", attempt+1).Warn("realtime session mint retrying")
	}
	return nil, lastErr
}

func (m *Minter) post(ctx context.Context, payload []byte) (json.RawMessage, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIBase+"/realtime/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		m.metrics.CountProviderError("realtime_sessions", fmt.Sprint(res.StatusCode))
		return nil, res.StatusCode, fmt.Errorf("realtime sessions status %d: %s", res.StatusCode, redact.Body(body, 512))
	}
	if !json.Valid(body) {
		return nil, res.StatusCode, fmt.Errorf("realtime sessions returned invalid json")
	}
	return json.RawMessage(body), res.StatusCode, nil
}

// Credential implements Credentials in-process, skipping the HTTP hop.
func (m *Minter) Credential(ctx context.Context, sessionID string) (Credential, error) {
	raw, err := m.Mint(ctx, sessionID)
	if err != nil {
		return Credential{}, err
	}
	var out sessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Credential{}, fmt.Errorf("decode session: %w", err)
	}
	return out.credential(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
