// Package realtime negotiates and tears down sessions with the remote
// conversational AI endpoint.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/redact"
	"github.com/ent0n29/interviewsim/internal/rtc"
)

var (
	ErrNoCredential = errors.New("realtime credential missing")
	ErrNoLocalAudio = errors.New("local stream has no audio track")
)

// Sink plays remote audio tracks.
type Sink interface {
	Attach(t media.Track)
}

type SinkFunc func(t media.Track)

func (f SinkFunc) Attach(t media.Track) { f(t) }

type ManagerConfig struct {
	// BaseURL is the SDP exchange endpoint; the model is added as a query parameter.
	BaseURL     string
	Model       string
	Credentials Credentials
	Sink        Sink
	HTTPClient  *http.Client
	Logger      *logrus.Entry
	Metrics     *observability.Metrics
}

// Manager runs the session negotiation against one peer connection at a time.
type Manager struct {
	baseURL string
	model   string
	creds   Credentials
	sink    Sink
	client  *http.Client
	log     *logrus.Entry
	metrics *observability.Metrics
}

func NewManager(cfg ManagerConfig) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Component(nil, "realtime")
	}
	return &Manager{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:   strings.TrimSpace(cfg.Model),
		creds:   cfg.Credentials,
		sink:    cfg.Sink,
		client:  client,
		log:     log,
		metrics: cfg.Metrics,
	}
}

// Start negotiates a session on pc and returns its event channel. On failure
// the error is logged and returned with a nil channel; pc is left for the
// caller to tear down and must not be reused.
func (m *Manager) Start(ctx context.Context, pc rtc.PeerConnection, sessionID string, local *media.Stream) (rtc.DataChannel, error) {
	started := time.Now()
	log := m.log.WithField("session_id", sessionID)

	dc, err := m.start(ctx, pc, sessionID, local)
	if err != nil {
		log.WithError(err).Error("error starting realtime session")
		return nil, err
	}
	m.metrics.ObserveNegotiation(time.Since(started))
	log.WithField("duration_ms", time.Since(started).Milliseconds()).Info("realtime session started")
	return dc, nil
}

func (m *Manager) start(ctx context.Context, pc rtc.PeerConnection, sessionID string, local *media.Stream) (rtc.DataChannel, error) {
	if pc == nil {
		return nil, fmt.Errorf("start realtime session: nil peer connection")
	}
	if m.creds == nil {
		return nil, fmt.Errorf("start realtime session: no credential source")
	}
	cred, err := m.creds.Credential(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if cred.Value == "" {
		return nil, ErrNoCredential
	}

	if m.sink != nil {
		for _, t := range pc.Receivers() {
			m.sink.Attach(t)
		}
		pc.OnTrack(m.sink.Attach)
	}

	if local == nil || len(local.AudioTracks()) == 0 {
		return nil, ErrNoLocalAudio
	}
	if err := pc.AddTrack(local.AudioTracks()[0]); err != nil {
		return nil, fmt.Errorf("add local track: %w", err)
	}

	dc, err := pc.CreateDataChannel(rtc.EventsLabel)
	if err != nil {
		return nil, err
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		return nil, err
	}
	answer, err := m.exchange(ctx, cred.Value, offer)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteAnswer(answer); err != nil {
		return nil, err
	}
	return dc, nil
}

// exchange posts the offer SDP and returns the answer SDP.
func (m *Manager) exchange(ctx context.Context, key, offer string) (string, error) {
	endpoint := m.baseURL
	if m.model != "" {
		endpoint += "?model=" + url.QueryEscape(m.model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("create sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/sdp")

	res, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send sdp offer: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sdp answer: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		m.metrics.CountProviderError("realtime", fmt.Sprint(res.StatusCode))
		return "", fmt.Errorf("sdp exchange status %d: %s", res.StatusCode, redact.Body(body, 512))
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("sdp exchange returned empty answer")
	}
	return answer, nil
}

// End closes dc and pc. It is nil-safe, idempotent, and never propagates an
// error since it runs on recovery paths.
func (m *Manager) End(pc rtc.PeerConnection, dc rtc.DataChannel) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Error("error ending realtime session")
		}
	}()

	if dc != nil {
		if err := dc.Close(); err != nil {
			m.log.WithError(err).Debug("close event channel")
		}
	}
	if pc == nil || pc.SignalingClosed() {
		return
	}
	if err := pc.RemoveSenders(); err != nil {
		m.log.WithError(err).Warn("remove senders")
	}
	if err := pc.Close(); err != nil {
		m.log.WithError(err).Warn("close peer connection")
	}
}
