package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/protocol"
	"github.com/ent0n29/interviewsim/internal/session"
)

type options struct {
	baseURL     string
	userID      string
	profile     string
	objectives  []string
	wavPath     string
	toneSeconds float64
	chunkMS     int
	realtime    float64
	stepTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Target  string `json:"target,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Task    string `json:"task,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "simclient: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "simclient: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var objectivesRaw string
	var stepTimeoutMS int

	fs := flag.NewFlagSet("simclient", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "interview service base URL")
	fs.StringVar(&cfg.userID, "user-id", "sim-user", "user_id that owns the practice session")
	fs.StringVar(&cfg.profile, "profile", "A skeptical CFO at a mid-size logistics company.", "customer profile for the simulated customer")
	fs.StringVar(&objectivesRaw, "objectives", "Discover budget|Handle pricing objection", "learning objectives separated by '|'")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file streamed as the learner's microphone (default: synthetic tone)")
	fs.Float64Var(&cfg.toneSeconds, "tone-seconds", 3, "length of the synthetic tone when -wav is empty")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&stepTimeoutMS, "step-timeout-ms", 30000, "timeout for each conversation step in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print conversation progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.userID) == "" {
		return options{}, fmt.Errorf("user-id is required")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if stepTimeoutMS < 1000 {
		stepTimeoutMS = 1000
	}
	cfg.stepTimeout = time.Duration(stepTimeoutMS) * time.Millisecond
	for _, part := range strings.Split(objectivesRaw, "|") {
		if o := strings.TrimSpace(part); o != "" {
			cfg.objectives = append(cfg.objectives, o)
		}
	}
	if len(cfg.objectives) == 0 {
		return options{}, fmt.Errorf("objectives produced no non-empty entries")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pcm, err := loadAudio(cfg)
	if err != nil {
		return fmt.Errorf("prepare audio: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	cfg.logf("session=%s user=%s objectives=%d", sessionID, cfg.userID, len(cfg.objectives))

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID, cfg.userID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 1024)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	w := &waiter{events: events, errs: readErrCh, timeout: cfg.stepTimeout, cfg: cfg}

	if _, err := w.until(func(env wsEnvelope) bool { return env.Type == string(protocol.TypeMicRequest) }); err != nil {
		return fmt.Errorf("await mic_request: %w", err)
	}
	if err := sendControl(conn, sessionID, protocol.ActionMicGranted); err != nil {
		return err
	}
	if _, err := w.until(stateIs("mic_ready")); err != nil {
		return fmt.Errorf("await mic_ready: %w", err)
	}

	started := time.Now()
	if err := sendControl(conn, sessionID, protocol.ActionToggle); err != nil {
		return err
	}
	if _, err := w.until(stateIs("active")); err != nil {
		return fmt.Errorf("await active: %w", err)
	}
	cfg.logf("connected in %s", time.Since(started).Round(time.Millisecond))

	if err := streamAudio(conn, sessionID, pcm, cfg.chunkMS, cfg.realtime); err != nil {
		return fmt.Errorf("stream audio: %w", err)
	}

	if err := sendControl(conn, sessionID, protocol.ActionFinish); err != nil {
		return err
	}
	nav, err := w.until(func(env wsEnvelope) bool { return env.Type == string(protocol.TypeNavigate) })
	if err != nil {
		return fmt.Errorf("await navigate: %w", err)
	}
	cfg.logf("navigate target=%s", nav.Target)
	if _, err := w.until(func(env wsEnvelope) bool { return env.Type == string(protocol.TypeFinalizationComplete) }); err != nil {
		return fmt.Errorf("await finalization: %w", err)
	}
	cfg.logf("conversation finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

func (o options) logf(format string, args ...any) {
	if o.verbose {
		fmt.Printf("simclient: "+format+"\n", args...)
	}
}

type waiter struct {
	events  <-chan wsEnvelope
	errs    <-chan error
	timeout time.Duration
	cfg     options
}

// until consumes server messages until match returns true. Error events are
// reported but do not stop the wait.
func (w *waiter) until(match func(wsEnvelope) bool) (wsEnvelope, error) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-w.events:
			w.report(env)
			if match(env) {
				return env, nil
			}
		case err := <-w.errs:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s", w.timeout)
		}
	}
}

func (w *waiter) report(env wsEnvelope) {
	switch env.Type {
	case string(protocol.TypeStateChanged):
		w.cfg.logf("state=%s", env.State)
	case string(protocol.TypeTranscriptEntry):
		w.cfg.logf("%s: %s", env.Role, env.Content)
	case string(protocol.TypeTaskStatus):
		w.cfg.logf("task %s %s %s", env.Task, env.Status, env.Detail)
	case string(protocol.TypeErrorEvent):
		fmt.Fprintf(os.Stderr, "simclient: error_event code=%s detail=%s\n", env.Code, env.Detail)
	}
}

func stateIs(state string) func(wsEnvelope) bool {
	return func(env wsEnvelope) bool {
		return env.Type == string(protocol.TypeStateChanged) && env.State == state
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(session.CreateRequest{
		UserID:          cfg.userID,
		CustomerProfile: cfg.profile,
		Objectives:      cfg.objectives,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func wsURLForSession(baseURL, sessionID, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/conversation/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		// Assistant audio is not played back by the headless client.
		if env.Type == string(protocol.TypeAssistantAudio) {
			continue
		}
		events <- env
	}
}

func sendControl(conn *websocket.Conn, sessionID, action string) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
	})
}

// loadAudio returns mono PCM16 at 48 kHz from the WAV file or a synthetic tone.
func loadAudio(cfg options) (audio.PCM, error) {
	if cfg.wavPath == "" {
		return toneClip(cfg.toneSeconds), nil
	}
	f, err := os.Open(cfg.wavPath)
	if err != nil {
		return audio.PCM{}, err
	}
	defer f.Close()
	return prepareClip(f)
}

func prepareClip(r io.Reader) (audio.PCM, error) {
	pcm, err := audio.DecodeWAV(r)
	if err != nil {
		return audio.PCM{}, err
	}
	mono := audio.ToMono(pcm.Samples, pcm.Channels)
	if len(mono) == 0 {
		return audio.PCM{}, fmt.Errorf("wav produced no samples")
	}
	return audio.PCM{
		Samples:    audio.Resample(mono, pcm.SampleRate, clipRate),
		SampleRate: clipRate,
		Channels:   1,
	}, nil
}

const clipRate = media.SampleRate

func toneClip(seconds float64) audio.PCM {
	if seconds <= 0 {
		seconds = 1
	}
	n := int(seconds * clipRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(4000 * math.Sin(2*math.Pi*220*float64(i)/clipRate))
	}
	return audio.PCM{Samples: samples, SampleRate: clipRate, Channels: 1}
}

// chunkSamples splits samples into chunkMS slices; the last chunk may be short.
func chunkSamples(samples []int16, sampleRate, chunkMS int) [][]int16 {
	per := sampleRate * chunkMS / 1000
	if per <= 0 {
		per = 1
	}
	var out [][]int16
	for off := 0; off < len(samples); off += per {
		end := off + per
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[off:end])
	}
	return out
}

func streamAudio(conn *websocket.Conn, sessionID string, pcm audio.PCM, chunkMS int, realtime float64) error {
	pace := time.Duration(float64(time.Duration(chunkMS)*time.Millisecond) / realtime)
	for i, chunk := range chunkSamples(pcm.Samples, pcm.SampleRate, chunkMS) {
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   sessionID,
			Seq:         i + 1,
			PCM16Base64: base64.StdEncoding.EncodeToString(audio.SamplesToBytes(chunk)),
			SampleRate:  pcm.SampleRate,
			Channels:    1,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		time.Sleep(pace)
	}
	return nil
}
