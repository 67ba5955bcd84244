package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/device"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/mixer"
	"github.com/ent0n29/interviewsim/internal/observability"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/reliability"
	"github.com/ent0n29/interviewsim/internal/rtc"
	"github.com/ent0n29/interviewsim/internal/transcript"
)

const (
	micDeniedMessage   = "Microphone access was denied. Please allow microphone access to use this feature."
	micNotFoundMessage = "No microphone found. Please connect a microphone and try again."
	micOtherMessage    = "An error occurred while accessing the microphone. Please try again."
)

type Config struct {
	SessionID string
	UserID    string
	// Profile is used as-is when complete; otherwise it is looked up through Profiles.
	Profile  profile.Profile
	Profiles profile.Source

	Devices  device.Devices
	Peers    rtc.Factory
	Sessions SessionManager
	Store    Persister
	Uploader Uploader
	Analyzer Analyzer

	// Mixer defaults to a wall-clock mixer.
	Mixer Mixer
	// NewRecorder builds the recorder over the mixed stream. Defaults to WAV.
	NewRecorder func(stream *media.Stream) Recorder

	Observer Observer
	Logger   *logrus.Entry
	Metrics  *observability.Metrics

	// BackgroundTimeout bounds each finalization background task.
	BackgroundTimeout time.Duration
	Now               func() time.Time
}

// Orchestrator owns one conversation. All state is per instance.
type Orchestrator struct {
	cfg      Config
	log      *logrus.Entry
	metrics  *observability.Metrics
	observer Observer
	mixer    Mixer
	rec      Recorder
	tr       *transcript.Transcript

	mu         sync.Mutex
	state      State
	mic        MicStatus
	micReason  MicReason
	micMessage string
	micPending bool
	local      *media.Stream
	pc         rtc.PeerConnection
	dc         rtc.DataChannel
	started    bool
	busy       bool
	loaded     bool
	closed     bool
	profile    profile.Profile
	final      *Finalization
}

func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = logging.Component(nil, "conversation")
	}
	log = log.WithField("session_id", cfg.SessionID)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 2 * time.Minute
	}
	mx := cfg.Mixer
	if mx == nil {
		mx = mixer.New(mixer.WithLogger(log.WithField("component", "mixer")))
	}
	newRec := cfg.NewRecorder
	if newRec == nil {
		newRec = func(s *media.Stream) Recorder {
			return recorder.New(s, recorder.WAVEncoders, log.WithField("component", "recorder"))
		}
	}
	o := &Orchestrator{
		cfg:      cfg,
		log:      log,
		metrics:  cfg.Metrics,
		observer: cfg.Observer,
		mixer:    mx,
		tr:       transcript.NewWithClock(cfg.Now),
		state:    StateIdle,
		mic:      MicPending,
		profile:  cfg.Profile,
	}
	// The mixer output is stable, so the recorder can attach before any track exists.
	o.rec = newRec(mx.MergedStream())
	return o
}

func (o *Orchestrator) SessionID() string { return o.cfg.SessionID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot is a read-only view for status endpoints and tests.
type Snapshot struct {
	State      State     `json:"state"`
	Mic        MicStatus `json:"mic"`
	MicReason  MicReason `json:"mic_reason,omitempty"`
	MicMessage string    `json:"mic_message,omitempty"`
	Started    bool      `json:"started"`
	Connected  bool      `json:"connected"`
	Recording  bool      `json:"recording"`
	Entries    int       `json:"entries"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		State:      o.state,
		Mic:        o.mic,
		MicReason:  o.micReason,
		MicMessage: o.micMessage,
		Started:    o.started,
		Connected:  o.pc != nil,
		Recording:  o.rec.Initialized(),
		Entries:    o.tr.Len(),
	}
}

// Transcript returns a copy of the entries so far.
func (o *Orchestrator) Transcript() []transcript.Entry { return o.tr.Snapshot() }

// RecorderInitialized reports whether a recording session exists.
func (o *Orchestrator) RecorderInitialized() bool { return o.rec.Initialized() }

// Finalization returns the background task tracker once Finish succeeded.
func (o *Orchestrator) Finalization() *Finalization {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.final
}

// Begin runs the initial load: resolve the persona and request the
// microphone once. Later calls are no-ops.
func (o *Orchestrator) Begin(ctx context.Context) error {
	o.mu.Lock()
	if o.loaded {
		o.mu.Unlock()
		return nil
	}
	o.loaded = true
	o.mu.Unlock()

	o.loadProfile(ctx)
	return o.RequestMic(ctx)
}

func (o *Orchestrator) loadProfile(ctx context.Context) {
	o.mu.Lock()
	p := o.profile
	o.mu.Unlock()
	if p.Complete() || o.cfg.Profiles == nil {
		return
	}
	got, err := o.cfg.Profiles.GetProfile(ctx, o.cfg.SessionID)
	if err != nil {
		o.log.WithError(err).Error("error fetching customer profile")
		return
	}
	o.mu.Lock()
	o.profile = got
	o.mu.Unlock()
}

// RequestMic acquires the local stream. It is both the automatic initial
// request and the retry action of the blocked state.
func (o *Orchestrator) RequestMic(ctx context.Context) error {
	o.mu.Lock()
	if o.closed || o.state == StateFinished {
		o.mu.Unlock()
		return ErrInvalidState
	}
	if o.local != nil && !o.local.Stopped() {
		o.mu.Unlock()
		return nil
	}
	if o.micPending {
		o.mu.Unlock()
		return ErrBusy
	}
	o.micPending = true
	o.mic = MicPending
	o.mu.Unlock()

	stream, err := o.cfg.Devices.GetUserMedia(ctx)

	o.mu.Lock()
	o.micPending = false
	if err != nil {
		reason, msg := classifyMicError(err)
		o.mic = MicBlocked
		o.micReason = reason
		o.micMessage = msg
		o.mu.Unlock()
		o.log.WithError(err).WithField("reason", reason).Warn("microphone unavailable")
		o.metrics.CountEvent("mic_blocked")
		o.emit(Event{Kind: EventMicStatus, Mic: MicBlocked, MicReason: reason, Message: msg, Err: err})
		return fmt.Errorf("%w: %w", ErrMicUnavailable, err)
	}
	if o.closed {
		o.mu.Unlock()
		stream.Stop()
		return ErrInvalidState
	}
	o.local = stream
	o.mic = MicGranted
	o.micReason = ""
	o.micMessage = ""
	changed := false
	if o.state == StateIdle {
		o.state = StateMicReady
		changed = true
	}
	active := o.state == StateActive
	o.mu.Unlock()

	if !active {
		if err := o.mixer.ConnectLocal(stream); err != nil {
			o.log.WithError(err).Warn("mixer local connect failed")
		}
	}
	o.emit(Event{Kind: EventMicStatus, Mic: MicGranted})
	if changed {
		o.emitState(StateMicReady)
	}
	return nil
}

func classifyMicError(err error) (MicReason, string) {
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return MicReasonDenied, micDeniedMessage
	case errors.Is(err, device.ErrNotFound):
		return MicReasonNotFound, micNotFoundMessage
	default:
		return MicReasonOther, micOtherMessage
	}
}

// acquire takes the in-flight guard shared by Toggle and Finish.
func (o *Orchestrator) acquire(action string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		o.log.WithField("action", action).Warn("action rejected: another action is in flight")
		o.metrics.CountEvent("rejected_" + action)
		return ErrBusy
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

// Toggle connects, pauses or resumes depending on the current state.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	if err := o.acquire("toggle"); err != nil {
		return err
	}
	defer o.release()

	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	var err error
	switch state {
	case StateMicReady:
		err = o.connect(ctx)
	case StateActive:
		err = o.pause(ctx)
	case StatePaused:
		err = o.resume()
	case StateIdle:
		err = ErrMicUnavailable
	default:
		err = fmt.Errorf("%w: toggle from %s", ErrInvalidState, state)
	}
	if err != nil {
		o.log.WithError(err).WithField("state", state).Error("error in toggle")
		o.emit(Event{Kind: EventError, Err: err, Message: "toggle failed", Recoverable: true})
	}
	return err
}

func (o *Orchestrator) connect(ctx context.Context) error {
	o.mu.Lock()
	local := o.local
	o.state = StateConnecting
	o.mu.Unlock()
	o.emitState(StateConnecting)

	pc, err := o.cfg.Peers.NewPeerConnection()
	if err != nil {
		o.rollbackConnect(nil, nil)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	dc, err := o.cfg.Sessions.Start(ctx, pc, o.cfg.SessionID, local)
	if err != nil || dc == nil {
		if err == nil {
			err = errors.New("no event channel")
		}
		o.rollbackConnect(pc, dc)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	dc.OnMessage(o.handleMessage)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.cfg.Sessions.End(pc, dc)
		return ErrInvalidState
	}
	o.pc = pc
	o.dc = dc
	o.mu.Unlock()

	if err := o.mixer.ConnectPeer(pc); err != nil {
		o.log.WithError(err).Warn("mixer peer connect failed")
	}
	o.rec.Start()
	if !o.rec.Initialized() {
		o.log.Warn("recorder did not start; conversation continues without recording")
	}

	o.mu.Lock()
	o.started = true
	o.state = StateActive
	o.mu.Unlock()
	o.metrics.CountEvent("connected")
	o.log.Info("conversation started")
	o.emitState(StateActive)
	return nil
}

// rollbackConnect tears down a partial connection. Only reachable before the
// conversation ever started, so nothing accumulated is lost.
func (o *Orchestrator) rollbackConnect(pc rtc.PeerConnection, dc rtc.DataChannel) {
	o.cfg.Sessions.End(pc, dc)
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.pc = nil
	o.dc = nil
	o.state = StateMicReady
	o.mu.Unlock()
	o.metrics.CountEvent("connect_failed")
	o.emitState(StateMicReady)
}

func (o *Orchestrator) pause(ctx context.Context) error {
	o.mu.Lock()
	pc, local := o.pc, o.local
	o.mu.Unlock()
	if pc == nil {
		return ErrNoConnection
	}

	pc.SetTracksEnabled(false)
	if o.rec.Initialized() {
		if err := o.rec.Pause(ctx); err != nil {
			pc.SetTracksEnabled(true)
			return fmt.Errorf("pause recording: %w", err)
		}
	}
	if err := o.mixer.ConnectLocal(local); err != nil {
		o.log.WithError(err).Warn("mixer local connect failed")
	}

	o.mu.Lock()
	o.state = StatePaused
	o.mu.Unlock()
	o.metrics.CountEvent("paused")
	o.emitState(StatePaused)
	return nil
}

func (o *Orchestrator) resume() error {
	o.mu.Lock()
	pc := o.pc
	o.mu.Unlock()
	if pc == nil {
		return ErrNoConnection
	}

	if o.rec.Initialized() {
		if err := o.rec.Resume(); err != nil {
			return fmt.Errorf("resume recording: %w", err)
		}
	} else {
		o.rec.Start()
	}
	pc.SetTracksEnabled(true)
	if err := o.mixer.ConnectPeer(pc); err != nil {
		o.log.WithError(err).Warn("mixer peer connect failed")
	}

	o.mu.Lock()
	o.state = StateActive
	o.mu.Unlock()
	o.metrics.CountEvent("resumed")
	o.emitState(StateActive)
	return nil
}

func (o *Orchestrator) handleMessage(raw []byte) {
	ev, err := transcript.ParseEvent(raw)
	if err != nil {
		o.log.WithError(err).Warn("error processing message")
		return
	}
	if ev.Error != nil {
		o.realtimeError(ev.Error)
	}
	added, err := o.tr.Apply(ev)
	if err != nil {
		o.log.WithField("type", ev.Type).Debug("event after transcript closed")
		return
	}
	for _, e := range added {
		o.emit(Event{Kind: EventTranscriptEntry, Entry: e})
	}
}

// realtimeError reports an error event from the realtime channel. The
// conversation keeps running; the client decides whether to finish.
func (o *Orchestrator) realtimeError(e *transcript.EventError) {
	class, recoverable := reliability.ClassifyRealtimeError(e.Type, e.Code)
	o.metrics.CountProviderError("realtime_events", string(class))
	o.log.WithFields(logrus.Fields{
		"error_type":  e.Type,
		"error_code":  e.Code,
		"class":       class,
		"recoverable": recoverable,
		"message":     e.Message,
	}).Warn("realtime error event")
	o.emit(Event{
		Kind:        EventError,
		Err:         fmt.Errorf("realtime %s: %s", class, e.Message),
		Message:     "realtime error",
		Recoverable: recoverable,
	})
}

// Finish ends the conversation and runs finalization. On success the returned
// Finalization tracks the background upload and analysis tasks.
func (o *Orchestrator) Finish(ctx context.Context) (*Finalization, error) {
	if err := o.acquire("finish"); err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	pc, dc := o.pc, o.dc
	state := o.state
	o.mu.Unlock()
	if pc == nil || (state != StateActive && state != StatePaused) {
		o.log.WithField("state", state).Error("finish rejected: no connection")
		return nil, ErrNoConnection
	}

	stageStart := time.Now()
	rec, err := o.rec.Stop(ctx)
	o.metrics.ObserveFinalizeStage("stop_recording", time.Since(stageStart))
	if err != nil || rec == nil {
		if err == nil {
			err = errors.New("recorder returned no blob")
		}
		o.log.WithError(err).Error("error in finish: failed to get recording")
		o.teardown(pc, dc)
		o.emit(Event{Kind: EventNavigate, Target: NavFallback})
		return nil, fmt.Errorf("%w: %w", ErrNoRecording, err)
	}

	o.teardown(pc, dc)

	entries := o.tr.Freeze()
	if entries == nil {
		entries = []transcript.Entry{}
	}
	o.mu.Lock()
	p := o.profile
	o.mu.Unlock()

	stageStart = time.Now()
	if err := o.persistTranscript(ctx, entries, p); err != nil {
		o.metrics.ObserveFinalizeStage("persist_transcript", time.Since(stageStart))
		o.log.WithError(err).Error("error in finish: saving transcript failed")
		o.emit(Event{Kind: EventNavigate, Target: NavFallback})
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	o.metrics.ObserveFinalizeStage("persist_transcript", time.Since(stageStart))
	o.emit(Event{Kind: EventNavigate, Target: NavDashboard})

	fin := newFinalization(TaskUpload, TaskAnalysis)
	o.mu.Lock()
	o.final = fin
	o.mu.Unlock()
	o.launchBackground(ctx, fin, rec, entries, p)
	return fin, nil
}

// teardown ends the realtime session and marks the conversation finished.
func (o *Orchestrator) teardown(pc rtc.PeerConnection, dc rtc.DataChannel) {
	o.cfg.Sessions.End(pc, dc)
	o.mu.Lock()
	o.pc = nil
	o.dc = nil
	o.state = StateFinished
	o.mu.Unlock()
	o.tr.Freeze()
	o.metrics.CountEvent("finished")
	o.emitState(StateFinished)
}

func (o *Orchestrator) persistTranscript(ctx context.Context, entries []transcript.Entry, p profile.Profile) error {
	rec := recordFor(o.cfg.SessionID, o.cfg.UserID)
	rec.Entries = entries
	if strings.TrimSpace(p.CustomerProfile) != "" {
		cp := p.CustomerProfile
		rec.CustomerProfile = &cp
	}
	if len(p.Objectives) > 0 {
		rec.Objectives = append([]string(nil), p.Objectives...)
	}
	_, err := o.cfg.Store.Save(ctx, rec)
	return err
}

// Close releases every resource. Background finalization tasks keep running.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	pc, dc, local := o.pc, o.dc, o.local
	o.pc, o.dc = nil, nil
	o.mu.Unlock()

	if pc != nil || dc != nil {
		o.cfg.Sessions.End(pc, dc)
	}
	if o.rec.Initialized() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := o.rec.Stop(ctx); err != nil {
			o.log.WithError(err).Debug("discard recording on close")
		}
		cancel()
	}
	o.mixer.Destroy()
	if local != nil {
		local.Stop()
	}
	o.tr.Freeze()
	o.log.Debug("conversation closed")
}

func (o *Orchestrator) emitState(s State) {
	o.emit(Event{Kind: EventStateChanged, State: s})
}

func (o *Orchestrator) emit(ev Event) {
	if o.observer != nil {
		o.observer(ev)
	}
}
