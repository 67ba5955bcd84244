package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/interviewsim/internal/analysis"
	"github.com/ent0n29/interviewsim/internal/device"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/mixer"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/rtc"
	"github.com/ent0n29/interviewsim/internal/rtc/rtctest"
	"github.com/ent0n29/interviewsim/internal/transcript"
)

type scriptedDevices struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (d *scriptedDevices) GetUserMedia(context.Context) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return media.NewStream(media.NewBroadcastTrack(media.KindAudio)), nil
}

type fakeSessions struct {
	mu       sync.Mutex
	startErr error
	starts   int
	ends     int
}

func (s *fakeSessions) Start(ctx context.Context, pc rtc.PeerConnection, sessionID string, local *media.Stream) (rtc.DataChannel, error) {
	s.mu.Lock()
	s.starts++
	err := s.startErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := pc.AddTrack(local.AudioTracks()[0]); err != nil {
		return nil, err
	}
	return pc.CreateDataChannel(rtc.EventsLabel)
}

func (s *fakeSessions) End(pc rtc.PeerConnection, dc rtc.DataChannel) {
	s.mu.Lock()
	s.ends++
	s.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil && !pc.SignalingClosed() {
		_ = pc.RemoveSenders()
		_ = pc.Close()
	}
}

type flakyStore struct {
	*interview.InMemoryStore
	mu       sync.Mutex
	failNext error
	saves    []interview.Record
}

func (s *flakyStore) Save(ctx context.Context, r interview.Record) ([]interview.Record, error) {
	s.mu.Lock()
	s.saves = append(s.saves, r)
	err := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.InMemoryStore.Save(ctx, r)
}

func (s *flakyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fakeUploader struct {
	err error
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, _ string, sessionID string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	return "https://storage.example/" + sessionID + ".wav", nil
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (interview.Evaluation, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.err != nil {
		return interview.Evaluation{}, a.err
	}
	g := "listen more"
	return interview.Evaluation{GeneralAnalysis: &g, EvaluatedAt: time.Unix(1700000000, 0)}, nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) targets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Kind == EventNavigate {
			out = append(out, ev.Target)
		}
	}
	return out
}

func (l *eventLog) micEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == EventMicStatus {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	o        *Orchestrator
	devices  *scriptedDevices
	peers    *rtctest.Factory
	sessions *fakeSessions
	store    *flakyStore
	uploader *fakeUploader
	analyzer *fakeAnalyzer
	events   *eventLog
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		devices:  &scriptedDevices{},
		peers:    &rtctest.Factory{},
		sessions: &fakeSessions{},
		store:    &flakyStore{InMemoryStore: interview.NewInMemoryStore()},
		uploader: &fakeUploader{},
		analyzer: &fakeAnalyzer{},
		events:   &eventLog{},
	}
	cfg := Config{
		SessionID: "sess-1",
		UserID:    "user-1",
		Profile:   profile.Profile{CustomerProfile: "Bakery owner", Objectives: []string{"ordering pains"}},
		Devices:   h.devices,
		Peers:     h.peers,
		Sessions:  h.sessions,
		Store:     h.store,
		Uploader:  h.uploader,
		Analyzer:  h.analyzer,
		Mixer:     mixer.New(mixer.WithTicker(make(chan time.Time))),
		Observer:  h.events.observe,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.o = New(cfg)
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.o.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() to active error = %v", err)
	}
	if h.o.State() != StateActive {
		t.Fatalf("State() = %q, want active", h.o.State())
	}
}

func (h *harness) channel(t *testing.T) *rtctest.Channel {
	t.Helper()
	peers := h.peers.Peers()
	if len(peers) == 0 {
		t.Fatalf("no peer connection created")
	}
	chans := peers[len(peers)-1].Channels()
	if len(chans) == 0 {
		t.Fatalf("no data channel created")
	}
	return chans[0]
}

func waitFinal(t *testing.T, fin *Finalization) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fin.Wait(ctx); err != nil {
		t.Fatalf("finalization did not settle: %v", err)
	}
}

func TestMicDeniedThenRetryThenToggleActivates(t *testing.T) {
	h := newHarness(t, nil)
	h.devices.errs = []error{device.ErrPermissionDenied}
	ctx := context.Background()

	if err := h.o.Begin(ctx); !errors.Is(err, ErrMicUnavailable) {
		t.Fatalf("Begin() error = %v, want ErrMicUnavailable", err)
	}
	snap := h.o.Snapshot()
	if snap.Mic != MicBlocked || snap.MicReason != MicReasonDenied || snap.MicMessage != micDeniedMessage {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := h.o.Toggle(ctx); !errors.Is(err, ErrMicUnavailable) {
		t.Fatalf("Toggle() while blocked error = %v", err)
	}

	if err := h.o.RequestMic(ctx); err != nil {
		t.Fatalf("RequestMic() retry error = %v", err)
	}
	if h.o.State() != StateMicReady {
		t.Fatalf("State() = %q, want mic_ready", h.o.State())
	}
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if h.o.State() != StateActive {
		t.Fatalf("State() = %q, want active", h.o.State())
	}
	mics := h.events.micEvents()
	if len(mics) != 2 || mics[0].Mic != MicBlocked || mics[1].Mic != MicGranted {
		t.Fatalf("mic events = %+v", mics)
	}
}

func TestMicErrorReasons(t *testing.T) {
	cases := []struct {
		err    error
		reason MicReason
	}{
		{device.ErrNotFound, MicReasonNotFound},
		{errors.New("device busy"), MicReasonOther},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.devices.errs = []error{tc.err}
		_ = h.o.Begin(context.Background())
		if got := h.o.Snapshot().MicReason; got != tc.reason {
			t.Fatalf("reason for %v = %q, want %q", tc.err, got, tc.reason)
		}
	}
}

func TestBeginRequestsMicOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_ = h.o.Begin(ctx)
	_ = h.o.Begin(ctx)
	if h.devices.calls != 1 {
		t.Fatalf("GetUserMedia calls = %d, want 1", h.devices.calls)
	}
}

func TestTranscriptEventsArriveInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	ch := h.channel(t)

	ch.Deliver([]byte(`{"input_audio_transcription":"Hi"}`))
	ch.Deliver([]byte(`{"transcript":"Hello there","type":"response.output"}`))
	ch.Deliver([]byte(`{"text":"Thanks","type":"response.output"}`))
	ch.Deliver([]byte(`not json`))

	want := []transcript.Entry{
		{Role: transcript.RoleUser, Content: "Hi"},
		{Role: transcript.RoleAssistant, Content: "Hello there"},
		{Role: transcript.RoleAssistant, Content: "Thanks"},
	}
	got := h.o.Transcript()
	if len(got) != len(want) {
		t.Fatalf("transcript = %+v", got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPauseResumeKeepsOneRecorderSession(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	ctx := context.Background()
	pc := h.peers.Peers()[0]

	if !h.o.RecorderInitialized() {
		t.Fatalf("recorder not initialized after connect")
	}
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() pause error = %v", err)
	}
	if h.o.State() != StatePaused {
		t.Fatalf("State() = %q, want paused", h.o.State())
	}
	if enabled, set := pc.TracksEnabled(); !set || enabled {
		t.Fatalf("tracks enabled = %v (set %v), want disabled", enabled, set)
	}
	if !h.o.RecorderInitialized() {
		t.Fatalf("recorder lost its session while paused")
	}
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() resume error = %v", err)
	}
	if h.o.State() != StateActive {
		t.Fatalf("State() = %q, want active", h.o.State())
	}
	if enabled, _ := pc.TracksEnabled(); !enabled {
		t.Fatalf("tracks not re-enabled on resume")
	}
	if !h.o.RecorderInitialized() {
		t.Fatalf("recorder not initialized after resume")
	}
	if len(h.peers.Peers()) != 1 || h.sessions.starts != 1 {
		t.Fatalf("resume renegotiated: peers=%d starts=%d", len(h.peers.Peers()), h.sessions.starts)
	}
}

func TestConnectFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.startErr = errors.New("sdp exchange failed")
	ctx := context.Background()
	if err := h.o.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := h.o.Toggle(ctx); !errors.Is(err, ErrConnect) {
		t.Fatalf("Toggle() error = %v, want ErrConnect", err)
	}
	if h.o.State() != StateMicReady {
		t.Fatalf("State() = %q, want mic_ready", h.o.State())
	}
	if pc := h.peers.Peers()[0]; pc.CloseCalls() != 1 {
		t.Fatalf("partial peer connection not closed")
	}
	if h.o.Snapshot().Connected {
		t.Fatalf("connection kept after failed start")
	}

	h.sessions.startErr = nil
	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("retry Toggle() error = %v", err)
	}
	if len(h.peers.Peers()) != 2 {
		t.Fatalf("retry should use a fresh peer connection")
	}
}

type stuckResumeRecorder struct {
	Recorder
}

func (stuckResumeRecorder) Resume() error { return errors.New("encoder unavailable") }

func TestToggleFailureAfterStartKeepsConversation(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.NewRecorder = func(s *media.Stream) Recorder {
			return stuckResumeRecorder{Recorder: recorder.New(s, nil, nil)}
		}
	})
	h.activate(t)
	ctx := context.Background()
	h.channel(t).Deliver([]byte(`{"input_audio_transcription":"We order flour weekly"}`))

	if err := h.o.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() pause error = %v", err)
	}
	if err := h.o.Toggle(ctx); err == nil {
		t.Fatalf("Toggle() resume should fail")
	}
	if h.o.State() != StatePaused {
		t.Fatalf("State() = %q, want paused", h.o.State())
	}
	if got := h.o.Transcript(); len(got) != 1 || got[0].Content != "We order flour weekly" {
		t.Fatalf("transcript after failed toggle = %+v", got)
	}
	if !h.o.RecorderInitialized() {
		t.Fatalf("recording session lost after failed toggle")
	}
	if !h.o.Snapshot().Connected || h.sessions.ends != 0 {
		t.Fatalf("connection torn down after failed toggle: ends=%d", h.sessions.ends)
	}
}

func TestRealtimeErrorEventIsReported(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	h.channel(t).Deliver([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"session_expired","message":"Session expired"}}`))

	h.events.mu.Lock()
	var errs []Event
	for _, ev := range h.events.events {
		if ev.Kind == EventError {
			errs = append(errs, ev)
		}
	}
	h.events.mu.Unlock()
	if len(errs) != 1 || errs[0].Recoverable {
		t.Fatalf("error events = %+v, want one unrecoverable", errs)
	}
	if h.o.State() != StateActive || len(h.o.Transcript()) != 0 {
		t.Fatalf("state = %q transcript = %+v", h.o.State(), h.o.Transcript())
	}
}

type blockingRecorder struct {
	Recorder
	paused  chan struct{}
	release chan struct{}
}

func (r *blockingRecorder) Pause(ctx context.Context) error {
	close(r.paused)
	<-r.release
	return r.Recorder.Pause(ctx)
}

func TestConcurrentActionsAreRejected(t *testing.T) {
	var br *blockingRecorder
	h := newHarness(t, func(cfg *Config) {
		cfg.NewRecorder = func(s *media.Stream) Recorder {
			br = &blockingRecorder{
				Recorder: recorder.New(s, nil, nil),
				paused:   make(chan struct{}),
				release:  make(chan struct{}),
			}
			return br
		}
	})
	h.activate(t)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- h.o.Toggle(ctx) }()
	<-br.paused

	if err := h.o.Toggle(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Toggle() error = %v, want ErrBusy", err)
	}
	if _, err := h.o.Finish(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Finish() error = %v, want ErrBusy", err)
	}
	close(br.release)
	if err := <-errc; err != nil {
		t.Fatalf("in-flight Toggle() error = %v", err)
	}
	if h.o.State() != StatePaused {
		t.Fatalf("State() = %q, want paused", h.o.State())
	}
}

func TestFinishPersistsThenRunsBackgroundTasks(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	h.channel(t).Deliver([]byte(`{"input_audio_transcription":"When did that last happen?"}`))

	fin, err := h.o.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	waitFinal(t, fin)

	if h.o.State() != StateFinished {
		t.Fatalf("State() = %q, want finished", h.o.State())
	}
	if got := h.events.targets(); len(got) != 1 || got[0] != NavDashboard {
		t.Fatalf("navigation = %v, want dashboard", got)
	}
	if fin.Task(TaskUpload).Status != TaskSucceeded || fin.Task(TaskAnalysis).Status != TaskSucceeded {
		t.Fatalf("tasks = %+v", fin.Results())
	}
	rec, err := h.store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(rec.Entries) != 1 || rec.RecordingURL == nil || rec.Evaluation == nil {
		t.Fatalf("stored record = %+v", rec)
	}
	if rec.CustomerProfile == nil || *rec.CustomerProfile != "Bakery owner" {
		t.Fatalf("customer profile not persisted")
	}

	h.channel(t).Deliver([]byte(`{"text":"late","type":"response.output"}`))
	if len(h.o.Transcript()) != 1 {
		t.Fatalf("transcript changed after finish")
	}
	if err := h.o.Toggle(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Toggle() after finish error = %v", err)
	}
}

func TestFinishPersistFailureLaunchesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	h.store.failNext = errors.New("database down")

	fin, err := h.o.Finish(context.Background())
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("Finish() error = %v, want ErrPersist", err)
	}
	if fin != nil || h.o.Finalization() != nil {
		t.Fatalf("finalization launched after persist failure")
	}
	if got := h.events.targets(); len(got) != 1 || got[0] != NavFallback {
		t.Fatalf("navigation = %v, want fallback only", got)
	}
	time.Sleep(20 * time.Millisecond)
	if h.analyzer.callCount() != 0 || h.store.saveCount() != 1 {
		t.Fatalf("background work ran: analyzer=%d saves=%d", h.analyzer.callCount(), h.store.saveCount())
	}
}

func TestUploadFailureDoesNotBlockEvaluation(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.err = errors.New("bucket unavailable")
	h.activate(t)
	h.channel(t).Deliver([]byte(`{"input_audio_transcription":"Tell me about last week"}`))

	fin, err := h.o.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	waitFinal(t, fin)

	if got := fin.Task(TaskUpload); got.Status != TaskFailed || got.Err == nil {
		t.Fatalf("upload task = %+v, want failed", got)
	}
	if got := fin.Task(TaskAnalysis); got.Status != TaskSucceeded {
		t.Fatalf("analysis task = %+v, want succeeded", got)
	}
	rec, err := h.store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Evaluation == nil {
		t.Fatalf("evaluation not persisted")
	}
	if rec.RecordingURL != nil {
		t.Fatalf("recording url persisted despite upload failure")
	}
}

func TestAnalysisSkippedForEmptyTranscript(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t)
	fin, err := h.o.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	waitFinal(t, fin)
	if got := fin.Task(TaskAnalysis); got.Status != TaskSkipped {
		t.Fatalf("analysis task = %+v, want skipped", got)
	}
	if h.analyzer.callCount() != 0 {
		t.Fatalf("analyzer called for empty transcript")
	}
}

func TestAnalysisSkippedWithoutObjectives(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Profile = profile.Profile{CustomerProfile: "Bakery owner", Objectives: []string{" "}}
	})
	h.activate(t)
	h.channel(t).Deliver([]byte(`{"input_audio_transcription":"Hi"}`))
	fin, err := h.o.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	waitFinal(t, fin)
	if got := fin.Task(TaskAnalysis); got.Status != TaskSkipped {
		t.Fatalf("analysis task = %+v, want skipped", got)
	}
}

type nilRecorder struct{ Recorder }

func (nilRecorder) Stop(context.Context) (*recorder.Recording, error) { return nil, nil }

func TestFinishWithoutRecordingNavigatesToFallback(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.NewRecorder = func(s *media.Stream) Recorder {
			return nilRecorder{Recorder: recorder.New(s, nil, nil)}
		}
	})
	h.activate(t)
	pc := h.peers.Peers()[0]

	if _, err := h.o.Finish(context.Background()); !errors.Is(err, ErrNoRecording) {
		t.Fatalf("Finish() error = %v, want ErrNoRecording", err)
	}
	if got := h.events.targets(); len(got) != 1 || got[0] != NavFallback {
		t.Fatalf("navigation = %v", got)
	}
	if pc.CloseCalls() != 1 {
		t.Fatalf("peer connection not torn down")
	}
	if h.store.saveCount() != 0 {
		t.Fatalf("transcript persisted without a recording")
	}
}

func TestFinishRequiresConnection(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.o.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := h.o.Finish(context.Background()); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("Finish() error = %v, want ErrNoConnection", err)
	}
}

func TestProfileLoadedFromSource(t *testing.T) {
	src := profileSource{"sess-1": {CustomerProfile: "Fleet manager", Objectives: []string{"fuel costs"}}}
	h := newHarness(t, func(cfg *Config) {
		cfg.Profile = profile.Profile{}
		cfg.Profiles = src
	})
	h.activate(t)
	h.channel(t).Deliver([]byte(`{"input_audio_transcription":"Hi"}`))
	fin, err := h.o.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	waitFinal(t, fin)
	if got := fin.Task(TaskAnalysis); got.Status != TaskSucceeded {
		t.Fatalf("analysis task = %+v, want succeeded with looked-up profile", got)
	}
}

type profileSource map[string]profile.Profile

func (p profileSource) GetProfile(_ context.Context, id string) (profile.Profile, error) {
	v, ok := p[id]
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	return v, nil
}
