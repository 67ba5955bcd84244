// Package conversation drives one practice interview from microphone access
// through finalization.
package conversation

import (
	"context"
	"errors"

	"github.com/ent0n29/interviewsim/internal/analysis"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/media"
	"github.com/ent0n29/interviewsim/internal/mixer"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/rtc"
	"github.com/ent0n29/interviewsim/internal/transcript"
)

type State string

const (
	StateIdle       State = "idle"
	StateMicReady   State = "mic_ready"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateFinished   State = "finished"
)

type MicStatus string

const (
	MicPending MicStatus = "pending"
	MicGranted MicStatus = "granted"
	MicBlocked MicStatus = "blocked"
)

type MicReason string

const (
	MicReasonDenied   MicReason = "denied"
	MicReasonNotFound MicReason = "not_found"
	MicReasonOther    MicReason = "other"
)

// Navigation targets.
const (
	NavDashboard = "/dashboard"
	NavFallback  = "/dashboard?finalize_error=1"
)

var (
	ErrBusy           = errors.New("conversation: another action is in flight")
	ErrInvalidState   = errors.New("conversation: action not valid in current state")
	ErrMicUnavailable = errors.New("conversation: microphone not available")
	ErrNoConnection   = errors.New("conversation: no active connection")
	ErrNoRecording    = errors.New("conversation: recording produced no result")
	ErrConnect        = errors.New("conversation: connection failed")
	ErrPersist        = errors.New("conversation: transcript could not be saved")
)

// SessionManager negotiates and tears down the realtime session.
type SessionManager interface {
	Start(ctx context.Context, pc rtc.PeerConnection, sessionID string, local *media.Stream) (rtc.DataChannel, error)
	End(pc rtc.PeerConnection, dc rtc.DataChannel)
}

// Recorder captures the mixed stream.
type Recorder interface {
	Start()
	Pause(ctx context.Context) error
	Resume() error
	Stop(ctx context.Context) (*recorder.Recording, error)
	Initialized() bool
}

// Mixer merges the local and remote audio for the recorder.
type Mixer interface {
	MergedStream() *media.Stream
	ConnectPeer(pc mixer.PeerTracks) error
	ConnectLocal(s *media.Stream) error
	Destroy()
}

// Persister upserts interview records.
type Persister interface {
	Save(ctx context.Context, r interview.Record) ([]interview.Record, error)
}

// Uploader stores a recording and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType, sessionID string) (string, error)
}

// Analyzer evaluates a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (interview.Evaluation, error)
}

type EventKind string

const (
	EventStateChanged    EventKind = "state_changed"
	EventMicStatus       EventKind = "mic_status"
	EventTranscriptEntry EventKind = "transcript_entry"
	EventNavigate        EventKind = "navigate"
	EventTaskStatus      EventKind = "task_status"
	EventFinalized       EventKind = "finalization_complete"
	EventError           EventKind = "error"
)

// Event is one observable change. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	State State

	Mic         MicStatus
	MicReason   MicReason
	Message     string
	Entry       transcript.Entry
	Target      string
	Task        TaskResult
	Tasks       []TaskResult
	Err         error
	Recoverable bool
}

// Observer receives events. It may be called from background goroutines and
// must not block for long.
type Observer func(Event)
