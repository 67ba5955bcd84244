// Package recorder captures a media stream into an encoded blob across a
// pause/resume-capable session.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
)

var ErrInvalidState = errors.New("recorder: invalid state")

type State string

const (
	StateUninitialized State = "uninitialized"
	StateRecording     State = "recording"
	StatePaused        State = "paused"
)

// Channels is the capture layout of every recording.
const Channels = 2

// Encoder turns frames into a finished container.
type Encoder interface {
	WriteFrame(f media.Frame) error
	Finish() ([]byte, error)
	ContentType() string
}

type EncoderFactory func() (Encoder, error)

// WAVEncoders is the pure-Go fallback encoder factory.
func WAVEncoders() (Encoder, error) { return audio.NewWAVEncoder(Channels), nil }

// Recording is the result of one start → stop lifecycle.
type Recording struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

type Recorder struct {
	stream     *media.Stream
	newEncoder EncoderFactory
	log        *logrus.Entry

	mu      sync.Mutex
	state   State
	session *captureSession
}

type captureSession struct {
	enc    Encoder
	track  media.Track
	seg    *segment
	frames int
	err    error
}

// segment is one uninterrupted subscription between start/resume and pause/stop.
type segment struct {
	cancel func()
	done   chan struct{}
}

// New returns a recorder bound to stream. A nil stream is allowed; Start will
// then log and do nothing.
func New(stream *media.Stream, newEncoder EncoderFactory, log *logrus.Entry) *Recorder {
	if newEncoder == nil {
		newEncoder = WAVEncoders
	}
	if log == nil {
		log = logging.Component(nil, "recorder")
	}
	return &Recorder{stream: stream, newEncoder: newEncoder, log: log, state: StateUninitialized}
}

// Start begins a new recording session. Failures are logged, never returned.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateUninitialized {
		r.log.WithField("state", r.state).Warn("start ignored: recording session already exists")
		return
	}
	if r.stream == nil {
		r.log.Error("start recording: no stream")
		return
	}
	tracks := r.stream.AudioTracks()
	if len(tracks) == 0 {
		r.log.Error("start recording: stream has no audio track")
		return
	}
	enc, err := r.newEncoder()
	if err != nil {
		r.log.WithError(err).Error("start recording: encoder init failed")
		return
	}

	sess := &captureSession{enc: enc, track: tracks[0]}
	r.session = sess
	r.state = StateRecording
	r.startSegmentLocked(sess)
	r.log.Info("started recording conversation")
}

func (r *Recorder) startSegmentLocked(sess *captureSession) {
	frames, cancel := sess.track.Subscribe(64)
	seg := &segment{cancel: cancel, done: make(chan struct{})}
	sess.seg = seg
	go r.capture(sess, seg, frames)
}

// capture writes every frame of one segment, including frames still queued
// when the segment is cancelled.
func (r *Recorder) capture(sess *captureSession, seg *segment, frames <-chan media.Frame) {
	defer close(seg.done)
	for f := range frames {
		r.mu.Lock()
		if sess.err == nil {
			if err := sess.enc.WriteFrame(f); err != nil {
				sess.err = err
				r.log.WithError(err).Error("recording encoder failed")
			} else {
				sess.frames++
			}
		}
		r.mu.Unlock()
	}
}

// Pause stops writing frames. When it returns no further frame will be captured
// until Resume. Pausing an already paused recorder is rejected.
func (r *Recorder) Pause(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, state)
	}
	r.state = StatePaused
	sess := r.session
	seg := sess.seg
	sess.seg = nil
	r.mu.Unlock()

	seg.cancel()
	select {
	case <-seg.done:
	case <-ctx.Done():
		r.restoreAfterFailedPause(sess)
		return ctx.Err()
	}
	r.log.Info("paused recording conversation")
	return nil
}

// restoreAfterFailedPause puts the session back to recording with a fresh
// segment, so a failed pause leaves the recorder where it was.
func (r *Recorder) restoreAfterFailedPause(sess *captureSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != sess || r.state != StatePaused {
		return
	}
	r.state = StateRecording
	r.startSegmentLocked(sess)
	r.log.Warn("pause did not settle; recording continues")
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, r.state)
	}
	r.state = StateRecording
	r.startSegmentLocked(r.session)
	r.log.Info("resumed recording conversation")
	return nil
}

// Stop finalizes the session and returns its recording. With no session it
// returns (nil, nil). The recorder is uninitialized afterwards either way.
func (r *Recorder) Stop(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	sess := r.session
	if sess == nil {
		r.mu.Unlock()
		return nil, nil
	}
	seg := sess.seg
	sess.seg = nil
	r.session = nil
	r.state = StateUninitialized
	r.mu.Unlock()

	if seg != nil {
		seg.cancel()
		select {
		case <-seg.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if sess.err != nil {
		r.log.WithError(sess.err).Error("error stopping recording")
		return nil, fmt.Errorf("encode recording: %w", sess.err)
	}
	data, err := sess.enc.Finish()
	if err != nil {
		r.log.WithError(err).Error("error stopping recording")
		return nil, fmt.Errorf("finish recording: %w", err)
	}
	return &Recording{
		Data:        data,
		ContentType: sess.enc.ContentType(),
		Duration:    time.Duration(sess.frames) * media.FrameDuration,
	}, nil
}

// Initialized reports whether a recording session exists.
func (r *Recorder) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
