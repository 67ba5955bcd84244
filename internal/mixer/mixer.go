// Package mixer merges a changing set of live audio tracks into one stereo
// output stream whose identity never changes.
package mixer

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/audio"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/media"
)

var ErrDestroyed = errors.New("mixer destroyed")

const (
	outputChannels      = 2
	defaultBufferFrames = 10
)

// PeerTracks is the read-only view of a peer connection the mixer consumes.
// The mixer never calls connection-level methods.
type PeerTracks interface {
	Senders() []media.Track
	Receivers() []media.Track
	// OnTrack registers fn for tracks that arrive later and returns an unsubscribe func.
	OnTrack(fn func(media.Track)) func()
}

type Option func(*Mixer)

// WithTicker replaces the wall-clock frame ticker.
func WithTicker(tick <-chan time.Time) Option {
	return func(m *Mixer) { m.tick = tick }
}

func WithLogger(log *logrus.Entry) Option {
	return func(m *Mixer) {
		if log != nil {
			m.log = log
		}
	}
}

// WithInputBuffer sets how many frames each input may queue between ticks.
func WithInputBuffer(frames int) Option {
	return func(m *Mixer) {
		if frames > 0 {
			m.bufferFrames = frames
		}
	}
}

type input struct {
	track  media.Track
	frames <-chan media.Frame
	cancel func()
}

type Mixer struct {
	log          *logrus.Entry
	out          *media.BroadcastTrack
	stream       *media.Stream
	bufferFrames int

	tick   <-chan time.Time
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	inputs    []*input
	gen       uint64
	peerUnsub func()
	destroyed bool
}

func New(opts ...Option) *Mixer {
	m := &Mixer{
		log:          logging.Component(nil, "mixer"),
		out:          media.NewBroadcastTrack(media.KindAudio),
		bufferFrames: defaultBufferFrames,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	m.stream = media.NewStream(m.out)
	for _, opt := range opts {
		opt(m)
	}
	if m.tick == nil {
		m.ticker = time.NewTicker(media.FrameDuration)
		m.tick = m.ticker.C
	}
	go m.run()
	return m
}

// MergedStream returns the mixer's output. The same stream is returned for the
// mixer's whole lifetime, so consumers may attach before any input exists.
func (m *Mixer) MergedStream() *media.Stream { return m.stream }

// AddTrack starts mixing t. Non-audio tracks and tracks already present are ignored.
func (m *Mixer) AddTrack(t media.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(t)
}

func (m *Mixer) addLocked(t media.Track) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if t == nil || t.Kind() != media.KindAudio {
		return nil
	}
	for _, in := range m.inputs {
		if in.track.ID() == t.ID() {
			return nil
		}
	}
	frames, cancel := t.Subscribe(m.bufferFrames)
	m.inputs = append(m.inputs, &input{track: t, frames: frames, cancel: cancel})
	m.log.WithField("track_id", t.ID()).Debug("mixer input added")
	return nil
}

// Reset drops every input and any peer subscription. The output keeps running
// and carries silence until new inputs are added.
func (m *Mixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Mixer) resetLocked() {
	m.gen++
	for _, in := range m.inputs {
		in.cancel()
	}
	m.inputs = nil
	if m.peerUnsub != nil {
		m.peerUnsub()
		m.peerUnsub = nil
	}
}

// ConnectPeer mixes every outbound and inbound audio track of pc and keeps
// following tracks that arrive later, until the next Reset.
func (m *Mixer) ConnectPeer(pc PeerTracks) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.resetLocked()
	gen := m.gen
	m.mu.Unlock()

	for _, t := range pc.Senders() {
		_ = m.addIfCurrent(gen, t)
	}
	for _, t := range pc.Receivers() {
		_ = m.addIfCurrent(gen, t)
	}

	// Registered without holding m.mu: the peer may invoke handlers while
	// holding its own locks.
	unsub := pc.OnTrack(func(t media.Track) {
		_ = m.addIfCurrent(gen, t)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.gen != gen {
		unsub()
		return nil
	}
	m.peerUnsub = unsub
	return nil
}

// ConnectLocal mixes only the audio tracks of the local stream.
func (m *Mixer) ConnectLocal(s *media.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	m.resetLocked()
	if s == nil {
		return nil
	}
	for _, t := range s.AudioTracks() {
		if err := m.addLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mixer) addIfCurrent(gen uint64, t media.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	return m.addLocked(t)
}

// inputIDs reports the IDs of the tracks currently mixed.
func (m *Mixer) inputIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inputs))
	for _, in := range m.inputs {
		ids = append(ids, in.track.ID())
	}
	return ids
}

// Destroy stops mixing and permanently closes the output. Safe to call repeatedly.
func (m *Mixer) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.destroyed = true
	close(m.stop)
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
	}
	<-m.done
	m.out.Close()
	m.log.Debug("mixer destroyed")
}

func (m *Mixer) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case _, ok := <-m.tick:
			if !ok {
				return
			}
			m.mixOnce()
		}
	}
}

// mixOnce pulls at most one queued frame from each input and publishes their sum.
func (m *Mixer) mixOnce() {
	acc := make([]int32, media.FrameSamples*outputChannels)

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	live := m.inputs[:0]
	for _, in := range m.inputs {
		select {
		case f, ok := <-in.frames:
			if !ok {
				// Track ended underneath us.
				continue
			}
			f = audio.ToChannels(f, outputChannels)
			for i := 0; i < len(acc) && i < len(f.Samples); i++ {
				acc[i] += int32(f.Samples[i])
			}
		default:
		}
		live = append(live, in)
	}
	for i := len(live); i < len(m.inputs); i++ {
		m.inputs[i] = nil
	}
	m.inputs = live
	m.mu.Unlock()

	out := make([]int16, len(acc))
	for i, v := range acc {
		out[i] = clamp16(v)
	}
	m.out.Publish(media.Frame{Samples: out, Channels: outputChannels})
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
