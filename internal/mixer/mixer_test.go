package mixer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/interviewsim/internal/media"
)

func newTestMixer(t *testing.T) (*Mixer, chan time.Time, <-chan media.Frame) {
	t.Helper()
	tick := make(chan time.Time)
	m := New(WithTicker(tick))
	t.Cleanup(m.Destroy)
	out := m.MergedStream().AudioTracks()[0]
	frames, cancel := out.Subscribe(8)
	t.Cleanup(cancel)
	return m, tick, frames
}

func nextFrame(t *testing.T, tick chan time.Time, frames <-chan media.Frame) media.Frame {
	t.Helper()
	tick <- time.Now()
	select {
	case f := <-frames:
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for mixed frame")
	}
	return media.Frame{}
}

func monoFrame(v int16) media.Frame {
	f := media.Silence(1)
	for i := range f.Samples {
		f.Samples[i] = v
	}
	return f
}

func TestMergedStreamIdentityIsStable(t *testing.T) {
	m := New(WithTicker(make(chan time.Time)))
	s := m.MergedStream()

	a := media.NewBroadcastTrack(media.KindAudio)
	if err := m.AddTrack(a); err != nil {
		t.Fatalf("AddTrack() error = %v", err)
	}
	if m.MergedStream() != s {
		t.Fatalf("stream changed after AddTrack")
	}
	m.Reset()
	if m.MergedStream() != s {
		t.Fatalf("stream changed after Reset")
	}
	if err := m.AddTrack(media.NewBroadcastTrack(media.KindAudio)); err != nil {
		t.Fatalf("AddTrack() after Reset error = %v", err)
	}
	if m.MergedStream().ID() != s.ID() {
		t.Fatalf("stream ID changed")
	}

	m.Destroy()
	m.Destroy()

	if err := m.AddTrack(a); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("AddTrack() after Destroy error = %v, want ErrDestroyed", err)
	}
	if err := m.ConnectLocal(media.NewStream(a)); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("ConnectLocal() after Destroy error = %v, want ErrDestroyed", err)
	}
	out := s.AudioTracks()[0].(*media.BroadcastTrack)
	if !out.Closed() {
		t.Fatalf("output track should be closed after Destroy")
	}
}

func TestMixerEmitsSilenceWithoutInputs(t *testing.T) {
	_, tick, frames := newTestMixer(t)
	f := nextFrame(t, tick, frames)
	if f.Channels != 2 || len(f.Samples) != media.FrameSamples*2 {
		t.Fatalf("frame shape = %d ch, %d samples", f.Channels, len(f.Samples))
	}
	for _, s := range f.Samples {
		if s != 0 {
			t.Fatalf("expected silence, got %d", s)
		}
	}
}

func TestMixerSumsInputsAndSaturates(t *testing.T) {
	m, tick, frames := newTestMixer(t)
	a := media.NewBroadcastTrack(media.KindAudio)
	b := media.NewBroadcastTrack(media.KindAudio)
	_ = m.AddTrack(a)
	_ = m.AddTrack(b)

	a.Publish(monoFrame(1000))
	b.Publish(monoFrame(234))
	f := nextFrame(t, tick, frames)
	if f.Samples[0] != 1234 || f.Samples[1] != 1234 {
		t.Fatalf("mixed sample = %d/%d, want 1234 on both channels", f.Samples[0], f.Samples[1])
	}

	a.Publish(monoFrame(30000))
	b.Publish(monoFrame(30000))
	f = nextFrame(t, tick, frames)
	if f.Samples[0] != 32767 {
		t.Fatalf("saturated sample = %d, want 32767", f.Samples[0])
	}
}

func TestMixerIgnoresNonAudioAndDuplicates(t *testing.T) {
	m, _, _ := newTestMixer(t)
	a := media.NewBroadcastTrack(media.KindAudio)
	if err := m.AddTrack(media.NewBroadcastTrack(media.KindVideo)); err != nil {
		t.Fatalf("AddTrack(video) error = %v", err)
	}
	_ = m.AddTrack(a)
	_ = m.AddTrack(a)
	if got := len(m.inputIDs()); got != 1 {
		t.Fatalf("Inputs() = %d, want 1", got)
	}
}

func TestMixerResetStopsIncludingTracks(t *testing.T) {
	m, tick, frames := newTestMixer(t)
	a := media.NewBroadcastTrack(media.KindAudio)
	_ = m.AddTrack(a)
	m.Reset()

	a.Publish(monoFrame(500))
	f := nextFrame(t, tick, frames)
	if f.Samples[0] != 0 {
		t.Fatalf("sample after Reset = %d, want 0", f.Samples[0])
	}
	if a.Subscribers() != 0 {
		t.Fatalf("track still has %d subscribers after Reset", a.Subscribers())
	}
}

type fakePeer struct {
	mu        sync.Mutex
	senders   []media.Track
	receivers []media.Track
	handlers  map[int]func(media.Track)
	next      int
}

func (p *fakePeer) Senders() []media.Track   { return p.senders }
func (p *fakePeer) Receivers() []media.Track { return p.receivers }

func (p *fakePeer) OnTrack(fn func(media.Track)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = make(map[int]func(media.Track))
	}
	id := p.next
	p.next++
	p.handlers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

func (p *fakePeer) emit(t media.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fn := range p.handlers {
		fn(t)
	}
}

func (p *fakePeer) listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func TestConnectPeerFollowsLateTracks(t *testing.T) {
	m, _, _ := newTestMixer(t)
	local := media.NewBroadcastTrack(media.KindAudio)
	pc := &fakePeer{senders: []media.Track{local}}

	if err := m.ConnectPeer(pc); err != nil {
		t.Fatalf("ConnectPeer() error = %v", err)
	}
	if got := len(m.inputIDs()); got != 1 {
		t.Fatalf("Inputs() = %d, want 1", got)
	}

	remote := media.NewBroadcastTrack(media.KindAudio)
	pc.emit(remote)
	if got := len(m.inputIDs()); got != 2 {
		t.Fatalf("Inputs() after late track = %d, want 2", got)
	}

	if err := m.ConnectLocal(media.NewStream(local)); err != nil {
		t.Fatalf("ConnectLocal() error = %v", err)
	}
	if pc.listeners() != 0 {
		t.Fatalf("peer listener should be removed on ConnectLocal")
	}
	pc.emit(media.NewBroadcastTrack(media.KindAudio))
	if got := m.inputIDs(); len(got) != 1 || got[0] != local.ID() {
		t.Fatalf("Inputs() = %v, want only local track", got)
	}
}

func TestMixerDropsEndedTracks(t *testing.T) {
	m, tick, frames := newTestMixer(t)
	a := media.NewBroadcastTrack(media.KindAudio)
	_ = m.AddTrack(a)
	a.Close()
	nextFrame(t, tick, frames)
	if got := len(m.inputIDs()); got != 0 {
		t.Fatalf("Inputs() = %d, want ended track dropped", got)
	}
}
