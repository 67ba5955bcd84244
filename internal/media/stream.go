package media

import (
	"sync"

	"github.com/google/uuid"
)

// Stream groups tracks under a stable identity, like a browser MediaStream.
type Stream struct {
	id string

	mu      sync.RWMutex
	tracks  []Track
	stopped bool
	onStop  []func()
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: append([]Track(nil), tracks...)}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// OnStop registers cleanup run once when the stream is stopped.
func (s *Stream) OnStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = append(s.onStop, fn)
}

// Stop ends every track that can be stopped. Only the component that acquired
// the stream should call it.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tracks := append([]Track(nil), s.tracks...)
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	for _, t := range tracks {
		if c, ok := t.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func (s *Stream) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}
