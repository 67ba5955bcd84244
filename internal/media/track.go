package media

import (
	"sync"

	"github.com/google/uuid"
)

// Track is a live source of frames that any number of consumers can subscribe to.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Subscribe returns a frame channel and a cancel func. The channel is
	// closed when the track ends or the subscription is cancelled.
	Subscribe(buffer int) (<-chan Frame, func())
}

// BroadcastTrack fans frames out to subscribers without ever blocking the
// producer: a subscriber whose buffer is full misses that frame.
type BroadcastTrack struct {
	id   string
	kind Kind

	mu      sync.Mutex
	enabled bool
	closed  bool
	nextSub int
	subs    map[int]chan Frame
}

func NewBroadcastTrack(kind Kind) *BroadcastTrack {
	return NewBroadcastTrackWithID(uuid.NewString(), kind)
}

func NewBroadcastTrackWithID(id string, kind Kind) *BroadcastTrack {
	return &BroadcastTrack{
		id:      id,
		kind:    kind,
		enabled: true,
		subs:    make(map[int]chan Frame),
	}
}

func (t *BroadcastTrack) ID() string { return t.id }

func (t *BroadcastTrack) Kind() Kind { return t.kind }

func (t *BroadcastTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *BroadcastTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *BroadcastTrack) Subscribe(buffer int) (<-chan Frame, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Frame, buffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers f to every subscriber. Disabled tracks deliver silence.
func (t *BroadcastTrack) Publish(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if !t.enabled {
		f = f.silenced()
	}
	for _, ch := range t.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (t *BroadcastTrack) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends the track. Safe to call more than once.
func (t *BroadcastTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *BroadcastTrack) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
