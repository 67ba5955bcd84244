package transcript

import (
	"errors"
	"sync"
	"time"
)

var ErrFrozen = errors.New("transcript is frozen")

// Transcript is an append-only entry list. Once frozen it never changes.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	frozen  bool
	now     func() time.Time
}

func New() *Transcript {
	return &Transcript{now: time.Now}
}

// NewWithClock is New with an injectable processing clock.
func NewWithClock(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{now: now}
}

// Apply runs ev through the rule list and appends the results. It returns the
// entries that were appended.
func (t *Transcript) Apply(ev Event) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return nil, ErrFrozen
	}
	before := len(t.entries)
	t.entries = Process(ev, t.entries, t.now())
	added := make([]Entry, len(t.entries)-before)
	copy(added, t.entries[before:])
	return added, nil
}

// Freeze makes the transcript immutable and returns the final snapshot.
func (t *Transcript) Freeze() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

func (t *Transcript) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
