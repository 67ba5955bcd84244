package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerAttachGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	var cancelled atomic.Bool
	s, err := m.Attach("s1", "u1", func() { cancelled.Store(true) })
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if s.ConnectionID == "" {
		t.Fatalf("connection ID should not be empty")
	}

	got, err := m.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive || got.State != "idle" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End("s1", s.ConnectionID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if !cancelled.Load() {
		t.Fatalf("End() should cancel the connection")
	}
}

func TestManagerRejectsSecondLiveConnection(t *testing.T) {
	m := NewManager(time.Minute)
	first, err := m.Attach("s1", "u1", nil)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := m.Attach("s1", "u1", nil); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Attach() error = %v, want ErrAlreadyActive", err)
	}
	if _, err := m.End("s1", "other-connection"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End() by a stale connection error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("s1", first.ConnectionID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.Attach("s1", "u1", nil); err != nil {
		t.Fatalf("Attach() after end error = %v", err)
	}
}

func TestManagerSetStateTouches(t *testing.T) {
	m := NewManager(time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	if _, err := m.Attach("s1", "u1", nil); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	m.now = func() time.Time { return base.Add(time.Second) }
	if err := m.SetState("s1", "active"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	got, _ := m.Get("s1")
	if got.State != "active" || !got.LastActivityAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := m.SetState("missing", "active"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetState() on missing error = %v", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var cancelled atomic.Bool
	expired := make(chan Session, 1)
	m.SetExpireHook(func(s Session) { expired <- s })
	if _, err := m.Attach("s1", "u1", func() { cancelled.Store(true) }); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case s := <-expired:
		if s.ID != "s1" || s.Status != StatusEnded {
			t.Fatalf("expired session = %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("session was not expired")
	}
	if !cancelled.Load() {
		t.Fatalf("expiry should cancel the connection")
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
