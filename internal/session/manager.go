package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyActive = errors.New("session already has a live conversation")
)

// Session is one live conversation connection.
type Session struct {
	ID             string    `json:"session_id"`
	ConnectionID   string    `json:"connection_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	sess   Session
	cancel context.CancelFunc
}

// Manager allows one live conversation per session id and expires idle ones.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Attach registers a live connection. cancel is invoked when the connection
// expires or is ended through the manager.
func (m *Manager) Attach(sessionID, userID string, cancel context.CancelFunc) (Session, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok && e.sess.Status == StatusActive {
		return Session{}, ErrAlreadyActive
	}
	e := &entry{
		sess: Session{
			ID:             sessionID,
			ConnectionID:   uuid.NewString(),
			UserID:         userID,
			Status:         StatusActive,
			State:          "idle",
			StartedAt:      now,
			LastActivityAt: now,
		},
		cancel: cancel,
	}
	m.sessions[sessionID] = e
	return e.sess, nil
}

func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.sess, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.sess.LastActivityAt = m.now()
	return nil
}

// SetState records the conversation state for status endpoints.
func (m *Manager) SetState(sessionID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.sess.State = state
	e.sess.LastActivityAt = m.now()
	return nil
}

// End marks the session ended and cancels its connection. Only the connection
// that attached it may end it.
func (m *Manager) End(sessionID, connectionID string) (Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok || (connectionID != "" && e.sess.ConnectionID != connectionID) {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	e.sess.Status = StatusEnded
	e.sess.LastActivityAt = m.now()
	out, cancel := e.sess, e.cancel
	e.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.sessions {
		if e.sess.Status == StatusActive {
			count++
		}
	}
	return count
}

// List returns a copy of every tracked session.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.sess)
	}
	return out
}

func (m *Manager) expireInactive() {
	now := m.now()
	var (
		expired []Session
		cancels []context.CancelFunc
	)

	m.mu.Lock()
	for id, e := range m.sessions {
		if e.sess.Status != StatusActive {
			// Ended sessions linger for one sweep so status lookups still resolve.
			if now.Sub(e.sess.LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(e.sess.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		e.sess.Status = StatusEnded
		e.sess.LastActivityAt = now
		expired = append(expired, e.sess)
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
			e.cancel = nil
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}
