package interview

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Record
	sessions map[string]Session
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string]Record),
		sessions: make(map[string]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Save(_ context.Context, r Record) ([]Record, error) {
	r, err := normalize(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.records[r.ID]
	if !ok {
		r.CreatedAt = now
		r.UpdatedAt = now
		s.records[r.ID] = clone(r)
		return []Record{clone(r)}, nil
	}
	if cur.UserID != r.UserID {
		return nil, ErrForbidden
	}
	if r.SessionID != "" {
		cur.SessionID = r.SessionID
	}
	if r.CustomerProfile != nil {
		cur.CustomerProfile = r.CustomerProfile
	}
	if r.Objectives != nil {
		cur.Objectives = r.Objectives
	}
	if r.Entries != nil {
		cur.Entries = r.Entries
	}
	if r.RecordingURL != nil {
		cur.RecordingURL = r.RecordingURL
	}
	if r.Evaluation != nil {
		cur.Evaluation = r.Evaluation
	}
	cur.UpdatedAt = now
	s.records[r.ID] = clone(cur)
	return []Record{clone(cur)}, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(r), nil
}

// ListByUser returns the user's records, newest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	if err := ValidateSession(sess); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	sess.Objectives = CleanObjectives(sess.Objectives)
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess.Objectives = append([]string(nil), sess.Objectives...)
	return sess, nil
}

func (s *InMemoryStore) Close() error { return nil }

func clone(r Record) Record {
	if r.Objectives != nil {
		r.Objectives = append([]string(nil), r.Objectives...)
	}
	if r.Entries != nil {
		r.Entries = append(r.Entries[:0:0], r.Entries...)
	}
	if r.Evaluation != nil {
		ev := *r.Evaluation
		r.Evaluation = &ev
	}
	return r
}
