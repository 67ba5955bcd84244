// Package interview persists practice sessions and interview records.
package interview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/interviewsim/internal/transcript"
)

var (
	ErrUnauthenticated = errors.New("interview: authenticated user required")
	ErrForbidden       = errors.New("interview: record belongs to another user")
	ErrNotFound        = errors.New("interview: not found")
	ErrInvalid         = errors.New("interview: invalid record")
)

// Evaluation is the asynchronous written feedback for one interview.
type Evaluation struct {
	GeneralAnalysis *string   `json:"generalAnalysis"`
	RubricAnalysis  *string   `json:"rubricAnalysis"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// Record is an interview keyed by ID. On Save, nil fields leave the stored
// value unchanged, which lets callers write partial updates.
type Record struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	SessionID       string             `json:"session_id"`
	CustomerProfile *string            `json:"customer_profile,omitempty"`
	Objectives      []string           `json:"objectives,omitempty"`
	Entries         []transcript.Entry `json:"entries,omitempty"`
	RecordingURL    *string            `json:"recording_blob_url,omitempty"`
	Evaluation      *Evaluation        `json:"evaluation,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Session is a practice interview created at onboarding.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	CustomerProfile string    `json:"customer_profile"`
	Objectives      []string  `json:"objectives"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists interview records and practice sessions.
type Store interface {
	// Save upserts r and returns the stored rows.
	Save(ctx context.Context, r Record) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)

	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)

	Close() error
}

// normalize checks ownership and fills the key. The interview id defaults to
// the session id.
func normalize(r Record) (Record, error) {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return r, ErrUnauthenticated
	}
	if r.ID == "" {
		r.ID = r.SessionID
	}
	if r.ID == "" {
		return r, ErrInvalid
	}
	return r, nil
}

// ValidateSession checks onboarding input.
func ValidateSession(s Session) error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(s.CustomerProfile) == "" {
		return errors.Join(ErrInvalid, errors.New("customer profile is required"))
	}
	if !HasObjective(s.Objectives) {
		return errors.Join(ErrInvalid, errors.New("at least one objective is required"))
	}
	return nil
}

// HasObjective reports whether any objective is non-blank.
func HasObjective(objectives []string) bool {
	for _, o := range objectives {
		if strings.TrimSpace(o) != "" {
			return true
		}
	}
	return false
}

// CleanObjectives drops blank objectives and trims the rest.
func CleanObjectives(objectives []string) []string {
	out := make([]string, 0, len(objectives))
	for _, o := range objectives {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func StringPtr(s string) *string { return &s }
