// Package analysis produces the written evaluation of an interview transcript.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/logging"
	"github.com/ent0n29/interviewsim/internal/transcript"
)

var (
	ErrEmptyTranscript = errors.New("analysis: transcript is empty")
	ErrMissingProfile  = errors.New("analysis: customer profile and objectives are required")
)

// Provider completes one system + user prompt pair.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

type Request struct {
	Entries         []transcript.Entry `json:"transcript"`
	SessionID       string             `json:"sessionId"`
	CustomerProfile string             `json:"customer_profile"`
	Objectives      []string           `json:"learningObjectives"`
}

// Service runs the general and rubric analyses against one provider.
type Service struct {
	provider Provider
	log      *logrus.Entry
	now      func() time.Time
}

func NewService(provider Provider, log *logrus.Entry) *Service {
	if log == nil {
		log = logging.Component(nil, "analysis")
	}
	return &Service{provider: provider, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Validate reports why a request cannot be analyzed, if it cannot.
func Validate(req Request) error {
	if len(req.Entries) == 0 {
		return ErrEmptyTranscript
	}
	if strings.TrimSpace(req.CustomerProfile) == "" || !interview.HasObjective(req.Objectives) {
		return ErrMissingProfile
	}
	return nil
}

// Analyze runs both analyses concurrently. A half that fails is left nil; an
// error is returned only when both fail.
func (s *Service) Analyze(ctx context.Context, req Request) (interview.Evaluation, error) {
	if err := Validate(req); err != nil {
		return interview.Evaluation{}, err
	}
	formatted := FormatTranscript(req.Entries)
	log := s.log.WithFields(logrus.Fields{"session_id": req.SessionID, "provider": s.provider.Name()})

	var (
		wg                 sync.WaitGroup
		general, rubric    string
		generalErr, rubErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		general, generalErr = s.provider.Complete(ctx, GeneralSystemPrompt, formatted)
	}()
	go func() {
		defer wg.Done()
		rubric, rubErr = s.provider.Complete(ctx, RubricSystemPrompt(req.CustomerProfile, req.Objectives), formatted)
	}()
	wg.Wait()

	ev := interview.Evaluation{EvaluatedAt: s.now()}
	if generalErr != nil {
		log.WithError(generalErr).Warn("general analysis failed")
	} else if g := strings.TrimSpace(general); g != "" {
		ev.GeneralAnalysis = &g
	}
	if rubErr != nil {
		log.WithError(rubErr).Warn("rubric analysis failed")
	} else if r := strings.TrimSpace(rubric); r != "" {
		ev.RubricAnalysis = &r
	}
	if generalErr != nil && rubErr != nil {
		return interview.Evaluation{}, fmt.Errorf("analyze transcript: %w", errors.Join(generalErr, rubErr))
	}
	log.Info("transcript analyzed")
	return ev, nil
}

// FormatTranscript renders entries as "role: content" lines.
func FormatTranscript(entries []transcript.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, e.Content))
	}
	return strings.Join(lines, "\n")
}
