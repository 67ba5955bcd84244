package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ent0n29/interviewsim/internal/analysis"
	"github.com/ent0n29/interviewsim/internal/interview"
	"github.com/ent0n29/interviewsim/internal/profile"
	"github.com/ent0n29/interviewsim/internal/recorder"
	"github.com/ent0n29/interviewsim/internal/transcript"
)

var errSkipped = errors.New("skipped")

func recordFor(sessionID, userID string) interview.Record {
	return interview.Record{ID: sessionID, UserID: userID, SessionID: sessionID}
}

// launchBackground starts the upload and analysis tasks. They are detached
// from ctx cancellation and bounded by BackgroundTimeout each.
func (o *Orchestrator) launchBackground(ctx context.Context, fin *Finalization, rec *recorder.Recording, entries []transcript.Entry, p profile.Profile) {
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.runTask(base, fin, TaskUpload, func(ctx context.Context) (string, error) {
			return o.uploadRecording(ctx, rec)
		})
	}()
	go func() {
		defer wg.Done()
		o.runTask(base, fin, TaskAnalysis, func(ctx context.Context) (string, error) {
			return o.analyze(ctx, entries, p)
		})
	}()
	go func() {
		wg.Wait()
		close(fin.done)
		o.log.Info("finalization background tasks settled")
		o.emit(Event{Kind: EventFinalized, Tasks: fin.Results()})
	}()
}

func (o *Orchestrator) runTask(base context.Context, fin *Finalization, name TaskName, fn func(context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(base, o.cfg.BackgroundTimeout)
	defer cancel()

	res := TaskResult{Name: name}
	detail, err := func() (detail string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()
	switch {
	case errors.Is(err, errSkipped):
		res.Status = TaskSkipped
		res.Detail = detail
		o.log.WithField("task", name).WithField("reason", detail).Warn("background task skipped")
	case err != nil:
		res.Status = TaskFailed
		res.Err = err
		res.Detail = err.Error()
		o.log.WithError(err).WithField("task", name).Error("background task failed")
	default:
		res.Status = TaskSucceeded
		res.Detail = detail
	}
	fin.set(res)
	o.metrics.CountTask(string(name), string(res.Status))
	o.emit(Event{Kind: EventTaskStatus, Task: res})
}

func (o *Orchestrator) uploadRecording(ctx context.Context, rec *recorder.Recording) (string, error) {
	if o.cfg.Uploader == nil {
		return "no uploader configured", errSkipped
	}
	url, err := o.cfg.Uploader.Upload(ctx, rec.Data, rec.ContentType, o.cfg.SessionID)
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	r := recordFor(o.cfg.SessionID, o.cfg.UserID)
	r.RecordingURL = &url
	if _, err := o.cfg.Store.Save(ctx, r); err != nil {
		return "", fmt.Errorf("save recording url: %w", err)
	}
	return url, nil
}

func (o *Orchestrator) analyze(ctx context.Context, entries []transcript.Entry, p profile.Profile) (string, error) {
	if o.cfg.Analyzer == nil {
		return "no analyzer configured", errSkipped
	}
	req := analysis.Request{
		Entries:         entries,
		SessionID:       o.cfg.SessionID,
		CustomerProfile: p.CustomerProfile,
		Objectives:      p.Objectives,
	}
	if err := analysis.Validate(req); err != nil {
		return err.Error(), errSkipped
	}
	ev, err := o.cfg.Analyzer.Analyze(ctx, req)
	if err != nil {
		return "", fmt.Errorf("analyze transcript: %w", err)
	}
	r := recordFor(o.cfg.SessionID, o.cfg.UserID)
	r.Evaluation = &ev
	if _, err := o.cfg.Store.Save(ctx, r); err != nil {
		return "", fmt.Errorf("save evaluation: %w", err)
	}
	return "evaluation saved", nil
}
