package conversation

import (
	"context"
	"sync"
)

type TaskName string

const (
	TaskUpload   TaskName = "upload"
	TaskAnalysis TaskName = "analysis"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskResult is the latest status of one background task.
type TaskResult struct {
	Name   TaskName   `json:"name"`
	Status TaskStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

// Finalization tracks the background tasks launched by Finish. They run to
// completion regardless of the caller.
type Finalization struct {
	mu    sync.Mutex
	tasks map[TaskName]TaskResult
	order []TaskName
	done  chan struct{}
}

func newFinalization(names ...TaskName) *Finalization {
	f := &Finalization{tasks: make(map[TaskName]TaskResult), done: make(chan struct{})}
	for _, n := range names {
		f.tasks[n] = TaskResult{Name: n, Status: TaskPending}
		f.order = append(f.order, n)
	}
	return f
}

func (f *Finalization) set(r TaskResult) {
	f.mu.Lock()
	f.tasks[r.Name] = r
	f.mu.Unlock()
}

func (f *Finalization) Task(name TaskName) TaskResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[name]
}

// Results returns every task in launch order.
func (f *Finalization) Results() []TaskResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TaskResult, 0, len(f.order))
	for _, n := range f.order {
		out = append(out, f.tasks[n])
	}
	return out
}

func (f *Finalization) Done() <-chan struct{} { return f.done }

// Wait blocks until every task settled or ctx ends.
func (f *Finalization) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
