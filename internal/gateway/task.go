package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/luxiaoyu/claw-app/internal/runner"
)

// Result is the outcome of a start or stop attempt.
type Result struct {
	TaskID   string
	Op       Op
	Success  bool
	Canceled bool
	// PID is the daemon PID reported by a successful start.
	PID     int
	Message string
	// Err classifies a failure; nil on success.
	Err error
	// Status is the re-check performed after the script finished.
	Status   Status
	Command  *runner.Result
	Duration time.Duration
}

// Task is an in-flight start or stop. It completes exactly once.
type Task struct {
	id     string
	op     Op
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

func newTask(op Op, cancel context.CancelFunc) *Task {
	return &Task{
		id:     uuid.NewString(),
		op:     op,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (t *Task) ID() string { return t.id }
func (t *Task) Op() Op     { return t.op }

// Done is closed when the result is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel abandons the attempt and kills its script. A daemon that was already
// spawned keeps running.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome if the task has completed.
func (t *Task) Result() (Result, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

func (t *Task) complete(r Result) {
	r.TaskID = t.id
	r.Op = t.op
	t.result = r
	t.cancel()
	close(t.done)
}
