package orchestrator

import (
	"context"
	"sync"
)

// Outcome is the result of a background [Task].
type Outcome struct {
	Result Result
	Err    error
}

// Task is a cancellable background invocation. Its outcome is delivered
// exactly once on a single-slot channel, so the task never blocks on a
// receiver that went away.
type Task struct {
	done   chan Outcome
	cancel context.CancelFunc
	once   sync.Once
}

// Start runs [Orchestrator.Invoke] in the background. Cancel abandons it.
func (o *Orchestrator) Start(ctx context.Context, in Input) *Task {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{done: make(chan Outcome, 1), cancel: cancel}
	go func() {
		defer cancel()
		res, err := o.Invoke(tctx, in)
		t.done <- Outcome{Result: res, Err: err}
	}()
	return t
}

// Done yields the outcome once the task finishes.
func (t *Task) Done() <-chan Outcome { return t.done }

// Cancel abandons the task. It is safe to call more than once and after
// completion.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}
