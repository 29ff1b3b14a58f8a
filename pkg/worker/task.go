package worker

import (
	"context"
)

// Task is a unit of work executed by a Pool.
type Task interface {
	// Execute performs the work. It should respect context cancellation.
	Execute(ctx context.Context) error

	// Name is used for logging.
	Name() string
}

// FuncTask wraps a function as a Task.
type FuncTask struct {
	name      string
	fn        func(ctx context.Context) error
	onFailure func(err error)
}

// NewFuncTask creates a task from a function.
func NewFuncTask(name string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{name: name, fn: fn}
}

// WithOnFailure sets a hook invoked when Execute returns an error.
func (t *FuncTask) WithOnFailure(fn func(err error)) *FuncTask {
	t.onFailure = fn
	return t
}

// Execute runs the wrapped function.
func (t *FuncTask) Execute(ctx context.Context) error {
	err := t.fn(ctx)
	if err != nil && t.onFailure != nil {
		t.onFailure(err)
	}
	return err
}

// Name returns the task name.
func (t *FuncTask) Name() string {
	return t.name
}
