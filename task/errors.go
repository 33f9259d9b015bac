package task

import "errors"

var (
	// ErrNoChild is returned by ReapChild when no child matches the pid.
	ErrNoChild = errors.New("task: no such child")

	// ErrNotExited is returned by ReapChild when matching children are
	// still alive.
	ErrNotExited = errors.New("task: child has not exited")
)
