package task

import "fmt"

// Status is the lifecycle state of a task.
type Status uint32

const (
	// StatusUnInit is the state before construction completes.
	StatusUnInit Status = iota
	// StatusReady means the task waits in the ready set.
	StatusReady
	// StatusRunning means the task owns the processor.
	StatusRunning
	// StatusZombie means the task exited and waits to be collected.
	StatusZombie
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnInit:
		return "uninit"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

var transitions = map[Status][]Status{
	StatusUnInit:  {StatusReady},
	StatusReady:   {StatusRunning},
	StatusRunning: {StatusReady, StatusZombie},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SetStatus moves the task to next; an illegal transition panics.
func (i *Inner) SetStatus(next Status) {
	if !i.Status.CanTransition(next) {
		panic(fmt.Sprintf("task: illegal status transition %v -> %v", i.Status, next))
	}
	i.Status = next
}
