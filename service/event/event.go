package event

import (
	"time"

	"github.com/viant/ktask/internal/clock"
)

// Type names a lifecycle transition.
type Type string

// Lifecycle event types.
const (
	TypeCreated    Type = "created"
	TypeForked     Type = "forked"
	TypeSpawned    Type = "spawned"
	TypeExec       Type = "exec"
	TypeDispatched Type = "dispatched"
	TypeSuspended  Type = "suspended"
	TypeExited     Type = "exited"
	TypeAdopted    Type = "adopted"
	TypeReaped     Type = "reaped"
	TypePriority   Type = "priority"
)

// NoParent is used as Context.Parent for tasks without a parent.
const NoParent = -1

// Context identifies the task an event is about.
type Context struct {
	BootID    string `json:"bootID"`
	Pid       int    `json:"pid"`
	Parent    int    `json:"parent"`
	EventType Type   `json:"eventType"`
}

// Lifecycle is the payload of task lifecycle events.
type Lifecycle struct {
	Name     string `json:"name,omitempty"`
	ExitCode int32  `json:"exitCode"`
	Stride   uint64 `json:"stride"`
	Priority uint64 `json:"priority,omitempty"`
	Children []int  `json:"children,omitempty"`
}

// Event is a published notification.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event for context.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
