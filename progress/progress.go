package progress

import (
	"sync"
	"time"
)

// Delta is an incremental counter change. Fields are signed so that a task
// moving between states is a single Delta.
type Delta struct {
	Created    int
	Live       int
	Zombie     int
	Exited     int
	Reaped     int
	Dispatches int
}

// Progress holds the counters of a kernel instance. It is safe for
// concurrent use.
type Progress struct {
	BootID    string
	StartedAt time.Time

	CreatedTasks int
	// LiveTasks counts tasks that have not exited.
	LiveTasks int
	// ZombieTasks counts exited tasks not yet collected.
	ZombieTasks int
	ExitedTasks int
	ReapedTasks int
	Dispatches  int

	sync.Mutex
	onChange func(Progress)
}

// New creates a tracker for the kernel identified by bootID.
func New(bootID string) *Progress {
	return &Progress{BootID: bootID, StartedAt: time.Now()}
}

// Update applies d. The OnChange callback runs outside the lock with a copy
// of the updated counters.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}
	p.Lock()
	p.CreatedTasks += d.Created
	p.LiveTasks += d.Live
	p.ZombieTasks += d.Zombie
	p.ExitedTasks += d.Exited
	p.ReapedTasks += d.Reaped
	p.Dispatches += d.Dispatches
	snapshot := p.copyLocked()
	cb := p.onChange
	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copyLocked()
}

// OnChange registers a callback invoked after every Update; nil disables it.
// The callback must not switch tasks.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

func (p *Progress) copyLocked() Progress {
	return Progress{
		BootID:       p.BootID,
		StartedAt:    p.StartedAt,
		CreatedTasks: p.CreatedTasks,
		LiveTasks:    p.LiveTasks,
		ZombieTasks:  p.ZombieTasks,
		ExitedTasks:  p.ExitedTasks,
		ReapedTasks:  p.ReapedTasks,
		Dispatches:   p.Dispatches,
	}
}
