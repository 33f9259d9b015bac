package processor

import (
	"context"
	"fmt"
	goruntime "runtime"
	"time"

	"github.com/viant/ktask/cpu"
	"github.com/viant/ktask/internal/cell"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/service/ready"
	"github.com/viant/ktask/task"
)

// Config represents processor configuration
type Config struct {
	// IdleBackoff is slept between polls of an empty ready set; zero only
	// yields the goroutine.
	IdleBackoff time.Duration `json:"idleBackoff" yaml:"idleBackoff"`
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{}
}

// Listener observes every dispatch.
type Listener func(t *task.ControlBlock)

type slot struct {
	current *task.ControlBlock
	idle    *cpu.Context
}

// Service is the processor.
type Service struct {
	config    Config
	ready     *ready.Service
	slot      *cell.Exclusive[slot]
	listeners []Listener
}

// New creates the processor.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		slot:   cell.New("processor", slot{idle: cpu.ZeroInit()}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.ready == nil {
		return nil, fmt.Errorf("ready set is required")
	}
	return s, nil
}

// TakeCurrent removes and returns the running task, nil if none.
func (s *Service) TakeCurrent() *task.ControlBlock {
	st, release := s.slot.Borrow()
	defer release()
	ret := st.current
	st.current = nil
	return ret
}

// Current returns the running task without removing it, nil if none.
func (s *Service) Current() *task.ControlBlock {
	st, release := s.slot.Borrow()
	defer release()
	return st.current
}

// Schedule saves the caller into switched and resumes the idle loop.
func (s *Service) Schedule(switched *cpu.Context) {
	st, release := s.slot.Borrow()
	idle := st.idle
	release()
	cpu.Switch(switched, idle)
}

// Run dispatches ready tasks until ctx is done. With nothing to run it keeps
// polling the ready set.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.runNext() {
			continue
		}
		if s.config.IdleBackoff > 0 {
			time.Sleep(s.config.IdleBackoff)
		} else {
			goruntime.Gosched()
		}
	}
}

// RunUntilIdle dispatches ready tasks until the ready set is empty or ctx is
// done.
func (s *Service) RunUntilIdle(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !s.runNext() {
			return nil
		}
	}
}

// runNext dispatches one task and returns once it gives the processor back.
func (s *Service) runNext() bool {
	next, ok := s.ready.Fetch()
	if !ok {
		return false
	}
	inner, release := next.Borrow()
	inner.SetStatus(task.StatusRunning)
	if inner.StartTime == 0 {
		inner.StartTime = clock.Micros()
	}
	target := inner.Context
	release()

	st, releaseSlot := s.slot.Borrow()
	st.current = next
	idle := st.idle
	releaseSlot()

	for _, listener := range s.listeners {
		listener(next)
	}
	cpu.Switch(idle, target)
	return true
}
