package ready

import (
	"container/heap"
	"fmt"

	"github.com/viant/ktask/internal/cell"
	"github.com/viant/ktask/task"
)

// BigStride is the stride budget divided among priorities.
const BigStride uint64 = 0xFFFFFFFF

// Config represents ready set configuration
type Config struct {
	// BigStride is divided by a task's priority on every dispatch.
	BigStride uint64 `json:"bigStride" yaml:"bigStride"`
}

// DefaultConfig returns the default ready set configuration
func DefaultConfig() Config {
	return Config{BigStride: BigStride}
}

type state struct {
	queue queue
	seq   uint64
}

// Service is the stride ready set.
type Service struct {
	config Config
	state  *cell.Exclusive[state]
}

// Option configures the ready set.
type Option func(*Service)

// WithConfig sets the configuration
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// New creates an empty ready set.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig(), state: cell.New("ready set", state{})}
	for _, opt := range options {
		opt(s)
	}
	if s.config.BigStride == 0 {
		return nil, fmt.Errorf("bigStride must be > 0")
	}
	return s, nil
}

// Add makes t eligible for dispatch. The caller must not hold t's borrow.
func (s *Service) Add(t *task.ControlBlock) {
	stride := t.Stride()
	st, release := s.state.Borrow()
	defer release()
	st.seq++
	heap.Push(&st.queue, &entry{stride: stride, seq: st.seq, task: t})
}

// Fetch removes the task with the smallest stride and charges it one
// dispatch. It reports false when the set is empty.
func (s *Service) Fetch() (*task.ControlBlock, bool) {
	st, release := s.state.Borrow()
	if st.queue.Len() == 0 {
		release()
		return nil, false
	}
	item := heap.Pop(&st.queue).(*entry)
	release()
	item.task.AdvanceStride(s.config.BigStride)
	return item.task, true
}

// Len returns the number of ready tasks.
func (s *Service) Len() int {
	st, release := s.state.Borrow()
	defer release()
	return st.queue.Len()
}

// Strides returns pid to stride for every ready task.
func (s *Service) Strides() map[int]uint64 {
	st, release := s.state.Borrow()
	defer release()
	ret := make(map[int]uint64, st.queue.Len())
	for _, item := range st.queue {
		ret[item.task.Pid()] = item.stride
	}
	return ret
}

// BigStride returns the configured stride budget.
func (s *Service) BigStride() uint64 { return s.config.BigStride }
