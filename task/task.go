// Package task holds the process control block and the operations that
// create, replace, clone and collect processes.
package task

import (
	"fmt"

	"github.com/viant/ktask/abi"
	"github.com/viant/ktask/cpu"
	"github.com/viant/ktask/internal/cell"
	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/pid"
	"github.com/viant/ktask/trap"
)

// Scheduling defaults.
const (
	// DefaultPriority is the weight of a freshly created task.
	DefaultPriority uint64 = 16
	// MinPriority is the smallest weight accepted from user space.
	MinPriority uint64 = 2
	// PassInit is the stride of a freshly created task.
	PassInit uint64 = 0
)

// Env carries the collaborators every task is built against.
type Env struct {
	Memory mm.Memory
	Pids   *pid.Allocator
	// TrapReturn is started on the first switch into a new task.
	TrapReturn func()
	// TrapHandler is recorded in every initial trap frame.
	TrapHandler uint64
	// Priority overrides DefaultPriority when non zero.
	Priority uint64
}

func (e *Env) priority() uint64 {
	if e.Priority == 0 {
		return DefaultPriority
	}
	return e.Priority
}

// Inner is the mutable state of a task, reachable only through Borrow.
type Inner struct {
	TrapFramePPN mm.PhysPageNum
	BaseSize     uint64
	Context      *cpu.Context
	Status       Status
	Space        mm.AddressSpace
	// Parent does not own the parent; it is rewritten when the parent exits.
	Parent   *ControlBlock
	Children []*ControlBlock
	ExitCode int32
	// SyscallTimes counts invocations per syscall id.
	SyscallTimes map[uint64]uint32
	// StartTime is the first dispatch in microseconds, 0 if never run.
	StartTime uint64
	Priority  uint64
	Pass      uint64
	Stride    uint64
}

// Token returns the token of the task's address space.
func (i *Inner) Token() uint64 { return i.Space.Token() }

// IsZombie reports whether the task exited.
func (i *Inner) IsZombie() bool { return i.Status == StatusZombie }

// ControlBlock is a process: immutable identity plus guarded inner state.
type ControlBlock struct {
	pid         pid.Handle
	kernelStack pid.KernelStack
	env         *Env
	inner       *cell.Exclusive[Inner]
}

// Pid returns the process identifier.
func (t *ControlBlock) Pid() int { return t.pid.Value() }

// KernelStack returns the task's kernel stack.
func (t *ControlBlock) KernelStack() pid.KernelStack { return t.kernelStack }

// Borrow grants exclusive access to the inner state. The release function
// must be called before any context switch.
func (t *ControlBlock) Borrow() (*Inner, func()) {
	return t.inner.Borrow()
}

// With runs fn with the inner state borrowed.
func (t *ControlBlock) With(fn func(inner *Inner)) {
	t.inner.With(fn)
}

// New builds a task from image: fresh address space, pid, kernel stack and
// a context that first resumes in the trap-return path.
func New(env *Env, image []byte) (*ControlBlock, error) {
	space, layout, err := env.Memory.FromImage(image)
	if err != nil {
		return nil, fmt.Errorf("failed to build address space: %w", err)
	}
	ppn, err := mm.TrapFramePPN(space)
	if err != nil {
		space.RecycleDataPages()
		return nil, err
	}
	ret := newControlBlock(env, space, ppn, layout.UserSP)
	ret.With(func(inner *Inner) {
		inner.Priority = env.priority()
		inner.SetStatus(StatusReady)
	})
	*env.Memory.TrapFrame(ppn) = trap.AppInitContext(layout.Entry, layout.UserSP, env.Memory.KernelToken(), ret.kernelStack.Top(), env.TrapHandler)
	return ret, nil
}

func newControlBlock(env *Env, space mm.AddressSpace, ppn mm.PhysPageNum, baseSize uint64) *ControlBlock {
	handle := env.Pids.Alloc()
	kernelStack := pid.NewKernelStack(handle)
	return &ControlBlock{
		pid:         handle,
		kernelStack: kernelStack,
		env:         env,
		inner: cell.New(fmt.Sprintf("task %d", handle.Value()), Inner{
			TrapFramePPN: ppn,
			BaseSize:     baseSize,
			Context:      cpu.GotoTrapReturn(kernelStack.Top(), env.TrapReturn),
			Status:       StatusUnInit,
			Space:        space,
			SyscallTimes: map[uint64]uint32{},
			Stride:       PassInit,
		}),
	}
}

// Exec replaces the address space and trap frame with a fresh image. Pid,
// kernel stack and tree position are kept; the old space is released.
func (t *ControlBlock) Exec(image []byte) error {
	space, layout, err := t.env.Memory.FromImage(image)
	if err != nil {
		return fmt.Errorf("failed to build address space: %w", err)
	}
	ppn, err := mm.TrapFramePPN(space)
	if err != nil {
		space.RecycleDataPages()
		return err
	}
	inner, release := t.Borrow()
	old := inner.Space
	inner.Space = space
	inner.TrapFramePPN = ppn
	inner.BaseSize = layout.UserSP
	release()

	*t.env.Memory.TrapFrame(ppn) = trap.AppInitContext(layout.Entry, layout.UserSP, t.env.Memory.KernelToken(), t.kernelStack.Top(), t.env.TrapHandler)
	old.RecycleDataPages()
	return nil
}

// Fork clones the task. The child gets a copy of the address space and the
// accounting fields and becomes a child of t. Only the kernel stack pointer
// of the cloned trap frame differs from the parent's.
func (t *ControlBlock) Fork() (*ControlBlock, error) {
	parent, release := t.Borrow()
	defer release()
	space, err := t.env.Memory.Duplicate(parent.Space)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate address space: %w", err)
	}
	ppn, err := mm.TrapFramePPN(space)
	if err != nil {
		space.RecycleDataPages()
		return nil, err
	}
	child := newControlBlock(t.env, space, ppn, parent.BaseSize)
	child.With(func(inner *Inner) {
		for id, count := range parent.SyscallTimes {
			inner.SyscallTimes[id] = count
		}
		inner.StartTime = parent.StartTime
		inner.Priority = parent.Priority
		inner.Pass = parent.Pass
		inner.Stride = parent.Stride
		inner.Parent = t
		inner.SetStatus(StatusReady)
	})
	parent.Children = append(parent.Children, child)
	t.env.Memory.TrapFrame(ppn).KernelSP = child.kernelStack.Top()
	return child, nil
}

// Spawn creates a child of t running a fresh image with fresh accounting.
func (t *ControlBlock) Spawn(image []byte) (*ControlBlock, error) {
	child, err := New(t.env, image)
	if err != nil {
		return nil, err
	}
	child.With(func(inner *Inner) { inner.Parent = t })
	t.With(func(inner *Inner) { inner.Children = append(inner.Children, child) })
	return child, nil
}

// Discard undoes a Fork or Spawn whose child never ran: the child is
// unlinked from t, its address space released and its pid freed.
func (t *ControlBlock) Discard(child *ControlBlock) {
	t.With(func(inner *Inner) {
		for i, c := range inner.Children {
			if c == child {
				inner.Children = append(inner.Children[:i], inner.Children[i+1:]...)
				break
			}
		}
	})
	child.With(func(inner *Inner) {
		inner.Parent = nil
		inner.Space.RecycleDataPages()
	})
	t.env.Pids.Dealloc(child.pid)
}

// Exit turns t into a zombie: records code, hands every child over to root
// and releases the address space. It returns the handed-over children.
// When t is root itself its children lose their parent.
func (t *ControlBlock) Exit(code int32, root *ControlBlock) []*ControlBlock {
	inner, release := t.Borrow()
	defer release()
	inner.SetStatus(StatusZombie)
	inner.ExitCode = code
	children := inner.Children
	inner.Children = nil
	if root != nil && root != t {
		rootInner, releaseRoot := root.Borrow()
		for _, child := range children {
			child.With(func(c *Inner) { c.Parent = root })
			rootInner.Children = append(rootInner.Children, child)
		}
		releaseRoot()
	} else {
		for _, child := range children {
			child.With(func(c *Inner) { c.Parent = nil })
		}
	}
	inner.Space.RecycleDataPages()
	return children
}

// ReapChild collects an exited child. pid -1 matches any child. It returns
// the pid and exit code of the collected child, ErrNoChild if nothing
// matches or ErrNotExited if every match is still alive. The child's pid is
// released for reuse.
func (t *ControlBlock) ReapChild(pid int) (int, int32, error) {
	inner, release := t.Borrow()
	defer release()
	matched := false
	for i, child := range inner.Children {
		if pid != -1 && child.Pid() != pid {
			continue
		}
		matched = true
		var zombie bool
		var code int32
		child.With(func(c *Inner) { zombie, code = c.IsZombie(), c.ExitCode })
		if !zombie {
			continue
		}
		inner.Children = append(inner.Children[:i], inner.Children[i+1:]...)
		found := child.Pid()
		t.env.Pids.Dealloc(child.pid)
		return found, code, nil
	}
	if !matched {
		return 0, 0, ErrNoChild
	}
	return 0, 0, ErrNotExited
}

// SetPriority sets the scheduling weight. Range checks belong to the caller.
func (t *ControlBlock) SetPriority(priority uint64) {
	t.With(func(inner *Inner) { inner.Priority = priority })
}

// AdvanceStride charges one dispatch: pass = big / priority, stride += pass.
// It returns the new stride. A zero priority panics.
func (t *ControlBlock) AdvanceStride(big uint64) uint64 {
	inner, release := t.Borrow()
	defer release()
	if inner.Priority == 0 {
		panic(fmt.Sprintf("task: priority 0 on pid %d", t.Pid()))
	}
	inner.Pass = big / inner.Priority
	inner.Stride += inner.Pass
	return inner.Stride
}

// Stride returns the accumulated stride.
func (t *ControlBlock) Stride() uint64 {
	inner, release := t.Borrow()
	defer release()
	return inner.Stride
}

// CountSyscall increments the counter of syscall id.
func (t *ControlBlock) CountSyscall(id uint64) {
	t.With(func(inner *Inner) { inner.SyscallTimes[id]++ })
}

// FillTaskInfo snapshots status, syscall counters and the milliseconds
// elapsed between first dispatch and nowMicros.
func (t *ControlBlock) FillTaskInfo(nowMicros uint64) TaskInfo {
	inner, release := t.Borrow()
	defer release()
	info := TaskInfo{Status: inner.Status}
	for id, count := range inner.SyscallTimes {
		if id < abi.MaxSyscallNum {
			info.SyscallTimes[id] = count
		}
	}
	if inner.StartTime != 0 && nowMicros > inner.StartTime {
		info.Time = (nowMicros - inner.StartTime) / 1000
	}
	return info
}

// TrapFrame returns the trap frame of the current address space.
func (t *ControlBlock) TrapFrame() *trap.Frame {
	inner, release := t.Borrow()
	ppn := inner.TrapFramePPN
	release()
	return t.env.Memory.TrapFrame(ppn)
}

// Token returns the token of the current address space.
func (t *ControlBlock) Token() uint64 {
	inner, release := t.Borrow()
	defer release()
	return inner.Token()
}

// Status returns the lifecycle state.
func (t *ControlBlock) Status() Status {
	inner, release := t.Borrow()
	defer release()
	return inner.Status
}

// IsZombie reports whether t exited.
func (t *ControlBlock) IsZombie() bool { return t.Status() == StatusZombie }

// Parent returns the current parent, nil for the root or an orphan.
func (t *ControlBlock) Parent() *ControlBlock {
	inner, release := t.Borrow()
	defer release()
	return inner.Parent
}

// Children returns a snapshot of the children.
func (t *ControlBlock) Children() []*ControlBlock {
	inner, release := t.Borrow()
	defer release()
	return append([]*ControlBlock(nil), inner.Children...)
}

// ExitCode returns the recorded exit code.
func (t *ControlBlock) ExitCode() int32 {
	inner, release := t.Borrow()
	defer release()
	return inner.ExitCode
}
