package ktask

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/viant/ktask/cpu"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/loader"
	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/pid"
	"github.com/viant/ktask/progress"
	"github.com/viant/ktask/service/dao/process"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/service/processor"
	"github.com/viant/ktask/service/ready"
	"github.com/viant/ktask/task"
	"github.com/viant/ktask/tracing"
	"github.com/viant/ktask/trap"
)

// Runtime is the process tree and the lifecycle operations on the running
// task. Methods that act on "the current task" must be called from that
// task's flow, i.e. from within the Trampoline.
type Runtime struct {
	config     *Config
	logger     *slog.Logger
	bootID     string
	memory     mm.Memory
	loader     loader.Loader
	pids       *pid.Allocator
	ready      *ready.Service
	processor  *processor.Service
	processes  *process.Service
	events     *event.Service
	progress   *progress.Progress
	trampoline Trampoline
	env        *task.Env

	initMu sync.Mutex
	root   *task.ControlBlock
}

// BootID identifies this kernel instance.
func (r *Runtime) BootID() string { return r.bootID }

// Memory returns the address-space manager.
func (r *Runtime) Memory() mm.Memory { return r.memory }

// Loader returns the application loader.
func (r *Runtime) Loader() loader.Loader { return r.loader }

// Events returns the lifecycle event service, nil when events are disabled.
func (r *Runtime) Events() *event.Service { return r.events }

// Progress returns a snapshot of the task counters.
func (r *Runtime) Progress() progress.Progress { return r.progress.Snapshot() }

// Ready returns the ready set.
func (r *Runtime) Ready() *ready.Service { return r.ready }

// InitProc returns the process tree root, nil before AddInitProc.
func (r *Runtime) InitProc() *task.ControlBlock {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	return r.root
}

// AddInitProc loads the configured init application, makes it the process
// tree root and queues it for dispatch.
func (r *Runtime) AddInitProc(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ktask.AddInitProc", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"app": r.config.InitProc})

	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.root != nil {
		return ErrInitProcRegistered
	}
	image, err := r.loader.Load(ctx, r.config.InitProc)
	if err != nil {
		return fmt.Errorf("failed to load init process: %w", err)
	}
	root, err := task.New(r.env, image)
	if err != nil {
		return fmt.Errorf("failed to create init process: %w", err)
	}
	if err = r.processes.Insert(ctx, root); err != nil {
		return err
	}
	r.root = root
	r.ready.Add(root)
	r.progress.Update(progress.Delta{Created: 1, Live: 1})
	span.WithInt("pid", int64(root.Pid()))
	r.logger.Info("init process registered", "app", r.config.InitProc, "pid", root.Pid())
	r.publish(event.TypeCreated, root, event.Lifecycle{Name: r.config.InitProc})
	return nil
}

// Run dispatches tasks until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	err := r.processor.Run(ctx)
	r.logger.Info("run loop stopped", "error", err)
	return err
}

// RunUntilIdle dispatches tasks until none is ready.
func (r *Runtime) RunUntilIdle(ctx context.Context) error {
	err := r.processor.RunUntilIdle(ctx)
	r.logger.Info("run loop idle", "error", err)
	return err
}

// Current returns the running task, nil when the idle loop runs.
func (r *Runtime) Current() *task.ControlBlock {
	return r.processor.Current()
}

func (r *Runtime) current() *task.ControlBlock {
	ret := r.processor.Current()
	if ret == nil {
		panic("ktask: no current task")
	}
	return ret
}

func (r *Runtime) takeCurrent() *task.ControlBlock {
	ret := r.processor.TakeCurrent()
	if ret == nil {
		panic("ktask: no current task")
	}
	return ret
}

// SuspendCurrentAndRunNext puts the running task back into the ready set
// and returns once it is dispatched again.
func (r *Runtime) SuspendCurrentAndRunNext() {
	current := r.takeCurrent()
	inner, release := current.Borrow()
	inner.SetStatus(task.StatusReady)
	switched := inner.Context
	stride := inner.Stride
	release()

	r.ready.Add(current)
	r.logger.Debug("task suspended", "pid", current.Pid(), "stride", stride)
	r.publish(event.TypeSuspended, current, event.Lifecycle{Stride: stride})
	r.processor.Schedule(switched)
}

// ExitCurrentAndRunNext terminates the running task with code, hands its
// children to the init process and never returns.
func (r *Runtime) ExitCurrentAndRunNext(code int32) {
	current := r.takeCurrent()
	_, span := tracing.StartSpan(context.Background(), "ktask.Exit", "INTERNAL")
	root := r.InitProc()
	adopted := current.Exit(code, root)
	span.WithInt("pid", int64(current.Pid())).WithInt("exitCode", int64(code)).WithInt("adopted", int64(len(adopted)))
	tracing.EndSpan(span, nil)
	r.progress.Update(progress.Delta{Live: -1, Zombie: 1, Exited: 1})
	if current == root && len(adopted) > 0 {
		r.logger.Warn("init process exited with live children", "pid", current.Pid(), "orphans", len(adopted))
	}
	r.logger.Debug("task exited", "pid", current.Pid(), "code", code, "parent", parentPid(current))
	r.publish(event.TypeExited, current, event.Lifecycle{ExitCode: code, Children: pidsOf(adopted)})
	if current != root && root != nil {
		for _, child := range adopted {
			r.publish(event.TypeAdopted, child, event.Lifecycle{})
		}
	}
	var unused cpu.Context
	r.processor.Schedule(&unused)
}

// Fork clones the running task and returns the child's pid. The child
// resumes from the same trap frame with a0 set to 0.
func (r *Runtime) Fork(ctx context.Context) (childPid int, err error) {
	ctx, span := tracing.StartSpan(ctx, "ktask.Fork", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	current := r.current()
	child, err := current.Fork()
	if err != nil {
		return 0, err
	}
	child.TrapFrame().X[trap.RegA0] = 0
	if err = r.register(ctx, child); err != nil {
		current.Discard(child)
		return 0, err
	}
	r.logger.Debug("task forked", "pid", child.Pid(), "parent", current.Pid())
	r.publish(event.TypeForked, child, event.Lifecycle{Stride: child.Stride()})
	return child.Pid(), nil
}

// Exec replaces the running task's image with the named application.
func (r *Runtime) Exec(ctx context.Context, name string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ktask.Exec", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"app": name})
	current := r.current()
	image, err := r.loader.Load(ctx, name)
	if err != nil {
		return err
	}
	if err = current.Exec(image); err != nil {
		return err
	}
	r.logger.Debug("task exec", "pid", current.Pid(), "app", name)
	r.publish(event.TypeExec, current, event.Lifecycle{Name: name})
	return nil
}

// Spawn starts the named application as a child of the running task and
// returns its pid.
func (r *Runtime) Spawn(ctx context.Context, name string) (childPid int, err error) {
	ctx, span := tracing.StartSpan(ctx, "ktask.Spawn", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"app": name})
	current := r.current()
	image, err := r.loader.Load(ctx, name)
	if err != nil {
		return 0, err
	}
	child, err := current.Spawn(image)
	if err != nil {
		return 0, err
	}
	if err = r.register(ctx, child); err != nil {
		current.Discard(child)
		return 0, err
	}
	r.logger.Debug("task spawned", "pid", child.Pid(), "parent", current.Pid(), "app", name)
	r.publish(event.TypeSpawned, child, event.Lifecycle{Name: name})
	return child.Pid(), nil
}

// WaitPid collects an exited child of the running task (pid -1 for any).
// It returns task.ErrNoChild or task.ErrNotExited when nothing can be
// collected yet.
func (r *Runtime) WaitPid(ctx context.Context, pid int) (found int, exitCode int32, err error) {
	current := r.current()
	found, exitCode, err = current.ReapChild(pid)
	if err != nil {
		return 0, 0, err
	}
	ctx, span := tracing.StartSpan(ctx, "ktask.WaitPid", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithInt("pid", int64(found)).WithInt("exitCode", int64(exitCode))
	if err = r.processes.Delete(ctx, found); err != nil {
		return 0, 0, err
	}
	r.progress.Update(progress.Delta{Zombie: -1, Reaped: 1})
	r.logger.Debug("task reaped", "pid", found, "parent", current.Pid(), "code", exitCode)
	r.publishPid(event.TypeReaped, found, current.Pid(), event.Lifecycle{ExitCode: exitCode})
	return found, exitCode, nil
}

// SetPriority sets the running task's weight; values below
// task.MinPriority are rejected.
func (r *Runtime) SetPriority(priority int64) error {
	if priority < int64(task.MinPriority) {
		return ErrInvalidPriority
	}
	current := r.current()
	current.SetPriority(uint64(priority))
	r.publish(event.TypePriority, current, event.Lifecycle{Priority: uint64(priority)})
	return nil
}

// TaskInfo returns the running task's status, syscall counters and the
// milliseconds since its first dispatch.
func (r *Runtime) TaskInfo() task.TaskInfo {
	return r.current().FillTaskInfo(clock.Micros())
}

// CountSyscall records one invocation of syscall id by the running task.
func (r *Runtime) CountSyscall(id uint64) {
	r.current().CountSyscall(id)
}

// GetPid returns the running task's pid.
func (r *Runtime) GetPid() int {
	return r.current().Pid()
}

// CurrentToken returns the address-space token of the running task.
func (r *Runtime) CurrentToken() uint64 {
	return r.current().Token()
}

// CurrentTrapFrame returns the trap frame of the running task.
func (r *Runtime) CurrentTrapFrame() *trap.Frame {
	return r.current().TrapFrame()
}

// Mmap maps [start, start+length) into the running task with the
// permissions encoded in port (bit0 R, bit1 W, bit2 X).
func (r *Runtime) Mmap(start, length, port uint64) error {
	perm, err := mm.PermissionFromPort(port)
	if err != nil {
		return err
	}
	return r.currentSpace().Mmap(mm.VirtAddr(start), length, perm)
}

// Munmap unmaps [start, start+length) from the running task.
func (r *Runtime) Munmap(start, length uint64) error {
	return r.currentSpace().Munmap(mm.VirtAddr(start), length)
}

// Processes lists registered tasks ordered by pid, optionally restricted to
// statuses.
func (r *Runtime) Processes(ctx context.Context, statuses ...task.Status) ([]*task.ControlBlock, error) {
	if len(statuses) == 0 {
		return r.processes.List(ctx)
	}
	return r.processes.List(ctx, process.ByStatus(statuses...))
}

// Process returns the registered task with pid.
func (r *Runtime) Process(ctx context.Context, pid int) (*task.ControlBlock, error) {
	return r.processes.Load(ctx, pid)
}

func (r *Runtime) currentSpace() mm.AddressSpace {
	inner, release := r.current().Borrow()
	defer release()
	return inner.Space
}

func (r *Runtime) register(ctx context.Context, child *task.ControlBlock) error {
	if err := r.processes.Insert(ctx, child); err != nil {
		return fmt.Errorf("failed to register pid %d: %w", child.Pid(), err)
	}
	r.ready.Add(child)
	r.progress.Update(progress.Delta{Created: 1, Live: 1})
	if span, ok := tracing.SpanFromContext(ctx); ok {
		span.WithInt("parent", int64(parentPid(child))).WithInt("child", int64(child.Pid()))
	}
	return nil
}

func (r *Runtime) onDispatch(t *task.ControlBlock) {
	r.progress.Update(progress.Delta{Dispatches: 1})
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) && r.events == nil {
		return
	}
	stride := t.Stride()
	r.logger.Debug("task dispatched", "pid", t.Pid(), "stride", stride)
	r.publish(event.TypeDispatched, t, event.Lifecycle{Stride: stride})
}

func (r *Runtime) publish(eventType event.Type, t *task.ControlBlock, data event.Lifecycle) {
	if r.events == nil {
		return
	}
	r.publishPid(eventType, t.Pid(), parentPid(t), data)
}

func (r *Runtime) publishPid(eventType event.Type, pid, parent int, data event.Lifecycle) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(context.Background(), eventType, pid, parent, data); err != nil {
		r.logger.Debug("event dropped", "type", eventType, "pid", pid, "error", err)
	}
}

func parentPid(t *task.ControlBlock) int {
	if parent := t.Parent(); parent != nil {
		return parent.Pid()
	}
	return event.NoParent
}

func pidsOf(tasks []*task.ControlBlock) []int {
	if len(tasks) == 0 {
		return nil
	}
	ret := make([]int, 0, len(tasks))
	for _, t := range tasks {
		ret = append(ret, t.Pid())
	}
	return ret
}
