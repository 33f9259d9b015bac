package ktask_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/ktask"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/loader"
	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/pid"
	"github.com/viant/ktask/service/dao"
	"github.com/viant/ktask/service/dao/process"
	"github.com/viant/ktask/service/event"
	"github.com/viant/ktask/sim/mem"
	"github.com/viant/ktask/task"
	"github.com/viant/ktask/trap"
)

// script is the user-mode behaviour of an application in these tests.
type script func(k *kernel, rt *ktask.Runtime)

// kernel boots a runtime whose applications are Go scripts selected by the
// name stored in each image body.
type kernel struct {
	t       *testing.T
	rt      *ktask.Runtime
	memory  *mem.Memory
	scripts map[string]script
}

func newKernel(t *testing.T, scripts map[string]script, options ...ktask.Option) *kernel {
	ctx := context.Background()
	k := &kernel{t: t, memory: mem.New(mem.Config{Frames: 2048}), scripts: scripts}
	apps := loader.New(afs.New(), "mem://localhost/ktask_test/"+uuid.New().String())
	for name := range scripts {
		require.NoError(t, apps.Put(ctx, name, mem.BuildImage(0, []byte(name))))
	}
	options = append([]ktask.Option{
		ktask.WithMemory(k.memory),
		ktask.WithLoader(apps),
		ktask.WithTrampoline(ktask.TrampolineFunc(k.enter)),
	}, options...)
	srv, err := ktask.New(options...)
	require.NoError(t, err)
	k.rt = srv.Runtime()
	return k
}

// enter runs the script named by the current image.
func (k *kernel) enter(rt *ktask.Runtime) {
	name := make([]byte, 32)
	require.NoError(k.t, k.memory.ReadUser(rt.CurrentToken(), mem.LoadBase, name))
	k.scripts[string(bytes.TrimRight(name, "\x00"))](k, rt)
}

func (k *kernel) boot() {
	require.NoError(k.t, k.rt.AddInitProc(context.Background()))
	done := make(chan error, 1)
	go func() { done <- k.rt.RunUntilIdle(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(k.t, err)
	case <-time.After(5 * time.Second):
		k.t.Fatal("kernel did not go idle")
	}
}

// waitAll reaps children until none is left and returns pid to exit code.
func waitAll(rt *ktask.Runtime) map[int]int32 {
	ret := map[int]int32{}
	for {
		pid, code, err := rt.WaitPid(context.Background(), -1)
		switch {
		case errors.Is(err, task.ErrNotExited):
			rt.SuspendCurrentAndRunNext()
		case errors.Is(err, task.ErrNoChild):
			return ret
		case err != nil:
			panic(err)
		default:
			ret[pid] = code
		}
	}
}

func yieldN(rt *ktask.Runtime, n int) {
	for i := 0; i < n; i++ {
		rt.SuspendCurrentAndRunNext()
	}
}

func TestNew(t *testing.T) {
	_, err := ktask.New()
	assert.Error(t, err, "trampoline is required")

	config := ktask.DefaultConfig()
	config.InitProc = ""
	_, err = ktask.New(ktask.WithConfig(config), ktask.WithTrampoline(ktask.TrampolineFunc(func(*ktask.Runtime) {})))
	assert.Error(t, err)
}

func TestRuntime_AddInitProc(t *testing.T) {
	k := newKernel(t, map[string]script{"initproc": func(k *kernel, rt *ktask.Runtime) {}})
	ctx := context.Background()
	require.NoError(t, k.rt.AddInitProc(ctx))
	assert.ErrorIs(t, k.rt.AddInitProc(ctx), ktask.ErrInitProcRegistered)
	root := k.rt.InitProc()
	require.NotNil(t, root)
	assert.Nil(t, root.Parent())
	assert.Equal(t, 1, k.rt.Ready().Len())

	missing := newKernel(t, map[string]script{"shell": func(k *kernel, rt *ktask.Runtime) {}})
	err := missing.rt.AddInitProc(ctx)
	assert.ErrorIs(t, err, loader.ErrNotFound)
	assert.Nil(t, missing.rt.InitProc())
}

func TestRuntime_ForkAndWait(t *testing.T) {
	const forkPoint = mem.LoadBase + 0x40
	var parentPid, childPid, childSeen int
	var reaped map[int]int32
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			frame := rt.CurrentTrapFrame()
			if frame.Sepc == forkPoint && frame.X[trap.RegA0] == 0 {
				childSeen = rt.GetPid()
				yieldN(rt, 2)
				rt.ExitCurrentAndRunNext(7)
			}
			frame.Sepc = forkPoint
			frame.X[trap.RegA0] = 42
			pid, err := rt.Fork(context.Background())
			if err != nil {
				panic(err)
			}
			frame.X[trap.RegA0] = uint64(pid)
			parentPid, childPid = rt.GetPid(), pid
			reaped = waitAll(rt)
		},
	}
	k := newKernel(t, scripts)
	k.boot()

	assert.NotEqual(t, parentPid, childPid)
	assert.Equal(t, childPid, childSeen)
	assert.Equal(t, map[int]int32{childPid: 7}, reaped)

	processes, err := k.rt.Processes(context.Background())
	require.NoError(t, err)
	require.Len(t, processes, 1, "child collected")
	assert.Equal(t, parentPid, processes[0].Pid())
	assert.True(t, processes[0].IsZombie())
}

func TestRuntime_Reparent(t *testing.T) {
	var parentPid int
	var adoptedBy []int
	var reaped map[int]int32
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			pid, err := rt.Spawn(context.Background(), "parent")
			if err != nil {
				panic(err)
			}
			parentPid = pid
			reaped = waitAll(rt)
		},
		"parent": func(k *kernel, rt *ktask.Runtime) {
			for i := 0; i < 2; i++ {
				if _, err := rt.Spawn(context.Background(), "worker"); err != nil {
					panic(err)
				}
			}
			rt.ExitCurrentAndRunNext(1)
		},
		"worker": func(k *kernel, rt *ktask.Runtime) {
			yieldN(rt, 3)
			adoptedBy = append(adoptedBy, rt.Current().Parent().Pid())
			rt.ExitCurrentAndRunNext(2)
		},
	}
	k := newKernel(t, scripts)
	k.boot()

	root := k.rt.InitProc()
	assert.Equal(t, []int{root.Pid(), root.Pid()}, adoptedBy)
	require.Len(t, reaped, 3)
	assert.EqualValues(t, 1, reaped[parentPid])
	for pid, code := range reaped {
		if pid != parentPid {
			assert.EqualValues(t, 2, code)
		}
	}
	assert.Empty(t, root.Children())

	counters := k.rt.Progress()
	assert.Equal(t, 4, counters.CreatedTasks)
	assert.Equal(t, 4, counters.ExitedTasks)
	assert.Equal(t, 3, counters.ReapedTasks)
	assert.Equal(t, 0, counters.LiveTasks)
	assert.Equal(t, 1, counters.ZombieTasks, "init is never collected")
	assert.GreaterOrEqual(t, counters.Dispatches, 4)
}

func TestRuntime_RegisterFailure(t *testing.T) {
	ctx := context.Background()
	table := process.New()
	foreign := &task.Env{Memory: mem.New(mem.Config{Frames: 64}), Pids: pid.NewAllocator(), TrapReturn: func() {}}
	for i := 0; i < 2; i++ {
		tcb, err := task.New(foreign, mem.BuildImage(0, []byte("foreign")))
		require.NoError(t, err)
		if i == 1 {
			require.NoError(t, table.Insert(ctx, tcb), "occupies the pid of the first child")
		}
	}

	var forkErr, spawnErr, waitErr error
	var children, leaked int
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			free := k.memory.FreeFrames()
			_, forkErr = rt.Fork(ctx)
			_, spawnErr = rt.Spawn(ctx, "initproc")
			children = len(rt.Current().Children())
			leaked = free - k.memory.FreeFrames()
			_, _, waitErr = rt.WaitPid(ctx, -1)
		},
	}
	k := newKernel(t, scripts, ktask.WithProcessTable(table))
	k.boot()

	assert.ErrorIs(t, forkErr, dao.ErrDuplicate)
	assert.ErrorIs(t, spawnErr, dao.ErrDuplicate)
	assert.Zero(t, children)
	assert.Zero(t, leaked)
	assert.ErrorIs(t, waitErr, task.ErrNoChild)
	assert.Equal(t, 1, k.rt.Progress().CreatedTasks)
}

func TestRuntime_Exec(t *testing.T) {
	var before, after int
	var missingErr error
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			before = rt.GetPid()
			missingErr = rt.Exec(context.Background(), "nothing")
			if err := rt.Exec(context.Background(), "target"); err != nil {
				panic(err)
			}
			k.enter(rt)
		},
		"target": func(k *kernel, rt *ktask.Runtime) {
			after = rt.GetPid()
			assert.Equal(k.t, mem.LoadBase, rt.CurrentTrapFrame().Sepc)
			rt.ExitCurrentAndRunNext(0)
		},
	}
	k := newKernel(t, scripts)
	k.boot()
	assert.Equal(t, before, after)
	assert.ErrorIs(t, missingErr, loader.ErrNotFound)
}

func TestRuntime_SetPriority(t *testing.T) {
	var errs []error
	var priority uint64
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			errs = append(errs, rt.SetPriority(1), rt.SetPriority(0), rt.SetPriority(-3), rt.SetPriority(5))
			rt.Current().With(func(inner *task.Inner) { priority = inner.Priority })
		},
	}
	k := newKernel(t, scripts)
	k.boot()
	assert.ErrorIs(t, errs[0], ktask.ErrInvalidPriority)
	assert.ErrorIs(t, errs[1], ktask.ErrInvalidPriority)
	assert.ErrorIs(t, errs[2], ktask.ErrInvalidPriority)
	assert.NoError(t, errs[3])
	assert.EqualValues(t, 5, priority)
}

func TestRuntime_StrideShare(t *testing.T) {
	counts := map[string]int{}
	var order []string
	worker := func(name string, priority int64) script {
		return func(k *kernel, rt *ktask.Runtime) {
			_ = rt.SetPriority(priority)
			for i := 0; i < 40; i++ {
				counts[name]++
				order = append(order, name)
				rt.SuspendCurrentAndRunNext()
			}
		}
	}
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			for _, name := range []string{"heavy", "light"} {
				if _, err := rt.Spawn(context.Background(), name); err != nil {
					panic(err)
				}
			}
			waitAll(rt)
		},
		"heavy": worker("heavy", 16),
		"light": worker("light", 2),
	}
	k := newKernel(t, scripts)
	k.boot()
	assert.Equal(t, 40, counts["heavy"])
	assert.Equal(t, 40, counts["light"])
	firstHalf := map[string]int{}
	for _, name := range order[:36] {
		firstHalf[name]++
	}
	assert.Greater(t, firstHalf["heavy"], 4*firstHalf["light"], "heavier weight dominates while both are ready")
}

func TestRuntime_TaskInfo(t *testing.T) {
	now := time.Unix(1000, 0)
	clock.NowFunc = func() time.Time { return now }
	defer func() { clock.NowFunc = time.Now }()

	var info task.TaskInfo
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			rt.CountSyscall(64)
			rt.CountSyscall(64)
			rt.CountSyscall(410)
			now = now.Add(1500 * time.Millisecond)
			info = rt.TaskInfo()
		},
	}
	k := newKernel(t, scripts)
	k.boot()
	assert.Equal(t, task.StatusRunning, info.Status)
	assert.EqualValues(t, 2, info.SyscallTimes[64])
	assert.EqualValues(t, 1, info.SyscallTimes[410])
	assert.EqualValues(t, 1500, info.Time)
}

func TestRuntime_MmapMunmap(t *testing.T) {
	const start = 0x1000_0000
	var errs []error
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			errs = append(errs,
				rt.Mmap(start, mm.PageSize, 0),
				rt.Mmap(start, mm.PageSize, 0x8|0x1),
				rt.Mmap(start+1, mm.PageSize, 0x3),
				rt.Mmap(start, 2*mm.PageSize, 0x3),
				k.memory.WriteUser(rt.CurrentToken(), start+mm.PageSize, []byte("ok")),
				rt.Mmap(start, mm.PageSize, 0x1),
				rt.Munmap(start, 3*mm.PageSize),
				rt.Munmap(start, 2*mm.PageSize),
			)
		},
	}
	k := newKernel(t, scripts)
	k.boot()
	require.Len(t, errs, 8)
	assert.ErrorIs(t, errs[0], mm.ErrPermission)
	assert.ErrorIs(t, errs[1], mm.ErrPermission)
	assert.ErrorIs(t, errs[2], mm.ErrUnaligned)
	assert.NoError(t, errs[3])
	assert.NoError(t, errs[4])
	assert.ErrorIs(t, errs[5], mm.ErrOverlap)
	assert.ErrorIs(t, errs[6], mm.ErrNotMapped)
	assert.NoError(t, errs[7])
}

func TestRuntime_NoCurrentTask(t *testing.T) {
	k := newKernel(t, map[string]script{"initproc": func(k *kernel, rt *ktask.Runtime) {}})
	assert.PanicsWithValue(t, "ktask: no current task", func() { k.rt.GetPid() })
	assert.PanicsWithValue(t, "ktask: no current task", func() { k.rt.SuspendCurrentAndRunNext() })
	assert.Nil(t, k.rt.Current())
}

func TestRuntime_Events(t *testing.T) {
	config := ktask.DefaultConfig()
	config.Events.Enabled = true
	scripts := map[string]script{
		"initproc": func(k *kernel, rt *ktask.Runtime) {
			if _, err := rt.Spawn(context.Background(), "child"); err != nil {
				panic(err)
			}
			waitAll(rt)
		},
		"child": func(k *kernel, rt *ktask.Runtime) {
			rt.ExitCurrentAndRunNext(4)
		},
	}
	k := newKernel(t, scripts, ktask.WithConfig(config))
	k.boot()

	var types []event.Type
	k.rt.Events().Drain(func(e *event.Event[event.Lifecycle]) {
		assert.Equal(t, k.rt.BootID(), e.Context.BootID)
		types = append(types, e.Context.EventType)
	})
	assert.Equal(t, event.TypeCreated, types[0])
	assert.Contains(t, types, event.TypeSpawned)
	assert.Contains(t, types, event.TypeDispatched)
	assert.Contains(t, types, event.TypeSuspended)
	assert.Contains(t, types, event.TypeReaped)
	assert.Equal(t, event.TypeExited, types[len(types)-1])
}
