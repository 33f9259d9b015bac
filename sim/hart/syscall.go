package hart

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/viant/ktask"
	"github.com/viant/ktask/abi"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/task"
)

const (
	stdoutFd = 1
	maxWrite = 1 << 20
)

// Return codes of waitpid.
const (
	waitNoChild    int64 = -1
	waitNotExited  int64 = -2
	syscallFailure int64 = -1
)

type syscallHandler func(h *Hart, rt *ktask.Runtime, args [3]uint64) int64

func syscallTable() map[uint64]syscallHandler {
	return map[uint64]syscallHandler{
		abi.SysWrite:       sysWrite,
		abi.SysExit:        sysExit,
		abi.SysYield:       sysYield,
		abi.SysSetPriority: sysSetPriority,
		abi.SysGetTime:     sysGetTime,
		abi.SysGetPid:      sysGetPid,
		abi.SysMunmap:      sysMunmap,
		abi.SysFork:        sysFork,
		abi.SysExec:        sysExec,
		abi.SysMmap:        sysMmap,
		abi.SysWaitPid:     sysWaitPid,
		abi.SysSpawn:       sysSpawn,
		abi.SysTaskInfo:    sysTaskInfo,
	}
}

func sysWrite(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	if args[0] != stdoutFd || args[2] > maxWrite {
		return syscallFailure
	}
	buf := make([]byte, args[2])
	if err := h.memory.ReadUser(rt.CurrentToken(), args[1], buf); err != nil {
		return syscallFailure
	}
	n, err := h.stdout.Write(buf)
	if err != nil {
		return syscallFailure
	}
	return int64(n)
}

func sysExit(_ *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	rt.ExitCurrentAndRunNext(int32(args[0]))
	panic("unreachable")
}

func sysYield(_ *Hart, rt *ktask.Runtime, _ [3]uint64) int64 {
	rt.SuspendCurrentAndRunNext()
	return 0
}

func sysSetPriority(_ *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	priority := int64(args[0])
	if err := rt.SetPriority(priority); err != nil {
		return syscallFailure
	}
	return priority
}

// sysGetTime writes {sec, usec} as two u64 at args[0].
func sysGetTime(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	now := clock.Micros()
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, now/1_000_000)
	binary.LittleEndian.PutUint64(buf[8:], now%1_000_000)
	if err := h.memory.WriteUser(rt.CurrentToken(), args[0], buf); err != nil {
		return syscallFailure
	}
	return 0
}

func sysGetPid(_ *Hart, rt *ktask.Runtime, _ [3]uint64) int64 {
	return int64(rt.GetPid())
}

func sysMmap(_ *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	if err := rt.Mmap(args[0], args[1], args[2]); err != nil {
		return syscallFailure
	}
	return 0
}

func sysMunmap(_ *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	if err := rt.Munmap(args[0], args[1]); err != nil {
		return syscallFailure
	}
	return 0
}

func sysFork(h *Hart, rt *ktask.Runtime, _ [3]uint64) int64 {
	pid, err := rt.Fork(context.Background())
	if err != nil {
		h.logger.Warn("fork failed", "pid", rt.GetPid(), "error", err)
		return syscallFailure
	}
	return int64(pid)
}

func sysExec(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	path, ok := h.readPath(rt, args[0])
	if !ok {
		return syscallFailure
	}
	if err := rt.Exec(context.Background(), path); err != nil {
		h.logger.Warn("exec failed", "pid", rt.GetPid(), "app", path, "error", err)
		return syscallFailure
	}
	return 0
}

func sysSpawn(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	path, ok := h.readPath(rt, args[0])
	if !ok {
		return syscallFailure
	}
	pid, err := rt.Spawn(context.Background(), path)
	if err != nil {
		h.logger.Warn("spawn failed", "pid", rt.GetPid(), "app", path, "error", err)
		return syscallFailure
	}
	return int64(pid)
}

// sysWaitPid stores the exit code as i32 at args[1] unless it is zero.
func sysWaitPid(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	pid, code, err := rt.WaitPid(context.Background(), int(int64(args[0])))
	switch {
	case errors.Is(err, task.ErrNoChild):
		return waitNoChild
	case errors.Is(err, task.ErrNotExited):
		return waitNotExited
	case err != nil:
		return syscallFailure
	}
	if args[1] != 0 {
		buf := binary.LittleEndian.AppendUint32(nil, uint32(code))
		if err := h.memory.WriteUser(rt.CurrentToken(), args[1], buf); err != nil {
			return syscallFailure
		}
	}
	return int64(pid)
}

func sysTaskInfo(h *Hart, rt *ktask.Runtime, args [3]uint64) int64 {
	info := rt.TaskInfo()
	data, err := info.MarshalBinary()
	if err != nil {
		return syscallFailure
	}
	if err := h.memory.WriteUser(rt.CurrentToken(), args[0], data); err != nil {
		return syscallFailure
	}
	return 0
}

// readPath reads a NUL terminated string of at most MaxPath bytes.
func (h *Hart) readPath(rt *ktask.Runtime, va uint64) (string, bool) {
	token := rt.CurrentToken()
	var path []byte
	var c [1]byte
	for len(path) < h.config.MaxPath {
		if err := h.memory.ReadUser(token, va+uint64(len(path)), c[:]); err != nil {
			return "", false
		}
		if c[0] == 0 {
			return string(path), true
		}
		path = append(path, c[0])
	}
	return "", false
}
