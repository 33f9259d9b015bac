// Package hart interprets assembled applications on behalf of the kernel.
//
// A Hart is the kernel's Trampoline: on a task's first dispatch it starts
// fetching instructions at the trap frame's sepc, keeps the user registers
// in the trap frame and turns ecall into system calls on the Runtime.
// Because all user state lives in the trap frame and the address space, a
// forked child resumes exactly after its parent's fork.
package hart

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/viant/ktask"
	"github.com/viant/ktask/abi"
	"github.com/viant/ktask/sim/asm"
	"github.com/viant/ktask/trap"
)

// Exit codes of tasks killed by a trap.
const (
	ExitPageFault          int32 = -2
	ExitIllegalInstruction int32 = -3
)

// UserMemory gives the interpreter access to user address spaces.
type UserMemory interface {
	ReadUser(token uint64, va uint64, dst []byte) error
	WriteUser(token uint64, va uint64, src []byte) error
}

// Hart implements ktask.Trampoline.
type Hart struct {
	memory   UserMemory
	config   Config
	stdout   io.Writer
	logger   *slog.Logger
	syscalls map[uint64]syscallHandler
}

var _ ktask.Trampoline = (*Hart)(nil)

// New creates an interpreter over memory.
func New(memory UserMemory, options ...Option) *Hart {
	ret := &Hart{
		memory: memory,
		config: DefaultConfig(),
		stdout: io.Discard,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.config.MaxPath <= 0 {
		ret.config.MaxPath = DefaultConfig().MaxPath
	}
	ret.syscalls = syscallTable()
	return ret
}

// Enter runs the current task until it exits.
func (h *Hart) Enter(rt *ktask.Runtime) {
	executed := 0
	for {
		if h.step(rt) {
			executed = 0
			continue
		}
		executed++
		if h.config.TimeSlice > 0 && executed >= h.config.TimeSlice {
			executed = 0
			rt.SuspendCurrentAndRunNext()
		}
	}
}

// step executes one instruction and reports whether it trapped into the
// kernel.
func (h *Hart) step(rt *ktask.Runtime) bool {
	frame := rt.CurrentTrapFrame()
	token := rt.CurrentToken()
	pc := frame.Sepc
	var raw [asm.InstructionSize]byte
	if err := h.memory.ReadUser(token, pc, raw[:]); err != nil {
		h.kill(rt, ExitPageFault, "page fault on fetch", pc, err)
	}
	in := asm.Decode(raw[:])
	next := pc + asm.InstructionSize
	x := &frame.X
	switch in.Op {
	case asm.OpNop:
	case asm.OpLi:
		set(x, in.A, uint64(int64(in.B)))
	case asm.OpMv:
		set(x, in.A, get(x, in.B))
	case asm.OpAdd:
		set(x, in.A, get(x, in.B)+get(x, in.C))
	case asm.OpSub:
		set(x, in.A, get(x, in.B)-get(x, in.C))
	case asm.OpAddi:
		set(x, in.A, get(x, in.B)+uint64(int64(in.C)))
	case asm.OpLd, asm.OpLw:
		size := 8
		if in.Op == asm.OpLw {
			size = 4
		}
		addr := get(x, in.B) + uint64(int64(in.C))
		buf := make([]byte, size)
		if err := h.memory.ReadUser(token, addr, buf); err != nil {
			h.kill(rt, ExitPageFault, "page fault on load", pc, err)
		}
		if size == 4 {
			set(x, in.A, uint64(int64(int32(binary.LittleEndian.Uint32(buf)))))
		} else {
			set(x, in.A, binary.LittleEndian.Uint64(buf))
		}
	case asm.OpSd, asm.OpSw:
		addr := get(x, in.B) + uint64(int64(in.C))
		var buf []byte
		if in.Op == asm.OpSw {
			buf = binary.LittleEndian.AppendUint32(nil, uint32(get(x, in.A)))
		} else {
			buf = binary.LittleEndian.AppendUint64(nil, get(x, in.A))
		}
		if err := h.memory.WriteUser(token, addr, buf); err != nil {
			h.kill(rt, ExitPageFault, "page fault on store", pc, err)
		}
	case asm.OpJ:
		next = uint64(int64(in.A))
	case asm.OpBeqz, asm.OpBnez, asm.OpBltz:
		v := int64(get(x, in.A))
		if (in.Op == asm.OpBeqz && v == 0) || (in.Op == asm.OpBnez && v != 0) || (in.Op == asm.OpBltz && v < 0) {
			next = uint64(int64(in.B))
		}
	case asm.OpEcall:
		frame.Sepc = next
		h.ecall(rt, frame)
		return true
	default:
		h.kill(rt, ExitIllegalInstruction, "illegal instruction", pc, nil)
	}
	frame.Sepc = next
	return false
}

// ecall dispatches the system call in a7 with arguments a0..a2 and stores
// the result in a0 of the trap frame current after the call.
func (h *Hart) ecall(rt *ktask.Runtime, frame *trap.Frame) {
	id := frame.X[trap.RegA7]
	args := [3]uint64{frame.X[trap.RegA0], frame.X[trap.RegA1], frame.X[trap.RegA2]}
	rt.CountSyscall(id)
	ret := syscallFailure
	if handler, ok := h.syscalls[id]; ok {
		if h.logger.Enabled(context.Background(), slog.LevelDebug) {
			h.logger.Debug("syscall", "pid", rt.GetPid(), "name", abi.Name(id), "a0", args[0], "a1", args[1], "a2", args[2])
		}
		ret = handler(h, rt, args)
	} else {
		h.logger.Warn("unsupported syscall", "pid", rt.GetPid(), "id", id)
	}
	rt.CurrentTrapFrame().X[trap.RegA0] = uint64(ret)
}

// kill terminates the current task after a trap; it does not return.
func (h *Hart) kill(rt *ktask.Runtime, code int32, reason string, pc uint64, err error) {
	args := []any{"pid", rt.GetPid(), "pc", pc, "code", code}
	if err != nil {
		args = append(args, "error", err)
	}
	h.logger.Warn("application killed: "+reason, args...)
	rt.ExitCurrentAndRunNext(code)
}

func get(x *[32]uint64, r int32) uint64 {
	if r <= 0 || r >= 32 {
		return 0
	}
	return x[r]
}

func set(x *[32]uint64, r int32, v uint64) {
	if r <= 0 || r >= 32 {
		return
	}
	x[r] = v
}
