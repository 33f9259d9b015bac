// Package abi lists the system call numbers understood by the kernel.
package abi

// MaxSyscallNum bounds the syscall ids reported by task info.
const MaxSyscallNum = 500

// System call numbers.
const (
	SysWrite       uint64 = 64
	SysExit        uint64 = 93
	SysYield       uint64 = 124
	SysSetPriority uint64 = 140
	SysGetTime     uint64 = 169
	SysGetPid      uint64 = 172
	SysMunmap      uint64 = 215
	SysFork        uint64 = 220
	SysExec        uint64 = 221
	SysMmap        uint64 = 222
	SysWaitPid     uint64 = 260
	SysSpawn       uint64 = 400
	SysTaskInfo    uint64 = 410
)

var names = map[uint64]string{
	SysWrite:       "write",
	SysExit:        "exit",
	SysYield:       "yield",
	SysSetPriority: "set_priority",
	SysGetTime:     "get_time",
	SysGetPid:      "getpid",
	SysMunmap:      "munmap",
	SysFork:        "fork",
	SysExec:        "exec",
	SysMmap:        "mmap",
	SysWaitPid:     "waitpid",
	SysSpawn:       "spawn",
	SysTaskInfo:    "task_info",
}

// Name returns the syscall name or "unknown".
func Name(id uint64) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "unknown"
}
