package ktask

// Trampoline is the trap-return path: it is entered on the first dispatch of
// every task and executes the task's user code, calling back into the
// Runtime for system calls. Returning from Enter exits the task with code 0.
type Trampoline interface {
	Enter(rt *Runtime)
}

// TrampolineFunc adapts a function to Trampoline.
type TrampolineFunc func(rt *Runtime)

// Enter calls fn.
func (fn TrampolineFunc) Enter(rt *Runtime) { fn(rt) }

func (r *Runtime) trapReturn() {
	r.trampoline.Enter(r)
	r.ExitCurrentAndRunNext(0)
}
