// Package ktask is the process core of a single-core teaching kernel: stride
// scheduling over a ready set, a cooperative context switch and a process
// tree rooted at an init process that adopts orphans.
//
// A kernel is assembled explicitly and booted with its init process:
//
//	srv, _ := ktask.New(ktask.WithTrampoline(hart.New(memory)), ktask.WithMemory(memory))
//	rt := srv.Runtime()
//	_ = rt.AddInitProc(ctx)
//	_ = rt.RunUntilIdle(ctx)
//
// Each task runs on its own goroutine but only the one holding the processor
// executes; control moves exclusively through cpu.Switch. The trampoline
// installed with WithTrampoline plays the part of user mode: it is entered
// on a task's first dispatch and calls back into the Runtime for every
// system call.
package ktask
