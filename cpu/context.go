// Package cpu holds the execution context of a flow of control and the
// primitive that transfers the processor between two contexts.
//
// Every flow (the idle loop, each task's kernel-side flow) is a goroutine.
// Only the goroutine that owns the processor runs; the others are parked on
// the resume slot of the context they were switched out of.
package cpu

// Context is the saved state of a suspended flow.
//
// The register block mirrors what a RISC-V switch saves (return address,
// stack pointer, s0-s11). Control is carried by the resume slot: a suspended
// flow waits on it and Switch signals it to resume the flow.
type Context struct {
	ra uint64
	sp uint64
	s  [12]uint64

	entry   func()
	started bool
	resume  chan struct{}
}

// Symbolic resume addresses recorded in the ra slot.
const (
	// TrapReturnAddr marks a context built by GotoTrapReturn.
	TrapReturnAddr uint64 = 0xffff_ffff_ffff_f000
	// SwitchReturnAddr marks a context saved by Switch.
	SwitchReturnAddr uint64 = 0xffff_ffff_ffff_f800
)

// ZeroInit returns an empty context for a flow that is already executing,
// typically the idle loop. The first Switch out of it records the state.
func ZeroInit() *Context {
	return &Context{started: true, resume: make(chan struct{}, 1)}
}

// GotoTrapReturn returns a context that, when first switched into, starts
// entry on a fresh flow whose kernel stack top is kernelStackTop.
// entry is the trap-return trampoline and must never return.
func GotoTrapReturn(kernelStackTop uint64, entry func()) *Context {
	return &Context{
		ra:     TrapReturnAddr,
		sp:     kernelStackTop,
		entry:  entry,
		resume: make(chan struct{}, 1),
	}
}

// RA returns the saved return address.
func (c *Context) RA() uint64 { return c.ra }

// SP returns the saved stack pointer.
func (c *Context) SP() uint64 { return c.sp }

// Started reports whether the flow behind c has ever run.
func (c *Context) Started() bool { return c.started }

// resumable reports whether anything can ever switch back into c.
func (c *Context) resumable() bool { return c.resume != nil }
