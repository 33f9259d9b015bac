// Package trap defines the trap-entry frame shared between user mode and the
// kernel's trap path.
package trap

// Register indices into Frame.X.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// SstatusSPP is the previous-privilege bit; cleared means return to user mode.
const SstatusSPP uint64 = 1 << 8

// Frame is the fixed-layout record saved on every trap into the kernel and
// restored on every return to user mode.
type Frame struct {
	// X holds the general purpose registers x0-x31.
	X [32]uint64
	// Sstatus is the saved supervisor status.
	Sstatus uint64
	// Sepc is the user program counter to resume at.
	Sepc uint64
	// KernelSATP identifies the kernel address space.
	KernelSATP uint64
	// KernelSP is the top of this task's kernel stack.
	KernelSP uint64
	// TrapHandler is the address of the kernel trap handler.
	TrapHandler uint64
}

// AppInitContext builds the frame a freshly loaded program first returns to.
func AppInitContext(entry, sp, kernelSATP, kernelSP, trapHandler uint64) Frame {
	f := Frame{
		Sstatus:     0,
		Sepc:        entry,
		KernelSATP:  kernelSATP,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	f.SetSP(sp)
	return f
}

// SetSP sets the user stack pointer.
func (f *Frame) SetSP(sp uint64) { f.X[RegSP] = sp }

// SP returns the user stack pointer.
func (f *Frame) SP() uint64 { return f.X[RegSP] }

// UserMode reports whether sret from this frame lands in user mode.
func (f *Frame) UserMode() bool { return f.Sstatus&SstatusSPP == 0 }
