// Package pid allocates process identifiers and the kernel stacks tied to them.
package pid

import (
	"fmt"

	"github.com/viant/ktask/internal/cell"
	"github.com/viant/ktask/mm"
)

// Handle is an allocated process identifier.
type Handle struct {
	value int
}

// Value returns the numeric pid.
func (h Handle) Value() int { return h.value }

type pool struct {
	current  int
	recycled []int
	inUse    map[int]bool
}

// Allocator hands out pids: recycled ones first, then fresh ones.
type Allocator struct {
	pool *cell.Exclusive[pool]
}

// NewAllocator creates an empty allocator; the first pid is 0.
func NewAllocator() *Allocator {
	return &Allocator{pool: cell.New("pid allocator", pool{inUse: map[int]bool{}})}
}

// Alloc returns an unused pid.
func (a *Allocator) Alloc() Handle {
	p, release := a.pool.Borrow()
	defer release()
	var value int
	if n := len(p.recycled); n > 0 {
		value = p.recycled[n-1]
		p.recycled = p.recycled[:n-1]
	} else {
		value = p.current
		p.current++
	}
	p.inUse[value] = true
	return Handle{value: value}
}

// Dealloc returns h to the pool. Releasing a pid twice panics.
func (a *Allocator) Dealloc(h Handle) {
	p, release := a.pool.Borrow()
	defer release()
	if !p.inUse[h.value] {
		panic(fmt.Sprintf("pid: %d has not been allocated", h.value))
	}
	delete(p.inUse, h.value)
	p.recycled = append(p.recycled, h.value)
}

// InUse reports whether pid is currently allocated.
func (a *Allocator) InUse(pid int) bool {
	p, release := a.pool.Borrow()
	defer release()
	return p.inUse[pid]
}

// KernelStack is the kernel-mode stack of one task; its position is derived
// from the owning pid so that stacks never overlap.
type KernelStack struct {
	pid int
}

// NewKernelStack returns the kernel stack for h.
func NewKernelStack(h Handle) KernelStack {
	return KernelStack{pid: h.value}
}

// Position returns the [bottom, top) range of the stack below the
// trampoline, separated from its neighbour by a guard page.
func (k KernelStack) Position() (bottom, top uint64) {
	top = mm.Trampoline - uint64(k.pid)*(mm.KernelStackSize+mm.PageSize)
	bottom = top - mm.KernelStackSize
	return bottom, top
}

// Top returns the initial kernel stack pointer.
func (k KernelStack) Top() uint64 {
	_, top := k.Position()
	return top
}

// Pid returns the pid owning the stack.
func (k KernelStack) Pid() int { return k.pid }
