// Package mm declares the address-space manager the task core is built
// against. The core never looks inside an address space; it builds, copies,
// releases and activates them through these interfaces.
package mm

import (
	"errors"
	"math"

	"github.com/viant/ktask/trap"
)

// Page geometry and the fixed virtual layout shared by every address space.
const (
	PageSizeBits = 12
	PageSize     = 1 << PageSizeBits

	// Trampoline is the highest virtual page, mapped in every space.
	Trampoline uint64 = math.MaxUint64 - PageSize + 1
	// TrapContext is the page right below the trampoline holding the
	// task's trap frame.
	TrapContext uint64 = Trampoline - PageSize

	// KernelStackSize is the size of each task's kernel stack.
	KernelStackSize = 2 * PageSize
	// UserStackSize is the size of each task's user stack.
	UserStackSize = 2 * PageSize
)

// Errors reported by address-space managers.
var (
	ErrBadImage   = errors.New("mm: malformed executable image")
	ErrUnaligned  = errors.New("mm: address not page aligned")
	ErrOverlap    = errors.New("mm: range overlaps an existing mapping")
	ErrNotMapped  = errors.New("mm: range not mapped")
	ErrNoMemory   = errors.New("mm: out of physical frames")
	ErrPermission = errors.New("mm: invalid permission")
	ErrRange      = errors.New("mm: range exceeds the address space")
)

// VirtAddr is a virtual address.
type VirtAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// Floor returns the page containing v.
func (v VirtAddr) Floor() VirtPageNum { return VirtPageNum(uint64(v) / PageSize) }

// Ceil returns the first page at or after v.
func (v VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(v) + PageSize - 1) / PageSize)
}

// PageOffset returns the offset of v within its page.
func (v VirtAddr) PageOffset() uint64 { return uint64(v) & (PageSize - 1) }

// Aligned reports whether v sits on a page boundary.
func (v VirtAddr) Aligned() bool { return v.PageOffset() == 0 }

// Addr returns the first address of the page.
func (p VirtPageNum) Addr() VirtAddr { return VirtAddr(uint64(p) * PageSize) }

// Permission is a set of page permission flags.
type Permission uint8

// Permission bits, matching the page table entry layout.
const (
	PermR Permission = 1 << 1
	PermW Permission = 1 << 2
	PermX Permission = 1 << 3
	PermU Permission = 1 << 4
)

// PermissionFromPort converts an mmap port (bit0 R, bit1 W, bit2 X) into user
// page permissions. Ports with unknown bits or no access bits are rejected.
func PermissionFromPort(port uint64) (Permission, error) {
	if port&^0x7 != 0 || port&0x7 == 0 {
		return 0, ErrPermission
	}
	return Permission(port<<1) | PermU, nil
}

// Layout describes where a freshly built image starts executing.
type Layout struct {
	// UserSP is the initial user stack pointer.
	UserSP uint64
	// Entry is the program entry point.
	Entry uint64
}

// AddressSpace is a user address space owned by exactly one task.
type AddressSpace interface {
	// Token identifies the space for hardware activation (satp).
	Token() uint64
	// Translate maps a virtual page to the physical frame backing it.
	Translate(vpn VirtPageNum) (PhysPageNum, bool)
	// RecycleDataPages returns every backing frame to the allocator.
	RecycleDataPages()
	// Mmap maps [start, start+length) with perm.
	Mmap(start VirtAddr, length uint64, perm Permission) error
	// Munmap unmaps [start, start+length).
	Munmap(start VirtAddr, length uint64) error
}

// Memory builds and copies address spaces and gives access to physical
// frames holding trap frames.
type Memory interface {
	// FromImage builds a space from an executable image.
	FromImage(image []byte) (AddressSpace, Layout, error)
	// Duplicate deep-copies src; the copy shares no frames with it.
	Duplicate(src AddressSpace) (AddressSpace, error)
	// KernelToken identifies the kernel's own address space.
	KernelToken() uint64
	// TrapFrame returns the trap frame stored in the given frame.
	TrapFrame(ppn PhysPageNum) *trap.Frame
}

// TrapFramePPN resolves the frame holding the trap context of space.
func TrapFramePPN(space AddressSpace) (PhysPageNum, error) {
	ppn, ok := space.Translate(VirtAddr(TrapContext).Floor())
	if !ok {
		return 0, ErrNotMapped
	}
	return ppn, nil
}
