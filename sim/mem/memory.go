// Package mem is an in-process implementation of the address-space manager.
//
// Physical memory is a pool of page-sized frames; an address space is a
// page map from virtual page to frame plus a root frame whose number forms the
// space's token. Nothing is shared between spaces except through Duplicate,
// which copies every frame.
package mem

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/viant/ktask/mm"
	"github.com/viant/ktask/trap"
)

// Image layout.
const (
	// Magic prefixes every executable image.
	Magic = "KTX1"
	// HeaderSize is the magic followed by a little-endian u32 entry offset.
	HeaderSize = 8
	// LoadBase is where the image body is mapped.
	LoadBase uint64 = 0x10000
	// satpMode marks an Sv39 token.
	satpMode uint64 = 8 << 60
)

// Config sizes the simulated physical memory.
type Config struct {
	Frames int `json:"frames" yaml:"frames"`
}

// DefaultConfig returns a memory large enough for a few dozen tasks.
func DefaultConfig() Config {
	return Config{Frames: 4096}
}

type frame struct {
	data [mm.PageSize]byte
	trap *trap.Frame
}

// Memory implements mm.Memory.
type Memory struct {
	mu       sync.Mutex
	frames   *frameAllocator
	physical map[mm.PhysPageNum]*frame
	spaces   map[uint64]*Space
	kernel   *Space
}

var _ mm.Memory = (*Memory)(nil)

// New creates a memory with the supplied number of frames.
func New(config Config) *Memory {
	if config.Frames <= 0 {
		config.Frames = DefaultConfig().Frames
	}
	ret := &Memory{
		frames:   newFrameAllocator(1, mm.PhysPageNum(config.Frames+1)),
		physical: map[mm.PhysPageNum]*frame{},
		spaces:   map[uint64]*Space{},
	}
	kernel, err := ret.newSpace()
	if err != nil {
		panic(fmt.Sprintf("mem: kernel space: %v", err))
	}
	ret.kernel = kernel
	return ret
}

// KernelToken returns the token of the kernel address space.
func (m *Memory) KernelToken() uint64 { return m.kernel.Token() }

// FreeFrames returns the number of frames not in use.
func (m *Memory) FreeFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames.available()
}

// FromImage builds a space from a KTX1 image: the body at LoadBase, a guard
// page, the user stack and the trap context page.
func (m *Memory) FromImage(image []byte) (mm.AddressSpace, mm.Layout, error) {
	if len(image) < HeaderSize || string(image[:4]) != Magic {
		return nil, mm.Layout{}, mm.ErrBadImage
	}
	body := image[HeaderSize:]
	entry := uint64(binary.LittleEndian.Uint32(image[4:HeaderSize]))
	if entry >= uint64(len(body)) {
		return nil, mm.Layout{}, fmt.Errorf("%w: entry %#x outside body of %d bytes", mm.ErrBadImage, entry, len(body))
	}
	space, err := m.newSpace()
	if err != nil {
		return nil, mm.Layout{}, err
	}
	bodyEnd := mm.VirtAddr(LoadBase + uint64(len(body)))
	if err = space.mapRange(mm.VirtAddr(LoadBase).Floor(), bodyEnd.Ceil(), mm.PermR|mm.PermW|mm.PermX|mm.PermU); err != nil {
		space.RecycleDataPages()
		return nil, mm.Layout{}, err
	}
	if err = space.write(mm.VirtAddr(LoadBase), body, false); err != nil {
		space.RecycleDataPages()
		return nil, mm.Layout{}, err
	}
	stackBottom := uint64(bodyEnd.Ceil().Addr()) + mm.PageSize
	stackTop := stackBottom + mm.UserStackSize
	if err = space.mapRange(mm.VirtAddr(stackBottom).Floor(), mm.VirtAddr(stackTop).Floor(), mm.PermR|mm.PermW|mm.PermU); err != nil {
		space.RecycleDataPages()
		return nil, mm.Layout{}, err
	}
	trapPage := mm.VirtAddr(mm.TrapContext).Floor()
	if err = space.mapRange(trapPage, trapPage+1, mm.PermR|mm.PermW); err != nil {
		space.RecycleDataPages()
		return nil, mm.Layout{}, err
	}
	return space, mm.Layout{UserSP: stackTop, Entry: LoadBase + entry}, nil
}

// Duplicate copies every page of src, trap context included, into fresh
// frames.
func (m *Memory) Duplicate(src mm.AddressSpace) (mm.AddressSpace, error) {
	parent, ok := src.(*Space)
	if !ok || parent.memory != m {
		return nil, fmt.Errorf("mem: foreign address space %T", src)
	}
	child, err := m.newSpace()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn, from := range parent.pages {
		ppn, ok := m.frames.alloc()
		if !ok {
			child.recycleLocked()
			return nil, mm.ErrNoMemory
		}
		src, dst := m.physical[from.ppn], &frame{}
		dst.data = src.data
		if src.trap != nil {
			copied := *src.trap
			dst.trap = &copied
		}
		m.physical[ppn] = dst
		child.pages[vpn] = mapping{ppn: ppn, perm: from.perm}
	}
	return child, nil
}

// TrapFrame returns the trap frame kept in ppn.
func (m *Memory) TrapFrame(ppn mm.PhysPageNum) *trap.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.physical[ppn]
	if !ok {
		panic(fmt.Sprintf("mem: frame %#x is not in use", uint64(ppn)))
	}
	if f.trap == nil {
		f.trap = &trap.Frame{}
	}
	return f.trap
}

// Space returns the live space identified by token.
func (m *Memory) Space(token uint64) (*Space, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret, ok := m.spaces[token]
	return ret, ok
}

// ReadUser copies len(dst) bytes of user memory at va in the space
// identified by token.
func (m *Memory) ReadUser(token uint64, va uint64, dst []byte) error {
	space, ok := m.Space(token)
	if !ok {
		return fmt.Errorf("mem: unknown token %#x", token)
	}
	return space.read(mm.VirtAddr(va), dst)
}

// WriteUser copies src into user memory at va in the space identified by
// token. Every touched page must be user writable.
func (m *Memory) WriteUser(token uint64, va uint64, src []byte) error {
	space, ok := m.Space(token)
	if !ok {
		return fmt.Errorf("mem: unknown token %#x", token)
	}
	return space.write(mm.VirtAddr(va), src, true)
}

func (m *Memory) newSpace() (*Space, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, ok := m.frames.alloc()
	if !ok {
		return nil, mm.ErrNoMemory
	}
	m.physical[root] = &frame{}
	ret := &Space{memory: m, root: root, pages: map[mm.VirtPageNum]mapping{}}
	m.spaces[ret.Token()] = ret
	return ret, nil
}

// BuildImage prefixes body with the image header.
func BuildImage(entry uint32, body []byte) []byte {
	ret := make([]byte, HeaderSize+len(body))
	copy(ret, Magic)
	binary.LittleEndian.PutUint32(ret[4:HeaderSize], entry)
	copy(ret[HeaderSize:], body)
	return ret
}
