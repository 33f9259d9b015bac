package mem

import (
	"fmt"
	"math"

	"github.com/viant/ktask/mm"
)

type mapping struct {
	ppn  mm.PhysPageNum
	perm mm.Permission
}

// Space implements mm.AddressSpace.
type Space struct {
	memory   *Memory
	root     mm.PhysPageNum
	pages    map[mm.VirtPageNum]mapping
	recycled bool
}

var _ mm.AddressSpace = (*Space)(nil)

// Token returns the satp value activating the space.
func (s *Space) Token() uint64 { return satpMode | uint64(s.root) }

// Translate returns the frame backing vpn.
func (s *Space) Translate(vpn mm.VirtPageNum) (mm.PhysPageNum, bool) {
	s.memory.mu.Lock()
	defer s.memory.mu.Unlock()
	m, ok := s.pages[vpn]
	return m.ppn, ok
}

// Permission returns the permission of vpn.
func (s *Space) Permission(vpn mm.VirtPageNum) (mm.Permission, bool) {
	s.memory.mu.Lock()
	defer s.memory.mu.Unlock()
	m, ok := s.pages[vpn]
	return m.perm, ok
}

// Pages returns the number of mapped pages.
func (s *Space) Pages() int {
	s.memory.mu.Lock()
	defer s.memory.mu.Unlock()
	return len(s.pages)
}

// RecycleDataPages releases every frame of the space, its root included;
// the token stops resolving.
func (s *Space) RecycleDataPages() {
	s.memory.mu.Lock()
	defer s.memory.mu.Unlock()
	s.recycleLocked()
}

func (s *Space) recycleLocked() {
	m := s.memory
	if s.recycled {
		return
	}
	for vpn, page := range s.pages {
		delete(m.physical, page.ppn)
		m.frames.dealloc(page.ppn)
		delete(s.pages, vpn)
	}
	delete(m.spaces, s.Token())
	delete(m.physical, s.root)
	m.frames.dealloc(s.root)
	s.recycled = true
}

// pageRange returns the pages covering [start, start+length).
func pageRange(start mm.VirtAddr, length uint64) (mm.VirtPageNum, mm.VirtPageNum, error) {
	if !start.Aligned() {
		return 0, 0, mm.ErrUnaligned
	}
	if length > math.MaxUint64-uint64(start)-(mm.PageSize-1) {
		return 0, 0, fmt.Errorf("%w: %#x+%#x", mm.ErrRange, uint64(start), length)
	}
	return start.Floor(), mm.VirtAddr(uint64(start) + length).Ceil(), nil
}

// Mmap maps [start, start+length) rounded up to whole pages.
func (s *Space) Mmap(start mm.VirtAddr, length uint64, perm mm.Permission) error {
	from, end, err := pageRange(start, length)
	if err != nil {
		return err
	}
	s.memory.mu.Lock()
	for vpn := from; vpn < end; vpn++ {
		if _, ok := s.pages[vpn]; ok {
			s.memory.mu.Unlock()
			return fmt.Errorf("%w: page %#x", mm.ErrOverlap, uint64(vpn))
		}
	}
	s.memory.mu.Unlock()
	return s.mapRange(from, end, perm)
}

// Munmap unmaps [start, start+length) rounded up to whole pages.
func (s *Space) Munmap(start mm.VirtAddr, length uint64) error {
	from, end, err := pageRange(start, length)
	if err != nil {
		return err
	}
	m := s.memory
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn := from; vpn < end; vpn++ {
		if _, ok := s.pages[vpn]; !ok {
			return fmt.Errorf("%w: page %#x", mm.ErrNotMapped, uint64(vpn))
		}
	}
	s.unmapLocked(from, end)
	return nil
}

// mapRange maps [from, to) with fresh frames; on failure nothing stays
// mapped.
func (s *Space) mapRange(from, to mm.VirtPageNum, perm mm.Permission) error {
	m := s.memory
	m.mu.Lock()
	defer m.mu.Unlock()
	for vpn := from; vpn < to; vpn++ {
		ppn, ok := m.frames.alloc()
		if !ok {
			s.unmapLocked(from, vpn)
			return mm.ErrNoMemory
		}
		m.physical[ppn] = &frame{}
		s.pages[vpn] = mapping{ppn: ppn, perm: perm}
	}
	return nil
}

func (s *Space) unmapLocked(from, to mm.VirtPageNum) {
	m := s.memory
	for vpn := from; vpn < to; vpn++ {
		page := s.pages[vpn]
		delete(m.physical, page.ppn)
		m.frames.dealloc(page.ppn)
		delete(s.pages, vpn)
	}
}

func (s *Space) read(va mm.VirtAddr, dst []byte) error {
	m := s.memory
	m.mu.Lock()
	defer m.mu.Unlock()
	for done := 0; done < len(dst); {
		at := mm.VirtAddr(uint64(va) + uint64(done))
		page, ok := s.pages[at.Floor()]
		if !ok || page.perm&mm.PermU == 0 {
			return fmt.Errorf("%w: read at %#x", mm.ErrNotMapped, uint64(at))
		}
		done += copy(dst[done:], m.physical[page.ppn].data[at.PageOffset():])
	}
	return nil
}

func (s *Space) write(va mm.VirtAddr, src []byte, user bool) error {
	m := s.memory
	m.mu.Lock()
	defer m.mu.Unlock()
	for done := 0; done < len(src); {
		at := mm.VirtAddr(uint64(va) + uint64(done))
		page, ok := s.pages[at.Floor()]
		if !ok {
			return fmt.Errorf("%w: write at %#x", mm.ErrNotMapped, uint64(at))
		}
		if user && (page.perm&mm.PermU == 0 || page.perm&mm.PermW == 0) {
			return fmt.Errorf("%w: write at %#x", mm.ErrPermission, uint64(at))
		}
		done += copy(m.physical[page.ppn].data[at.PageOffset():], src[done:])
	}
	return nil
}
