package mem

import (
	"fmt"

	"github.com/viant/ktask/mm"
)

// frameAllocator hands out physical frames, reusing released ones first.
type frameAllocator struct {
	current  mm.PhysPageNum
	end      mm.PhysPageNum
	recycled []mm.PhysPageNum
	free     map[mm.PhysPageNum]bool
}

func newFrameAllocator(start, end mm.PhysPageNum) *frameAllocator {
	return &frameAllocator{current: start, end: end, free: map[mm.PhysPageNum]bool{}}
}

func (a *frameAllocator) alloc() (mm.PhysPageNum, bool) {
	if n := len(a.recycled); n > 0 {
		ppn := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		delete(a.free, ppn)
		return ppn, true
	}
	if a.current == a.end {
		return 0, false
	}
	ppn := a.current
	a.current++
	return ppn, true
}

func (a *frameAllocator) dealloc(ppn mm.PhysPageNum) {
	if ppn >= a.current || a.free[ppn] {
		panic(fmt.Sprintf("mem: frame %#x has not been allocated", uint64(ppn)))
	}
	a.free[ppn] = true
	a.recycled = append(a.recycled, ppn)
}

func (a *frameAllocator) available() int {
	return int(a.end-a.current) + len(a.recycled)
}
