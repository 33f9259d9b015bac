package mem

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/mm"
)

func TestMemory_FromImage(t *testing.T) {
	testCases := []struct {
		name      string
		image     []byte
		expectErr error
		entry     uint64
	}{
		{name: "valid", image: BuildImage(4, []byte("abcdefgh")), entry: LoadBase + 4},
		{name: "bad magic", image: []byte("ELF\x7f0000body"), expectErr: mm.ErrBadImage},
		{name: "short", image: []byte("KTX"), expectErr: mm.ErrBadImage},
		{name: "entry outside", image: BuildImage(64, []byte("abc")), expectErr: mm.ErrBadImage},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			memory := New(Config{Frames: 64})
			space, layout, err := memory.FromImage(tc.image)
			if tc.expectErr != nil {
				assert.True(t, errors.Is(err, tc.expectErr), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.entry, layout.Entry)
			assert.Equal(t, LoadBase+2*mm.PageSize+mm.UserStackSize, layout.UserSP)

			ppn, err := mm.TrapFramePPN(space)
			require.NoError(t, err)
			memory.TrapFrame(ppn).Sepc = layout.Entry
			assert.Equal(t, layout.Entry, memory.TrapFrame(ppn).Sepc)

			buf := make([]byte, 8)
			require.NoError(t, memory.ReadUser(space.Token(), LoadBase, buf))
			assert.Equal(t, "abcdefgh", string(buf))
		})
	}
}

func TestMemory_Duplicate(t *testing.T) {
	memory := New(Config{Frames: 64})
	parent, layout, err := memory.FromImage(BuildImage(0, []byte("parent")))
	require.NoError(t, err)
	parentTrap, _ := mm.TrapFramePPN(parent)
	memory.TrapFrame(parentTrap).X[10] = 7

	child, err := memory.Duplicate(parent)
	require.NoError(t, err)
	assert.NotEqual(t, parent.Token(), child.Token())

	childTrap, _ := mm.TrapFramePPN(child)
	assert.NotEqual(t, parentTrap, childTrap)
	assert.EqualValues(t, 7, memory.TrapFrame(childTrap).X[10])

	require.NoError(t, memory.WriteUser(child.Token(), layout.UserSP-8, []byte("childmem")))
	got := make([]byte, 8)
	require.NoError(t, memory.ReadUser(parent.Token(), layout.UserSP-8, got))
	assert.Equal(t, make([]byte, 8), got, "parent stack untouched by child write")
}

func TestSpace_MmapMunmap(t *testing.T) {
	memory := New(Config{Frames: 64})
	space, _, err := memory.FromImage(BuildImage(0, []byte("x")))
	require.NoError(t, err)
	const start = 0x1000_0000

	assert.ErrorIs(t, space.Mmap(start+1, mm.PageSize, mm.PermR|mm.PermU), mm.ErrUnaligned)
	require.NoError(t, space.Mmap(start, mm.PageSize+1, mm.PermR|mm.PermW|mm.PermU))
	assert.ErrorIs(t, space.Mmap(start+mm.PageSize, mm.PageSize, mm.PermR|mm.PermU), mm.ErrOverlap)

	require.NoError(t, memory.WriteUser(space.Token(), start+mm.PageSize, []byte{1, 2, 3}))

	assert.ErrorIs(t, space.Munmap(start, 3*mm.PageSize), mm.ErrNotMapped)
	require.NoError(t, space.Munmap(start, 2*mm.PageSize))
	assert.Error(t, memory.WriteUser(space.Token(), start, []byte{1}))
}

func TestSpace_MmapRange(t *testing.T) {
	memory := New(Config{Frames: 16})
	space, _, err := memory.FromImage(BuildImage(0, []byte("x")))
	require.NoError(t, err)
	pages := space.(*Space).Pages()
	free := memory.FreeFrames()

	testCases := []struct {
		description string
		start       mm.VirtAddr
		length      uint64
		expect      error
	}{
		{description: "length wraps the address space", start: 0x1000_0000, length: math.MaxUint64 - 0x100, expect: mm.ErrRange},
		{description: "last page wraps on rounding", start: math.MaxUint64 - mm.PageSize + 1, length: 1, expect: mm.ErrRange},
		{description: "more pages than frames", start: 0x1000_0000, length: uint64(free+1) * mm.PageSize, expect: mm.ErrNoMemory},
	}
	for _, testCase := range testCases {
		err := space.Mmap(testCase.start, testCase.length, mm.PermR|mm.PermU)
		assert.ErrorIs(t, err, testCase.expect, testCase.description)
		assert.Equal(t, pages, space.(*Space).Pages(), testCase.description)
		assert.Equal(t, free, memory.FreeFrames(), testCase.description)
	}
	assert.ErrorIs(t, space.Munmap(0x1000_0000, math.MaxUint64), mm.ErrRange)

	require.NoError(t, space.Mmap(0x1000_0000, uint64(free)*mm.PageSize, mm.PermR|mm.PermU), "frames were returned")
}

func TestSpace_RecycleDataPages(t *testing.T) {
	memory := New(Config{Frames: 64})
	before := memory.FreeFrames()
	space, _, err := memory.FromImage(BuildImage(0, make([]byte, 3*mm.PageSize)))
	require.NoError(t, err)
	assert.Less(t, memory.FreeFrames(), before)

	space.RecycleDataPages()
	space.RecycleDataPages()
	assert.Equal(t, before, memory.FreeFrames())
	_, ok := memory.Space(space.Token())
	assert.False(t, ok)
}

func TestMemory_OutOfFrames(t *testing.T) {
	memory := New(Config{Frames: 4})
	_, _, err := memory.FromImage(BuildImage(0, make([]byte, 8*mm.PageSize)))
	assert.ErrorIs(t, err, mm.ErrNoMemory)
	assert.Equal(t, 3, memory.FreeFrames())
}
