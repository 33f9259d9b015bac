package task

import (
	"encoding/binary"
	"fmt"

	"github.com/viant/ktask/abi"
)

// TaskInfo is the snapshot returned by the task-info syscall.
type TaskInfo struct {
	Status       Status
	SyscallTimes [abi.MaxSyscallNum]uint32
	// Time is milliseconds since first dispatch.
	Time uint64
}

// Binary layout of TaskInfo, little endian with natural alignment.
const (
	infoStatusOffset = 0
	infoTimesOffset  = 4
	infoTimeOffset   = 2008
	// TaskInfoSize is the encoded size of TaskInfo.
	TaskInfoSize = 2016
)

// MarshalBinary encodes the fixed user-visible layout.
func (t *TaskInfo) MarshalBinary() ([]byte, error) {
	ret := make([]byte, TaskInfoSize)
	binary.LittleEndian.PutUint32(ret[infoStatusOffset:], uint32(t.Status))
	for i, count := range t.SyscallTimes {
		binary.LittleEndian.PutUint32(ret[infoTimesOffset+4*i:], count)
	}
	binary.LittleEndian.PutUint64(ret[infoTimeOffset:], t.Time)
	return ret, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (t *TaskInfo) UnmarshalBinary(data []byte) error {
	if len(data) < TaskInfoSize {
		return fmt.Errorf("task: task info needs %d bytes, got %d", TaskInfoSize, len(data))
	}
	t.Status = Status(binary.LittleEndian.Uint32(data[infoStatusOffset:]))
	for i := range t.SyscallTimes {
		t.SyscallTimes[i] = binary.LittleEndian.Uint32(data[infoTimesOffset+4*i:])
	}
	t.Time = binary.LittleEndian.Uint64(data[infoTimeOffset:])
	return nil
}
