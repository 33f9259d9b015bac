package ready

import "github.com/viant/ktask/task"

type entry struct {
	stride uint64
	seq    uint64
	task   *task.ControlBlock
}

// queue is a min-heap of ready tasks; it implements heap.Interface.
type queue []*entry

func (q queue) Len() int { return len(q) }

// Less selects the minimum stride; equal strides keep insertion order.
// The comparison is plain unsigned ordering with no wraparound handling.
func (q queue) Less(i, j int) bool {
	if q[i].stride != q[j].stride {
		return q[i].stride < q[j].stride
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
