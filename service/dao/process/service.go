// Package process provides the process table: every registered task keyed by
// pid. List accepts a "Status" parameter (see task.Status.String).
package process

import (
	"github.com/viant/ktask/service/dao"
	"github.com/viant/ktask/service/dao/criteria"
	"github.com/viant/ktask/service/dao/store"
	"github.com/viant/ktask/task"
)

// StatusParameter filters List by task status.
const StatusParameter = "Status"

// Service is the in-memory process table.
type Service = store.MemoryStore[int, task.ControlBlock]

var _ dao.Service[int, task.ControlBlock] = (*Service)(nil)

// New creates an empty process table ordered by pid.
func New() *Service {
	return store.NewMemoryStore[int, task.ControlBlock](
		func(t *task.ControlBlock) int { return t.Pid() },
		store.WithFilter[int, task.ControlBlock](func(t *task.ControlBlock, parameters []*dao.Parameter) bool {
			return criteria.Match(StatusParameter, t.Status().String(), parameters)
		}),
		store.WithOrder[int, task.ControlBlock](func(a, b int) bool { return a < b }),
	)
}

// ByStatus returns a List parameter matching any of statuses.
func ByStatus(statuses ...task.Status) *dao.Parameter {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, status.String())
	}
	return &dao.Parameter{Name: StatusParameter, Value: values}
}
