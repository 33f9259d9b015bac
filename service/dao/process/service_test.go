package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/pid"
	"github.com/viant/ktask/service/dao"
	"github.com/viant/ktask/sim/mem"
	"github.com/viant/ktask/task"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	env := &task.Env{Memory: mem.New(mem.Config{Frames: 128}), Pids: pid.NewAllocator(), TrapReturn: func() {}}
	table := New()

	parent, err := task.New(env, mem.BuildImage(0, []byte("parent")))
	require.NoError(t, err)
	child, err := parent.Fork()
	require.NoError(t, err)
	require.NoError(t, table.Insert(ctx, child))
	require.NoError(t, table.Insert(ctx, parent))
	assert.ErrorIs(t, table.Insert(ctx, parent), dao.ErrDuplicate)

	parent.With(func(inner *task.Inner) { inner.SetStatus(task.StatusRunning) })

	all, err := table.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*task.ControlBlock{parent, child}, all)

	running, err := table.List(ctx, ByStatus(task.StatusRunning))
	require.NoError(t, err)
	assert.Equal(t, []*task.ControlBlock{parent}, running)

	loaded, err := table.Load(ctx, child.Pid())
	require.NoError(t, err)
	assert.Same(t, child, loaded)
}
