package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ktask/service/messaging/memory"
)

func TestService_Drain(t *testing.T) {
	srv, err := New(memory.NewQueue[Event[Lifecycle]](memory.DefaultConfig()), WithBootID("boot-1"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, srv.Publish(ctx, TypeCreated, 0, NoParent, Lifecycle{Name: "initproc"}))
	require.NoError(t, srv.Publish(ctx, TypeExited, 0, NoParent, Lifecycle{ExitCode: 3}))

	var got []*Event[Lifecycle]
	count := srv.Drain(func(e *Event[Lifecycle]) { got = append(got, e) })
	assert.Equal(t, 2, count)
	require.Len(t, got, 2)
	assert.Equal(t, &Context{BootID: "boot-1", Pid: 0, Parent: NoParent, EventType: TypeCreated}, got[0].Context)
	assert.Equal(t, "initproc", got[0].Data.Name)
	assert.EqualValues(t, 3, got[1].Data.ExitCode)
	assert.Equal(t, 0, srv.Drain(func(*Event[Lifecycle]) {}))
}

func TestService_SetListener(t *testing.T) {
	srv, err := New(memory.NewQueue[Event[Lifecycle]](memory.DefaultConfig()))
	require.NoError(t, err)

	var mux sync.Mutex
	var types []Type
	received := make(chan struct{}, 2)
	srv.SetListener(func(e *Event[Lifecycle]) {
		mux.Lock()
		types = append(types, e.Context.EventType)
		mux.Unlock()
		received <- struct{}{}
	})
	defer srv.Stop()

	ctx := context.Background()
	require.NoError(t, srv.Publish(ctx, TypeForked, 1, 0, Lifecycle{}))
	require.NoError(t, srv.Publish(ctx, TypeReaped, 1, 0, Lifecycle{}))
	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not receive events")
		}
	}
	mux.Lock()
	defer mux.Unlock()
	assert.Equal(t, []Type{TypeForked, TypeReaped}, types)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
