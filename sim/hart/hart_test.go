package hart_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/ktask"
	"github.com/viant/ktask/internal/clock"
	"github.com/viant/ktask/loader"
	"github.com/viant/ktask/sim/asm"
	"github.com/viant/ktask/sim/hart"
	"github.com/viant/ktask/sim/mem"
)

// boot assembles apps, runs initproc until the kernel goes idle and returns
// the runtime with everything written to stdout.
func boot(t *testing.T, apps map[string]string, options ...hart.Option) (*ktask.Runtime, string) {
	ctx := context.Background()
	memory := mem.New(mem.Config{Frames: 1024})
	store := loader.New(afs.New(), "mem://localhost/hart_test/"+uuid.New().String())
	for name, source := range apps {
		image, err := asm.AssembleImage([]byte(source))
		require.NoError(t, err, name)
		require.NoError(t, store.Put(ctx, name, image))
	}
	stdout := &bytes.Buffer{}
	interpreter := hart.New(memory, append([]hart.Option{hart.WithStdout(stdout)}, options...)...)
	srv, err := ktask.New(ktask.WithMemory(memory), ktask.WithLoader(store), ktask.WithTrampoline(interpreter))
	require.NoError(t, err)
	rt := srv.Runtime()
	require.NoError(t, rt.AddInitProc(ctx))

	done := make(chan error, 1)
	go func() { done <- rt.RunUntilIdle(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not go idle")
	}
	return rt, stdout.String()
}

func TestHart_ExitCode(t *testing.T) {
	testCases := []struct {
		description string
		initproc    string
		apps        map[string]string
		expect      int32
	}{
		{description: "exit immediate", initproc: "exit 5", expect: 5},
		{description: "exit with a0", initproc: "li a0, 6\nexit", expect: 6},
		{description: "getpid of init", initproc: "getpid\naddi a0, a0, 40\nexit a0", expect: 40},
		{description: "load from unmapped page", initproc: "li t0, 0\nlw t1, t0, 0", expect: hart.ExitPageFault},
		{description: "store to unmapped page", initproc: "li t0, 0x20000000\nsd t0, t0, 0", expect: hart.ExitPageFault},
		{description: "fetch outside the image", initproc: "j 0x7000000", expect: hart.ExitPageFault},
		{description: "illegal instruction", initproc: "j data\ndata: .space 16", expect: hart.ExitIllegalInstruction},
		{description: "wait without children", initproc: "wait\nexit a0", expect: -1},
		{description: "priority below minimum", initproc: "setprio 1\nexit a0", expect: -1},
		{description: "priority accepted", initproc: "setprio 5\nexit a0", expect: 5},
		{description: "unknown syscall", initproc: "li a7, 9\necall\nexit a0", expect: -1},
		{description: "exec of missing app", initproc: "exec \"missing\"\nexit a0", expect: -1},
		{description: "spawn of missing app", initproc: "spawn \"missing\"\nexit a0", expect: -1},
		{
			description: "write to unknown fd",
			initproc:    "li a0, 2\nla a1, msg\nli a2, 2\nli a7, 64\necall\nexit a0\nmsg: .asciz \"hi\"",
			expect:      -1,
		},
		{
			description: "exec replaces the image",
			initproc:    "exec \"other\"\nexit 1",
			apps:        map[string]string{"other": "exit 11"},
			expect:      11,
		},
		{
			description: "mmap then store and load",
			initproc: `
				mmap 0x10000000, 4096, 3
				bnez a0, fail
				li t0, 0x10000000
				li t1, 77
				sd t1, t0, 8
				ld a0, t0, 8
				exit a0
			fail:
				exit 1
			`,
			expect: 77,
		},
		{
			description: "store after munmap",
			initproc: `
				mmap 0x10000000, 4096, 3
				munmap 0x10000000, 4096
				bnez a0, fail
				li t0, 0x10000000
				sd t0, t0, 0
			fail:
				exit 1
			`,
			expect: hart.ExitPageFault,
		},
		{
			description: "store to read-only mapping",
			initproc:    "mmap 0x10000000, 4096, 1\nli t0, 0x10000000\nsw t0, t0, 0\nexit 0",
			expect:      hart.ExitPageFault,
		},
		{
			description: "mmap with bad port",
			initproc:    "mmap 0x10000000, 4096, 0\nexit a0",
			expect:      -1,
		},
		{
			description: "task info status",
			initproc: `
				taskinfo info
				bnez a0, fail
				la t0, info
				lw a0, t0, 0
				exit a0
			fail:
				exit 99
			info: .space 2016
			`,
			expect: 2,
		},
		{
			description: "task info counts yields",
			initproc: `
				yield
				yield
				taskinfo info
				la t0, info
				lw a0, t0, 500
				exit a0
			info: .space 2016
			`,
			expect: 2,
		},
		{
			description: "task info counts itself",
			initproc:    "taskinfo info\nla t0, info\nlw a0, t0, 1644\nexit a0\ninfo: .space 2016",
			expect:      1,
		},
	}
	for _, testCase := range testCases {
		apps := map[string]string{"initproc": testCase.initproc}
		for name, source := range testCase.apps {
			apps[name] = source
		}
		rt, _ := boot(t, apps)
		assert.Equal(t, testCase.expect, rt.InitProc().ExitCode(), testCase.description)
	}
}

func TestHart_ForkWait(t *testing.T) {
	rt, stdout := boot(t, map[string]string{"initproc": `
	_start:
		fork
		beqz a0, child
	wait_loop:
		wait -1, status
		addi t0, a0, 2
		bnez t0, reaped
		yield
		j wait_loop
	reaped:
		la t1, status
		lw t2, t1, 0
		addi t2, t2, -7
		bnez t2, bad
		print "parent ok\n"
		exit 0
	bad:
		exit 1
	child:
		print "child\n"
		exit 7
	status: .space 8
	`})
	assert.Equal(t, "child\nparent ok\n", stdout)
	assert.EqualValues(t, 0, rt.InitProc().ExitCode())
}

func TestHart_SpawnExec(t *testing.T) {
	rt, stdout := boot(t, map[string]string{
		"initproc": `
			spawn "hello"
			bltz a0, bad
			mv s1, a0
		again:
			wait s1, code
			addi t0, a0, 2
			bnez t0, done
			yield
			j again
		done:
			la t1, code
			lw a0, t1, 0
			exit a0
		bad:
			exit 1
		code: .space 8
		`,
		"hello": `
			print "hello\n"
			exec "world"
			exit 1
		`,
		"world": `
			print "world\n"
			exit 3
		`,
	})
	assert.Equal(t, "hello\nworld\n", stdout)
	assert.EqualValues(t, 3, rt.InitProc().ExitCode())
}

func TestHart_TimeSlice(t *testing.T) {
	spinner := func(name string) string {
		return `
			print "` + name + `"
			li t0, 50
		loop:
			addi t0, t0, -1
			bnez t0, loop
			print "` + name + `"
			exit 0
		`
	}
	apps := map[string]string{
		"initproc": `
			spawn "a"
			spawn "b"
		reap:
			wait
			addi t0, a0, 1
			beqz t0, done
			yield
			j reap
		done:
			exit 0
		`,
		"a": spinner("a"),
		"b": spinner("b"),
	}
	testCases := []struct {
		description string
		timeSlice   int
		expect      string
	}{
		{description: "cooperative", expect: "aabb"},
		{description: "preemptive", timeSlice: 5, expect: "abab"},
	}
	for _, testCase := range testCases {
		_, stdout := boot(t, apps, hart.WithTimeSlice(testCase.timeSlice))
		assert.Equal(t, testCase.expect, stdout, testCase.description)
	}
}

func TestHart_GetTime(t *testing.T) {
	prev := clock.NowFunc
	clock.NowFunc = func() time.Time { return time.Unix(1234, 500_000_000) }
	defer func() { clock.NowFunc = prev }()

	rt, _ := boot(t, map[string]string{"initproc": `
		time tv
		bnez a0, fail
		la t0, tv
		ld t1, t0, 0
		ld t2, t0, 8
		li t3, 500000
		sub t2, t2, t3
		bnez t2, fail
		exit t1
	fail:
		exit -1
	tv: .space 16
	`})
	assert.EqualValues(t, 1234, rt.InitProc().ExitCode())
}

func TestHart_SyscallLog(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt, _ := boot(t, map[string]string{"initproc": "getpid\nli a7, 9\necall\nexit 0"}, hart.WithLogger(logger))
	assert.EqualValues(t, 0, rt.InitProc().ExitCode())
	assert.Contains(t, logs.String(), "name=getpid")
	assert.Contains(t, logs.String(), "name=exit")
	assert.Contains(t, logs.String(), `msg="unsupported syscall" pid=0 id=9`)
}
