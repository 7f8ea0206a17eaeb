package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symsched/internal/event"
	"symsched/internal/sched"
)

func runWithTimeout(t *testing.T, k *Kernel) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := k.Run(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "kernel did not finish")
	return code, err
}

func TestRunReturnsTaskCode(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)
	_, err = k.Spawn(TaskSpec{Name: "main", Priority: 0, Start: true}, func(tc *TaskContext) {
		tc.Return(7)
	})
	require.NoError(t, err)

	code, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Empty(t, k.Tasks(), "shutdown deletes every task")
}

func TestEntryIsReenteredWithCounter(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)
	var seen []uint32
	_, err = k.Spawn(TaskSpec{Name: "loop", Start: true, Args: [2]int{4, 9}}, func(tc *TaskContext) {
		a, b := tc.Args()
		require.Equal(t, 4, a)
		require.Equal(t, 9, b)
		seen = append(seen, tc.Counter())
		if tc.Counter() == 3 {
			tc.Return(int(tc.Counter()))
		}
	})
	require.NoError(t, err)

	code, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, []uint32{0, 1, 2, 3}, seen)
}

func TestPeriodicTaskWakesOnTimeBase(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)
	var stamps []sched.Tick
	_, err = k.Spawn(TaskSpec{Name: "periodic", Priority: 1, Start: true}, func(tc *TaskContext) {
		if tc.Counter() == 0 {
			tc.SetPeriod(5)
		}
		stamps = append(stamps, tc.Now())
		if len(stamps) == 4 {
			tc.Return(0)
		}
		require.NoError(t, tc.Suspend())
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, []sched.Tick{0, 5, 10, 15}, stamps)
}

func TestSleepDelaysTask(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)
	var stamps []sched.Tick
	_, err = k.Spawn(TaskSpec{Name: "sleeper", Priority: 1, Start: true}, func(tc *TaskContext) {
		stamps = append(stamps, tc.Now())
		if len(stamps) == 3 {
			tc.Return(0)
		}
		require.NoError(t, tc.Sleep(3))
		info := tc.Info()
		require.Equal(t, sched.SourceTimeBase, info.WakeupSource)
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, []sched.Tick{0, 3, 6}, stamps)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)
	var order []string
	record := func(name string) Entry {
		return func(tc *TaskContext) {
			order = append(order, name)
			require.NoError(t, tc.Suspend())
		}
	}
	_, err = k.Spawn(TaskSpec{Name: "low", Priority: 5, Start: true}, record("low"))
	require.NoError(t, err)
	_, err = k.Spawn(TaskSpec{Name: "high", Priority: 1, Start: true}, record("high"))
	require.NoError(t, err)
	_, err = k.Spawn(TaskSpec{Name: "stop", Priority: 50, Start: true}, func(tc *TaskContext) {
		tc.Return(0)
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestMessagesAndGenericEvents(t *testing.T) {
	k, err := New(Options{})
	require.NoError(t, err)

	var got []int
	consumer, err := k.Spawn(TaskSpec{Name: "consumer", Priority: 1}, func(tc *TaskContext) {
		require.Equal(t, byte(0xAB), tc.Info().GenericInfo)
		for {
			msg, ok := tc.Receive()
			if !ok {
				break
			}
			got = append(got, msg.Source)
		}
		if len(got) == 3 {
			tc.Return(len(got))
		}
		require.NoError(t, tc.Suspend())
	})
	require.NoError(t, err)

	_, err = k.Spawn(TaskSpec{Name: "producer", Priority: 2, Start: true}, func(tc *TaskContext) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, tc.Send(consumer, sched.Message{Source: i}))
		}
		require.Equal(t, 3, k.Scheduler().Pending(consumer))
		require.NoError(t, tc.Raise(consumer, 0xAB))
		require.NoError(t, tc.Suspend())
	})
	require.NoError(t, err)

	code, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestEventBoardWakesTask(t *testing.T) {
	board := event.NewBoard()
	k, err := New(Options{Events: board, IdleHook: func() { board.Pulse("irq") }})
	require.NoError(t, err)

	_, err = k.Spawn(TaskSpec{Name: "handler", Priority: 1, Events: []sched.EventRef{"irq"}}, func(tc *TaskContext) {
		info := tc.Info()
		require.Equal(t, sched.SourceEventRef, info.WakeupSource)
		require.Equal(t, "irq", info.WakeupRef)
		tc.Return(1)
	})
	require.NoError(t, err)

	code, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestStarvationHaltsRun(t *testing.T) {
	k, err := New(Options{NoIdle: true})
	require.NoError(t, err)
	_, err = k.Spawn(TaskSpec{Name: "only", Start: true}, func(tc *TaskContext) {
		require.NoError(t, tc.Suspend())
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	assert.True(t, errors.Is(err, sched.ErrStarvation))
}

func TestSelfDelete(t *testing.T) {
	alloc := sched.NewHeapAllocator(0)
	k, err := New(Options{Allocator: alloc})
	require.NoError(t, err)

	doomed, err := k.Spawn(TaskSpec{Name: "doomed", Priority: 1, Start: true}, func(tc *TaskContext) {
		require.NoError(t, tc.Send(tc.Self(), sched.Message{Source: 1}))
		tc.Delete()
		t.Error("Delete returned")
	})
	require.NoError(t, err)

	_, err = k.Spawn(TaskSpec{Name: "check", Priority: 2, Start: true}, func(tc *TaskContext) {
		assert.NotContains(t, k.Tasks(), doomed)
		_, err := k.Scheduler().Info(doomed)
		assert.True(t, errors.Is(err, sched.ErrUnknownTask))
		tc.Return(0)
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, int64(0), alloc.Outstanding(), "stacks and carriers released")
}

func TestSpawnStackAllocationFailure(t *testing.T) {
	alloc := sched.NewHeapAllocator(DefaultStackSize)
	k, err := New(Options{Allocator: alloc})
	require.NoError(t, err)

	_, err = k.Spawn(TaskSpec{Name: "big"}, func(tc *TaskContext) {})
	require.Error(t, err)
	assert.Equal(t, int64(1), alloc.Outstanding(), "only the idle stack")
	assert.Len(t, k.Tasks(), 1)
}

func TestContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cycles := 0
	k, err := New(Options{IdleHook: func() {
		cycles++
		if cycles == 10 {
			cancel()
		}
	}})
	require.NoError(t, err)

	_, err = k.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = k.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestLockKeepsTaskSelected(t *testing.T) {
	k, err := New(Options{TimeSlice: 1})
	require.NoError(t, err)

	var order []string
	_, err = k.Spawn(TaskSpec{Name: "a", Priority: 1, Start: true}, func(tc *TaskContext) {
		order = append(order, "a")
		if tc.Counter() == 0 {
			tc.Lock()
		}
		if tc.Counter() == 2 {
			tc.Unlock()
		}
		tc.Yield()
	})
	require.NoError(t, err)
	_, err = k.Spawn(TaskSpec{Name: "b", Priority: 1, Start: true}, func(tc *TaskContext) {
		order = append(order, "b")
		tc.Return(0)
	})
	require.NoError(t, err)

	_, err = runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "a", "b"}, order)
}

func TestUnregisterEventsCarryTaskName(t *testing.T) {
	var (
		k     *Kernel
		mu    sync.Mutex
		names []string
	)
	k, err := New(Options{Observer: func(ev sched.StatusEvent) {
		if ev.Kind != sched.StatusUnregister {
			return
		}
		mu.Lock()
		names = append(names, k.Name(ev.TaskID))
		mu.Unlock()
	}})
	require.NoError(t, err)

	worker, err := k.Spawn(TaskSpec{Name: "worker", Priority: 1}, func(tc *TaskContext) { tc.Yield() })
	require.NoError(t, err)
	require.NoError(t, k.Delete(worker))
	assert.ErrorIs(t, k.Delete(worker), sched.ErrUnknownTask)

	_, err = k.Spawn(TaskSpec{Name: "main", Priority: 1, Start: true}, func(tc *TaskContext) {
		tc.Return(0)
	})
	require.NoError(t, err)
	_, err = runWithTimeout(t, k)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"worker", "idle", "main"}, names)
}
