package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symsched/internal/event"
	"symsched/internal/kernel"
	"symsched/internal/sched"
	"symsched/internal/trace"
)

type harness struct {
	k   *kernel.Kernel
	rec *trace.Recorder
}

func newHarness(t *testing.T, opts kernel.Options) *harness {
	t.Helper()
	h := &harness{}
	h.rec = trace.NewRecorder(func(id sched.TaskID) string {
		if h.k == nil {
			return ""
		}
		return h.k.Name(id)
	}, nil, nil)
	opts.Observer = h.rec.Observe
	k, err := kernel.New(opts)
	require.NoError(t, err)
	h.k = k
	return h
}

func (h *harness) spawn(t *testing.T, spec kernel.TaskSpec, entry kernel.Entry) sched.TaskID {
	t.Helper()
	id, err := h.k.Spawn(spec, entry)
	require.NoError(t, err)
	return id
}

func (h *harness) run(t *testing.T, ticks int) {
	t.Helper()
	h.spawn(t, kernel.TaskSpec{Name: "supervisor", Priority: 0, Start: true}, Supervisor(ticks))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := h.k.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, code)
}

func (h *harness) totals(id sched.TaskID) trace.Totals {
	for _, tt := range h.rec.Summary() {
		if tt.TaskID == id {
			return tt
		}
	}
	return trace.Totals{TaskID: id}
}

func TestProducerFeedsConsumer(t *testing.T) {
	h := newHarness(t, kernel.Options{})

	var got []uint32
	consumer := h.spawn(t, kernel.TaskSpec{Name: "sink", Priority: 1}, Consumer(func(m sched.Message) {
		got = append(got, m.Command)
	}))
	h.spawn(t, kernel.TaskSpec{Name: "source", Priority: 2, Start: true},
		Producer(func() sched.TaskID { return consumer }, 2))

	h.run(t, 20)

	require.GreaterOrEqual(t, len(got), 5)
	for i, cmd := range got {
		assert.Equal(t, uint32(i), cmd, "messages arrive in order")
	}
	assert.GreaterOrEqual(t, h.totals(consumer).Wakes, 5)
}

func TestPeriodicWakesOnItsTimeBase(t *testing.T) {
	h := newHarness(t, kernel.Options{})
	id := h.spawn(t, kernel.TaskSpec{Name: "sensor", Priority: 1, Start: true}, Periodic(5, 1))

	h.run(t, 30)

	tt := h.totals(id)
	assert.GreaterOrEqual(t, tt.Wakes, 6, "start plus one wake per period")
	assert.GreaterOrEqual(t, tt.Sleeps, 5)
}

func TestBusyTasksShareBySlicing(t *testing.T) {
	h := newHarness(t, kernel.Options{TimeSlice: 2})
	a := h.spawn(t, kernel.TaskSpec{Name: "a", Priority: 3, Start: true}, Busy())
	b := h.spawn(t, kernel.TaskSpec{Name: "b", Priority: 3, Start: true}, Busy())

	h.run(t, 20)

	assert.Greater(t, h.totals(a).Slices, 0)
	assert.Greater(t, h.totals(b).Slices, 0)
	assert.Greater(t, h.totals(a).Dispatches, 1)
	assert.Greater(t, h.totals(b).Dispatches, 1)
}

func TestCriticalReleasesLock(t *testing.T) {
	h := newHarness(t, kernel.Options{})
	id := h.spawn(t, kernel.TaskSpec{Name: "crit", Priority: 2, Start: true}, Critical(3, 4))

	h.run(t, 25)

	assert.GreaterOrEqual(t, h.totals(id).Wakes, 2)
	assert.Equal(t, 0, h.k.Scheduler().Stats().LockDepth)
}

func TestWaiterWakesOnPulse(t *testing.T) {
	board := event.NewBoard()
	cycles := 0
	h := newHarness(t, kernel.Options{Events: board, IdleHook: func() {
		cycles++
		if cycles%3 == 0 {
			board.Pulse("irq")
		}
	}})
	id := h.spawn(t, kernel.TaskSpec{Name: "handler", Priority: 1, Events: []sched.EventRef{"irq"}}, Waiter(0))

	h.run(t, 30)

	assert.GreaterOrEqual(t, h.totals(id).Wakes, 2)
	assert.Positive(t, board.Queries())
}
