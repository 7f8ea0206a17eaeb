package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	fired   map[EventRef]bool
	queried []EventRef
	cycles  int
}

func (f *fakeEvents) Query(ref EventRef) bool {
	f.queried = append(f.queried, ref)
	return f.fired[ref]
}

func (f *fakeEvents) Cycle() { f.cycles++ }

func check(s *Scheduler, id TaskID, now Tick, ev EventSource, pre bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkEvents(&s.tasks[id], now, ev, pre)
}

func TestCheckEventsGenericTakesPrecedenceButTimeBaseIsServiced(t *testing.T) {
	s := New(Options{})
	id := s.NewTask(1)
	require.NoError(t, s.RaiseGeneric(id, 3))
	require.NoError(t, s.SetTimeBase(id, TimeBaseOneShot, 5))
	require.NoError(t, s.SetEvents(id, "a"))
	ev := &fakeEvents{fired: map[EventRef]bool{"a": true}}

	assert.True(t, check(s, id, 5, ev, false))
	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, SourceGeneric, info.WakeupSource)
	assert.Equal(t, MethodFromWait, info.WakeupMethod)
	assert.Equal(t, TimeBaseOff, info.TimeBaseMode, "one-shot disarmed")
	assert.Empty(t, ev.queried, "event list skipped once active")
}

func TestCheckEventsPeriodicTimeBase(t *testing.T) {
	s := New(Options{})
	id := s.NewTask(1)
	require.NoError(t, s.SetTimeBase(id, 4, 10))

	assert.False(t, check(s, id, 9, nil, false))
	assert.True(t, check(s, id, 12, nil, true))

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, SourceTimeBase, info.WakeupSource)
	assert.Equal(t, MethodFromPrevious, info.WakeupMethod)
	assert.Equal(t, 4, info.TimeBaseMode)
	assert.Equal(t, Tick(16), info.Deadline)
}

func TestCheckEventsStopsAtFirstFiringReference(t *testing.T) {
	s := New(Options{})
	id := s.NewTask(1)
	require.NoError(t, s.SetEvents(id, "x", "y", "z"))
	ev := &fakeEvents{fired: map[EventRef]bool{"y": true, "z": true}}

	assert.True(t, check(s, id, 0, ev, false))
	assert.Equal(t, []EventRef{"x", "y"}, ev.queried)

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, SourceEventRef, info.WakeupSource)
	assert.Equal(t, "y", info.WakeupRef)
}

func TestCheckEventsInactiveResetsWakeupFields(t *testing.T) {
	s := New(Options{})
	id := s.NewTask(1)
	require.NoError(t, s.RaiseGeneric(id, 0))
	require.True(t, check(s, id, 0, nil, false))

	assert.False(t, check(s, id, 1, EventFuncs{}, false))
	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, SourceNone, info.WakeupSource)
	assert.Equal(t, MethodNone, info.WakeupMethod)
}

func TestDecideCallsCycleOnceAfterDrain(t *testing.T) {
	s := New(Options{})
	idle := s.NewTask(9)
	require.NoError(t, s.Register(idle))
	require.NoError(t, s.RaiseGeneric(idle, 0))

	ev := &fakeEvents{}
	drained := 0
	drain := DrainFunc(func() (TaskID, bool, bool) {
		assert.Equal(t, 0, ev.cycles, "drain runs before Cycle")
		drained++
		return NoTask, false, false
	})

	_, err := s.Decide(0, ev, drain)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.cycles)
	assert.Equal(t, 1, drained)
}

func TestEventRefWakesStandbyTask(t *testing.T) {
	s := New(Options{})
	idle := s.NewTask(9)
	id := s.NewTask(1)
	require.NoError(t, s.Register(idle))
	require.NoError(t, s.Register(id))
	require.NoError(t, s.RaiseGeneric(idle, 0))
	require.NoError(t, s.SetEvents(id, 42))

	ev := &fakeEvents{fired: map[EventRef]bool{}}
	got, err := s.Decide(0, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, idle, got)

	ev.fired[42] = true
	got, err = s.Decide(1, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
