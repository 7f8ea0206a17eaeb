// internal/sched/scheduler.go

package sched

import (
	"fmt"
	"sync"
)

// neverTick marks that no cycle has run yet, so the first cycle always
// counts as a tick advance.
const neverTick = ^Tick(0)

// Options wires the scheduler to its collaborators.
type Options struct {
	// Allocator backs message carriers. Nil means an unlimited HeapAllocator.
	Allocator Allocator
	// Observer receives status events outside the critical section. Optional.
	Observer func(StatusEvent)
	// TimeSlice is the slice reload given to new tasks. Zero means
	// DefaultTimeSlice; negative disables slicing for new tasks.
	TimeSlice int
}

// Scheduler is the symmetrical scheduling engine: the task arena, the dual
// Waiting/Standby rings, the per-task message queues and the decision state.
//
// mu plays the role of the interrupt mask. Exported methods take it; the
// unexported list and queue primitives expect it to be held.
type Scheduler struct {
	mu sync.Mutex

	tasks []task   // arena, tasks[Root] is the sentinel
	free  []TaskID // released arena slots

	alloc        Allocator
	observer     func(StatusEvent)
	pending      []StatusEvent
	defaultSlice int

	// decision state
	running  TaskID // currently dispatched member of the Waiting structure
	prevTime Tick   // timestamp of the previous cycle
	lock     int    // held while > 0

	// counters
	waitCount    int
	standbyCount int
	listOps      uint64
	msgOps       uint64
	cycles       uint64
}

// New creates a Scheduler whose Root record is self-looped in every link.
func New(opts Options) *Scheduler {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = NewHeapAllocator(0)
	}
	slice := opts.TimeSlice
	if slice == 0 {
		slice = DefaultTimeSlice
	}

	s := &Scheduler{
		tasks:        make([]task, 1, 16),
		alloc:        alloc,
		observer:     opts.Observer,
		defaultSlice: slice,
		running:      NoTask,
		prevTime:     neverTick,
	}
	root := &s.tasks[Root]
	root.prev, root.next = Root, Root
	root.left, root.right = Root, Root
	root.inUse = true
	root.ecb.timeBaseMode = TimeBaseOff
	return s
}

func (s *Scheduler) eventTick() Tick {
	if s.prevTime == neverTick {
		return 0
	}
	return s.prevTime
}

// Register moves a Dead task into Standby. A raised generic flag or a due
// time base will move it into Waiting on the next Decide.
func (s *Scheduler) Register(id TaskID) error {
	s.mu.Lock()
	t, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !t.dead() {
		s.mu.Unlock()
		return fmt.Errorf("register task %d: %w", id, ErrAlreadyRegistered)
	}
	s.standbyInsert(id)
	s.emit(StatusRegister, id, s.eventTick())
	s.mu.Unlock()

	s.flush()
	return nil
}

// Unregister removes a task from whichever structure it occupies.
func (s *Scheduler) Unregister(id TaskID) error {
	s.mu.Lock()
	t, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.dead() {
		s.mu.Unlock()
		return fmt.Errorf("unregister task %d: %w", id, ErrNotRegistered)
	}
	s.unregisterLocked(id)
	s.mu.Unlock()

	s.flush()
	return nil
}

func (s *Scheduler) unregisterLocked(id TaskID) {
	if s.tasks[id].notWaiting() {
		s.standbyRemove(id)
	} else {
		s.priorityRemove(id)
	}
	s.emit(StatusUnregister, id, s.eventTick())
}

// Lock pins the running task across cycles while the counter is positive.
func (s *Scheduler) Lock() {
	s.mu.Lock()
	s.lock++
	s.mu.Unlock()
}

// Unlock releases one Lock.
func (s *Scheduler) Unlock() {
	s.mu.Lock()
	s.lock--
	s.mu.Unlock()
}

// ForceClear drops every Lock. For emergency recovery only.
func (s *Scheduler) ForceClear() {
	s.mu.Lock()
	s.lock = 0
	s.mu.Unlock()
}

// Running returns the task selected by the last Decide, or NoTask.
func (s *Scheduler) Running() TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Decide runs one scheduling cycle and returns the task to switch to.
//
// The phases run strictly in order: Standby sweep, suspend-request drain,
// events.Cycle, time-slice accounting, selection. Each phase is its own
// critical section; drain and events.Cycle run outside it.
func (s *Scheduler) Decide(now Tick, events EventSource, drain Drainer) (TaskID, error) {
	defer s.flush()

	s.mu.Lock()
	s.cycles++
	s.sweepStandby(now, events)
	s.mu.Unlock()

	if drain != nil {
		for {
			id, recheck, ok := drain.Drain()
			if !ok {
				break
			}
			s.mu.Lock()
			s.handleSuspend(id, recheck, now, events)
			s.mu.Unlock()
		}
	}

	if events != nil {
		events.Cycle()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevRunning := s.running
	if s.running != NoTask && !s.tasks[s.running].dead() {
		if now != s.prevTime && s.sliceTick(&s.tasks[s.running]) {
			if !s.tasks[s.running].notWaiting() {
				s.priorityRotate(s.running)
				s.emit(StatusSlice, s.running, now)
			}
		}
	} else {
		s.lock = 0
	}
	s.prevTime = now

	if s.lock <= 0 {
		s.lock = 0
		s.running = s.priorityHead()
	}

	if s.running == NoTask {
		s.emit(StatusStarve, NoTask, now)
		return NoTask, fmt.Errorf("cycle %d at tick %d: %w", s.cycles, now, ErrStarvation)
	}
	if s.running != prevRunning {
		s.emit(StatusDispatch, s.running, now)
	}
	return s.running, nil
}

// sweepStandby moves every Standby task whose event fired into Waiting.
func (s *Scheduler) sweepStandby(now Tick, events EventSource) {
	id := s.standbyNext(NoTask)
	for id != NoTask {
		next := s.standbyNext(id)
		if s.checkEvents(&s.tasks[id], now, events, false) {
			s.standbyRemove(id)
			s.priorityInsert(id)
			s.emit(StatusWake, id, now)
		}
		id = next
	}
}

// handleSuspend services one drained suspend request.
func (s *Scheduler) handleSuspend(id TaskID, recheck bool, now Tick, events EventSource) {
	if id <= Root || int(id) >= len(s.tasks) || !s.tasks[id].inUse || s.tasks[id].notWaiting() {
		s.emit(StatusStale, id, now)
		return
	}
	if recheck && s.checkEvents(&s.tasks[id], now, events, true) {
		s.priorityRotate(id)
		s.emit(StatusRequeue, id, now)
		return
	}
	s.priorityRemove(id)
	s.standbyInsert(id)
	s.emit(StatusSleep, id, now)
}

// sliceTick charges one tick to the task and reports whether its slice ran
// out, reloading the counter when it did.
func (s *Scheduler) sliceTick(t *task) bool {
	if t.sliceReload <= 0 {
		return false
	}
	t.sliceCounter--
	if t.sliceCounter <= 0 {
		t.sliceCounter = t.sliceReload
		return true
	}
	return false
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Waiting    int
	Standby    int
	ListOps    uint64
	MessageOps uint64
	Cycles     uint64
	LockDepth  int
	Running    TaskID
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Waiting:    s.waitCount,
		Standby:    s.standbyCount,
		ListOps:    s.listOps,
		MessageOps: s.msgOps,
		Cycles:     s.cycles,
		LockDepth:  s.lock,
		Running:    s.running,
	}
}
