package sched

import "fmt"

// TaskID is a stable handle into the scheduler's task arena.
type TaskID int32

const (
	// NoTask is the unlinked value of every link field.
	NoTask TaskID = -1
	// Root is the sentinel record. It roots both rings and owns the
	// suspend-request queue; it is never scheduled or event-checked.
	Root TaskID = 0
)

// Tick is a value of the monotonic system tick counter.
type Tick uint64

// EventRef is an opaque event reference understood only by the EventSource.
type EventRef any

// WakeupSource records which event source made a task ready.
type WakeupSource int8

const (
	SourceNone WakeupSource = iota
	SourceEventRef
	SourceGeneric
	SourceTimeBase
)

func (s WakeupSource) String() string {
	switch s {
	case SourceNone:
		return "None"
	case SourceEventRef:
		return "EventRef"
	case SourceGeneric:
		return "Generic"
	case SourceTimeBase:
		return "TimeBase"
	default:
		return "Unknown"
	}
}

// WakeupMethod records how a task became ready.
type WakeupMethod int8

const (
	MethodNone         WakeupMethod = iota
	MethodFromWait                  // moved out of Standby
	MethodFromPrevious              // event already pending when it asked to sleep
)

func (m WakeupMethod) String() string {
	switch m {
	case MethodNone:
		return "None"
	case MethodFromWait:
		return "FromWait"
	case MethodFromPrevious:
		return "FromPrevious"
	default:
		return "Unknown"
	}
}

// Time base modes. Any positive mode is a period in ticks.
const (
	TimeBaseOff     = -1
	TimeBaseOneShot = 0
)

// DefaultTimeSlice is the slice counter and reload given to new tasks.
const DefaultTimeSlice = 10

// eventControl is the per-task event control block.
type eventControl struct {
	timeBaseMode     int
	timeBaseDeadline Tick
	wakeupRef        EventRef
	eventRefs        []EventRef
}

// task is one arena record.
//
// prev/next are the top-level neighbours in the priority ring, identical
// across every member of a slot. left/right thread the slot ring while
// Waiting and the flat ring while in Standby. A task with prev == NoTask is
// not Waiting; a task with left == NoTask is Dead.
type task struct {
	priority int

	prev, next  TaskID
	left, right TaskID

	msgHead, msgTail *carrier
	msgCount         int

	wakeupSource WakeupSource
	wakeupMethod WakeupMethod

	genericFlag bool
	genericInfo byte

	sliceCounter int
	sliceReload  int

	ecb eventControl

	inUse bool
}

func (t *task) unlink() {
	t.prev, t.next = NoTask, NoTask
	t.left, t.right = NoTask, NoTask
}

// State is the derived topology membership of a task.
type State int

const (
	StateDead State = iota
	StateStandby
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateDead:
		return "Dead"
	case StateStandby:
		return "Standby"
	case StateWaiting:
		return "Waiting"
	default:
		return "Unknown"
	}
}

// TaskInfo is a point-in-time copy of a task record.
type TaskInfo struct {
	ID           TaskID
	Priority     int
	State        State
	Running      bool
	WakeupSource WakeupSource
	WakeupMethod WakeupMethod
	WakeupRef    EventRef
	GenericFlag  bool
	GenericInfo  byte
	SliceCounter int
	SliceReload  int
	TimeBaseMode int
	Deadline     Tick
	Pending      int
}

func (i TaskInfo) String() string {
	return fmt.Sprintf("task %d prio=%d state=%s slice=%d/%d pending=%d",
		i.ID, i.Priority, i.State, i.SliceCounter, i.SliceReload, i.Pending)
}

// lookup returns the live record for id. Callers hold s.mu.
func (s *Scheduler) lookup(id TaskID) (*task, error) {
	if id <= Root || int(id) >= len(s.tasks) || !s.tasks[id].inUse {
		return nil, fmt.Errorf("task %d: %w", id, ErrUnknownTask)
	}
	return &s.tasks[id], nil
}

// NewTask creates a Dead task record with the given priority, a default
// time slice and its time base switched off.
func (s *Scheduler) NewTask(priority int) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id TaskID
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.tasks = append(s.tasks, task{})
		id = TaskID(len(s.tasks) - 1)
	}

	s.tasks[id] = task{
		priority:     priority,
		sliceCounter: s.defaultSlice,
		sliceReload:  s.defaultSlice,
		ecb:          eventControl{timeBaseMode: TimeBaseOff},
		inUse:        true,
	}
	s.tasks[id].unlink()
	return id
}

// DeleteTask removes the task from whichever ring it occupies, frees every
// pending message carrier, drops its queued suspend requests and releases
// its arena slot.
func (s *Scheduler) DeleteTask(id TaskID) error {
	s.mu.Lock()
	t, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !t.dead() {
		s.unregisterLocked(id)
	}
	for t.msgCount > 0 {
		s.dequeueLocked(id)
	}
	s.purgeRequestsLocked(id)
	*t = task{}
	t.unlink()
	if s.running == id {
		s.running = NoTask
	}
	s.free = append(s.free, id)
	s.mu.Unlock()

	s.flush()
	return nil
}

// SetPriority changes a task's priority. A Waiting task is re-inserted so it
// lands at the tail of its new slot.
func (s *Scheduler) SetPriority(id TaskID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	if t.notWaiting() {
		t.priority = priority
		return nil
	}
	s.priorityRemove(id)
	t.priority = priority
	s.priorityInsert(id)
	return nil
}

// SetTimeSlice sets the slice reload and restarts the counter. A reload of
// zero or less disables time slicing for the task.
func (s *Scheduler) SetTimeSlice(id TaskID, reload int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.sliceReload = reload
	t.sliceCounter = reload
	return nil
}

// SetEvents replaces the ordered list of event references polled for the task.
func (s *Scheduler) SetEvents(id TaskID, refs ...EventRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.ecb.eventRefs = append([]EventRef(nil), refs...)
	return nil
}

// SetTimeBase programs the time-base generator: TimeBaseOff disables it,
// TimeBaseOneShot fires once at deadline, a positive mode fires at deadline
// and then every mode ticks.
func (s *Scheduler) SetTimeBase(id TaskID, mode int, deadline Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	if mode < 0 {
		mode = TimeBaseOff
		deadline = 0
	}
	t.ecb.timeBaseMode = mode
	t.ecb.timeBaseDeadline = deadline
	return nil
}

// RaiseGeneric sets the one-shot generic event flag along with its info byte.
func (s *Scheduler) RaiseGeneric(id TaskID, info byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.genericInfo = info
	t.genericFlag = true
	return nil
}

// Info returns a copy of the task record.
func (s *Scheduler) Info(id TaskID) (TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id)
	if err != nil {
		return TaskInfo{}, err
	}
	info := TaskInfo{
		ID:           id,
		Priority:     t.priority,
		Running:      s.running == id,
		WakeupSource: t.wakeupSource,
		WakeupMethod: t.wakeupMethod,
		WakeupRef:    t.ecb.wakeupRef,
		GenericFlag:  t.genericFlag,
		GenericInfo:  t.genericInfo,
		SliceCounter: t.sliceCounter,
		SliceReload:  t.sliceReload,
		TimeBaseMode: t.ecb.timeBaseMode,
		Deadline:     t.ecb.timeBaseDeadline,
		Pending:      t.msgCount,
	}
	switch {
	case t.dead():
		info.State = StateDead
	case t.notWaiting():
		info.State = StateStandby
	default:
		info.State = StateWaiting
	}
	return info, nil
}
