// internal/sched/schedulerEvent.go

package sched

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusRegister   StatusKind = iota // Dead -> Standby
	StatusUnregister                   // back to Dead
	StatusWake                         // Standby -> Waiting
	StatusSleep                        // Waiting -> Standby on a suspend request
	StatusRequeue                      // suspend request found the event already pending
	StatusStale                        // suspend request for a task no longer Waiting
	StatusSlice                        // time slice used up, rotated in its slot
	StatusDispatch                     // a different task was selected
	StatusStarve                       // nothing to run
)

// StatusEvent is emitted on every topology change and selection change.
type StatusEvent struct {
	Tick     Tick
	Kind     StatusKind
	TaskID   TaskID
	Priority int
	Source   WakeupSource
	Method   WakeupMethod
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusRegister:
		return "Register"
	case StatusUnregister:
		return "Unregister"
	case StatusWake:
		return "Wake"
	case StatusSleep:
		return "Sleep"
	case StatusRequeue:
		return "Requeue"
	case StatusStale:
		return "Stale"
	case StatusSlice:
		return "Slice"
	case StatusDispatch:
		return "Dispatch"
	case StatusStarve:
		return "Starve"
	default:
		return "Unknown"
	}
}

// emit queues an event for delivery once the critical section is left.
// Expects s.mu to be held.
func (s *Scheduler) emit(kind StatusKind, id TaskID, now Tick) {
	if s.observer == nil {
		return
	}
	ev := StatusEvent{Tick: now, Kind: kind, TaskID: id}
	if id > Root && int(id) < len(s.tasks) {
		t := &s.tasks[id]
		ev.Priority = t.priority
		ev.Source = t.wakeupSource
		ev.Method = t.wakeupMethod
	}
	s.pending = append(s.pending, ev)
}

// flush delivers queued events to the observer outside the critical section.
func (s *Scheduler) flush() {
	if s.observer == nil {
		return
	}
	s.mu.Lock()
	evs := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range evs {
		s.observer(ev)
	}
}
