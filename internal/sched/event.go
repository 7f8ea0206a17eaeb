package sched

// EventSource is the embedder's event system.
//
// Query is called with the scheduler's critical section held and must not
// call back into the Scheduler. Cycle is called once per Decide, after
// suspend requests are drained, and may batch-clear one-shot signals.
type EventSource interface {
	Query(ref EventRef) bool
	Cycle()
}

// EventFuncs adapts a pair of functions to EventSource. Nil fields behave as
// "never fires" and "no-op".
type EventFuncs struct {
	QueryFn func(ref EventRef) bool
	CycleFn func()
}

func (f EventFuncs) Query(ref EventRef) bool {
	if f.QueryFn == nil {
		return false
	}
	return f.QueryFn(ref)
}

func (f EventFuncs) Cycle() {
	if f.CycleFn != nil {
		f.CycleFn()
	}
}

// checkEvents evaluates the generic flag, the time-base generator and the
// event reference list, in that order. The first active source is recorded;
// the flag and the time base are serviced even when an earlier source fired.
// Expects s.mu to be held.
func (s *Scheduler) checkEvents(t *task, now Tick, events EventSource, preCheck bool) bool {
	active := false

	if t.genericFlag {
		t.genericFlag = false
		active = true
		t.wakeupSource = SourceGeneric
	}

	ecb := &t.ecb
	if ecb.timeBaseMode >= 0 && ecb.timeBaseDeadline <= now {
		if ecb.timeBaseMode == TimeBaseOneShot {
			ecb.timeBaseMode = TimeBaseOff
		} else {
			ecb.timeBaseDeadline = now + Tick(ecb.timeBaseMode)
		}
		if !active {
			active = true
			t.wakeupSource = SourceTimeBase
		}
	}

	if !active && events != nil {
		for _, ref := range ecb.eventRefs {
			if events.Query(ref) {
				active = true
				t.wakeupSource = SourceEventRef
				ecb.wakeupRef = ref
				break
			}
		}
	}

	switch {
	case !active:
		t.wakeupMethod = MethodNone
		t.wakeupSource = SourceNone
	case preCheck:
		t.wakeupMethod = MethodFromPrevious
	default:
		t.wakeupMethod = MethodFromWait
	}
	return active
}
