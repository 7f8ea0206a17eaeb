package kernel

import (
	"runtime"
	"sync"

	"symsched/internal/sched"
)

// Entry is a task body. When it returns it is entered again with the loop
// counter incremented, so a task never falls off its own end.
type Entry func(tc *TaskContext)

type handoffKind int

const (
	handoffYield handoffKind = iota
	handoffReturn
)

// handoff is what a fiber passes back to the scheduler thread when it gives
// up the processor.
type handoff struct {
	kind handoffKind
	from sched.TaskID
	code int
}

// fiber is a goroutine-backed execution context. At most one fiber runs at a
// time; all others are parked on resume.
type fiber struct {
	id      sched.TaskID
	name    string
	entry   Entry
	args    [2]int
	stack   uintptr
	counter uint32

	resume   chan struct{}
	kill     chan struct{}
	exited   chan struct{}
	killOnce sync.Once

	discardOnce sync.Once
}

func newFiber(id sched.TaskID, name string, stack uintptr, args [2]int, entry Entry) *fiber {
	return &fiber{
		id:     id,
		name:   name,
		entry:  entry,
		args:   args,
		stack:  stack,
		resume: make(chan struct{}),
		kill:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// park blocks until the fiber is switched to. It reports false once the
// fiber has been killed.
func (f *fiber) park() bool {
	select {
	case <-f.resume:
		return true
	case <-f.kill:
		return false
	}
}

func (f *fiber) stop() {
	f.killOnce.Do(func() { close(f.kill) })
}

func (k *Kernel) runFiber(f *fiber) {
	defer close(f.exited)
	if !f.park() {
		return
	}
	tc := &TaskContext{k: k, f: f}
	for {
		f.entry(tc)
		f.counter++
	}
}

// switchTo hands the processor to f and blocks until it gives it back.
func (k *Kernel) switchTo(f *fiber, done <-chan struct{}) (handoff, bool) {
	select {
	case f.resume <- struct{}{}:
	case <-f.exited:
		return handoff{}, false
	case <-done:
		return handoff{}, false
	}
	select {
	case h := <-k.back:
		return h, true
	case <-done:
		return handoff{}, false
	}
}

// giveBack is called on the fiber's own goroutine. It returns once the
// scheduler switches back, or ends the goroutine if the fiber was killed.
func (tc *TaskContext) giveBack(h handoff) {
	h.from = tc.f.id
	tc.k.back <- h
	if !tc.f.park() {
		runtime.Goexit()
	}
}
