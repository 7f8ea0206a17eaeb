// Package kernel embeds the scheduling engine: it gives every task an
// execution context, runs the scheduler thread and exposes the task API.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/treemap"

	"symsched/internal/event"
	"symsched/internal/logging"
	"symsched/internal/sched"
)

const (
	// DefaultStackSize is charged to the allocator for tasks that do not ask
	// for a specific stack size.
	DefaultStackSize uintptr = 1024
	// IdlePriority is the idle task's priority, below every other task.
	IdlePriority = math.MaxInt32
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("kernel already running")

// Options configures a Kernel.
type Options struct {
	Allocator sched.Allocator
	// Clock defaults to a CycleClock.
	Clock Clock
	// Events defaults to an empty event.Board.
	Events   sched.EventSource
	Logger   *slog.Logger
	Observer func(sched.StatusEvent)
	// TimeSlice is the default slice reload for new tasks.
	TimeSlice int
	// NoIdle skips creating the idle task. Decide then starves as soon as no
	// other task is Waiting.
	NoIdle bool
	// IdleHook runs each time the idle task is dispatched.
	IdleHook func()
}

// TaskSpec describes a task to Spawn.
type TaskSpec struct {
	Name      string
	Priority  int
	StackSize uintptr
	// TimeSlice overrides the default slice reload when non-zero; negative
	// disables slicing.
	TimeSlice int
	Events    []sched.EventRef
	Args      [2]int
	// Start raises the generic event so the task runs on the next cycle.
	Start bool
}

// Kernel owns the scheduler, the execution contexts and the scheduler thread.
type Kernel struct {
	sched  *sched.Scheduler
	alloc  sched.Allocator
	clock  Clock
	events sched.EventSource
	log    *slog.Logger

	mu      sync.Mutex
	fibers  *treemap.Map // sched.TaskID -> *fiber
	back    chan handoff
	idle    sched.TaskID
	started bool

	now atomic.Uint64
}

func byTaskID(a, b interface{}) int {
	x, y := a.(sched.TaskID), b.(sched.TaskID)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// New creates a kernel and, unless opts.NoIdle is set, its idle task.
func New(opts Options) (*Kernel, error) {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = sched.NewHeapAllocator(0)
	}
	clock := opts.Clock
	if clock == nil {
		clock = &CycleClock{}
	}
	events := opts.Events
	if events == nil {
		events = event.NewBoard()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	k := &Kernel{
		sched: sched.New(sched.Options{
			Allocator: alloc,
			Observer:  opts.Observer,
			TimeSlice: opts.TimeSlice,
		}),
		alloc:  alloc,
		clock:  clock,
		events: events,
		log:    logger.With("component", "kernel"),
		fibers: treemap.NewWith(byTaskID),
		back:   make(chan handoff, 1),
		idle:   sched.NoTask,
	}

	if !opts.NoIdle {
		hook := opts.IdleHook
		id, err := k.Spawn(TaskSpec{Name: "idle", Priority: IdlePriority, TimeSlice: -1, Start: true},
			func(tc *TaskContext) {
				if hook != nil {
					hook()
				}
				tc.Yield()
			})
		if err != nil {
			return nil, fmt.Errorf("create idle task: %w", err)
		}
		k.idle = id
	}
	return k, nil
}

// Scheduler exposes the underlying scheduling engine.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Events returns the event source polled by the scheduler.
func (k *Kernel) Events() sched.EventSource { return k.events }

// Idle returns the idle task, or sched.NoTask.
func (k *Kernel) Idle() sched.TaskID { return k.idle }

// Now returns the tick of the cycle in progress.
func (k *Kernel) Now() sched.Tick { return sched.Tick(k.now.Load()) }

// Spawn allocates a stack, creates the task and registers it into Standby.
func (k *Kernel) Spawn(spec TaskSpec, entry Entry) (sched.TaskID, error) {
	if entry == nil {
		return sched.NoTask, fmt.Errorf("spawn %q: nil entry", spec.Name)
	}
	stack := spec.StackSize
	if stack == 0 {
		stack = DefaultStackSize
	}
	if err := k.alloc.Alloc(stack); err != nil {
		return sched.NoTask, fmt.Errorf("spawn %q: stack: %w", spec.Name, err)
	}

	id := k.sched.NewTask(spec.Priority)
	if spec.TimeSlice != 0 {
		_ = k.sched.SetTimeSlice(id, spec.TimeSlice)
	}
	if len(spec.Events) > 0 {
		_ = k.sched.SetEvents(id, spec.Events...)
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("task-%d", id)
	}
	f := newFiber(id, name, stack, spec.Args, entry)
	k.mu.Lock()
	k.fibers.Put(id, f)
	k.mu.Unlock()
	go k.runFiber(f)

	if err := k.sched.Register(id); err != nil {
		k.discard(f)
		return sched.NoTask, fmt.Errorf("spawn %q: %w", name, err)
	}
	if spec.Start {
		_ = k.sched.RaiseGeneric(id, 0)
	}
	k.log.Info("task spawned", "task", name, "id", id, "priority", spec.Priority)
	return id, nil
}

func (k *Kernel) fiber(id sched.TaskID) *fiber {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.fibers.Get(id); ok {
		return v.(*fiber)
	}
	return nil
}

// Name returns the name a task was spawned with.
func (k *Kernel) Name(id sched.TaskID) string {
	if f := k.fiber(id); f != nil {
		return f.name
	}
	return ""
}

// Tasks returns every live task in ascending id order.
func (k *Kernel) Tasks() []sched.TaskID {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]sched.TaskID, 0, k.fibers.Size())
	for _, key := range k.fibers.Keys() {
		out = append(out, key.(sched.TaskID))
	}
	return out
}

// Delete unregisters the task, frees its pending messages and its stack and
// ends its execution context.
func (k *Kernel) Delete(id sched.TaskID) error {
	k.mu.Lock()
	v, ok := k.fibers.Get(id)
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete task %d: %w", id, sched.ErrUnknownTask)
	}
	f := v.(*fiber)
	k.discard(f)
	k.log.Info("task deleted", "task", f.name, "id", id)
	return nil
}

// discard deletes the scheduler record while the fiber is still listed, so
// observers can still resolve the task's name for its Unregister event.
func (k *Kernel) discard(f *fiber) {
	f.discardOnce.Do(func() {
		_ = k.sched.DeleteTask(f.id)
		k.mu.Lock()
		// the freed handle may already belong to a newly spawned task
		if v, ok := k.fibers.Get(f.id); ok && v.(*fiber) == f {
			k.fibers.Remove(f.id)
		}
		k.mu.Unlock()
		k.alloc.Free(f.stack)
		f.stop()
	})
}

// Raise sets a task's generic event flag with an info byte.
func (k *Kernel) Raise(id sched.TaskID, info byte) error {
	return k.sched.RaiseGeneric(id, info)
}

// SetPriority changes a task's priority.
func (k *Kernel) SetPriority(id sched.TaskID, priority int) error {
	return k.sched.SetPriority(id, priority)
}

// Run is the scheduler thread. Each cycle it reads the clock, asks the
// scheduler for a task and switches to it until the task gives the
// processor back. Run returns the code passed to TaskContext.Return, the
// context's error, or a wrapped sched.ErrStarvation.
func (k *Kernel) Run(ctx context.Context) (int, error) {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	k.started = true
	k.mu.Unlock()
	defer k.shutdown()

	k.log.Info("scheduler started", "tasks", len(k.Tasks()))
	drain := k.sched.RootDrainer()
	for {
		if err := ctx.Err(); err != nil {
			k.log.Info("scheduler stopping (context cancelled)")
			return 0, err
		}

		now := k.clock.Now()
		k.now.Store(uint64(now))
		id, err := k.sched.Decide(now, k.events, drain)
		if err != nil {
			k.log.Error("scheduler halted", "tick", now, "error", err)
			return 0, err
		}

		f := k.fiber(id)
		if f == nil {
			return 0, fmt.Errorf("tick %d: task %d has no execution context", now, id)
		}
		k.log.Debug("dispatch", "tick", now, "task", f.name, "id", id)

		h, ok := k.switchTo(f, ctx.Done())
		if !ok {
			if err := ctx.Err(); err != nil {
				k.log.Info("scheduler stopping (context cancelled)")
				return 0, err
			}
			continue
		}
		if h.kind == handoffReturn {
			k.log.Info("scheduler returning", "tick", now, "task", k.Name(h.from), "code", h.code)
			return h.code, nil
		}
	}
}

// shutdown deletes every remaining task.
func (k *Kernel) shutdown() {
	for _, id := range k.Tasks() {
		_ = k.Delete(id)
	}
}
