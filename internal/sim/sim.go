// Package sim assembles a kernel, its event board, the trace recorder and
// the configured workloads into one runnable simulation.
package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"symsched/internal/config"
	"symsched/internal/event"
	"symsched/internal/job"
	"symsched/internal/kernel"
	"symsched/internal/logging"
	"symsched/internal/sched"
	"symsched/internal/trace"
)

// SupervisorPriority outranks every configured task so the run always ends
// on time.
const SupervisorPriority = math.MinInt32

// Options are the run-time knobs that are not part of the YAML file.
type Options struct {
	Realtime bool
	CSVPath  string
	// Trace receives one line per status event; nil disables it.
	Trace  io.Writer
	Logger *slog.Logger
}

// Simulation is a configured, not yet started run.
type Simulation struct {
	cfg      config.Config
	log      *slog.Logger
	kernel   *kernel.Kernel
	board    *event.Board
	recorder *trace.Recorder
	alloc    *sched.HeapAllocator
	ticker   *kernel.TickClock
	ids      map[string]sched.TaskID
}

// Result summarizes a finished run.
type Result struct {
	Code    int
	Ticks   sched.Tick
	Stats   sched.Stats
	Summary []trace.Totals
}

// pulseSource fires the configured pulses on top of the board. Cycle runs
// once per scheduling cycle, after the sweep, so a pulse raised there is
// seen by the next cycle and cleared by the one after.
type pulseSource struct {
	*event.Board
	pulses []config.Pulse
	now    func() sched.Tick
}

func (p *pulseSource) Cycle() {
	p.Board.Cycle()
	next := p.now() + 1
	for _, pl := range p.pulses {
		if next%sched.Tick(pl.Every) == 0 {
			p.Board.Pulse(pl.Event)
		}
	}
}

// New builds the simulation described by cfg.
func New(cfg config.Config, opts Options) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Simulation{
		cfg:   cfg,
		log:   logger.With("component", "sim"),
		board: event.NewBoard(),
		alloc: sched.NewHeapAllocator(uintptr(cfg.MemoryLimit)),
		ids:   make(map[string]sched.TaskID, len(cfg.Tasks)),
	}
	s.recorder = trace.NewRecorder(s.name, opts.Trace, logger)
	if opts.CSVPath != "" {
		if err := s.recorder.EnableCSV(opts.CSVPath); err != nil {
			return nil, err
		}
	}

	kopts := kernel.Options{
		Allocator: s.alloc,
		Clock:     &kernel.CycleClock{},
		Logger:    logger,
		Observer:  s.recorder.Observe,
		TimeSlice: cfg.TimeSlice,
	}
	if opts.Realtime {
		s.ticker = kernel.NewTickClock(256)
		kopts.Clock = s.ticker
		kopts.IdleHook = s.ticker.Wait
	}
	src := &pulseSource{Board: s.board, pulses: cfg.Pulses}
	kopts.Events = src

	k, err := kernel.New(kopts)
	if err != nil {
		_ = s.recorder.Close()
		return nil, err
	}
	s.kernel = k
	src.now = k.Now

	for _, t := range cfg.Tasks {
		if err := s.spawn(t); err != nil {
			_ = s.recorder.Close()
			return nil, err
		}
	}
	if _, err := k.Spawn(kernel.TaskSpec{Name: "supervisor", Priority: SupervisorPriority, Start: true},
		job.Supervisor(cfg.Cycles)); err != nil {
		_ = s.recorder.Close()
		return nil, err
	}
	return s, nil
}

func (s *Simulation) name(id sched.TaskID) string {
	if s.kernel == nil {
		return ""
	}
	return s.kernel.Name(id)
}

func (s *Simulation) entry(t config.Task) kernel.Entry {
	switch t.Workload {
	case config.WorkloadPeriodic:
		return job.Periodic(t.Period, t.Work)
	case config.WorkloadDelayed:
		return job.Delayed(t.Delay, t.Work)
	case config.WorkloadCritical:
		return job.Critical(t.Delay, t.Work)
	case config.WorkloadProducer:
		target := t.Target
		return job.Producer(func() sched.TaskID { return s.ids[target] }, t.Period)
	case config.WorkloadConsumer:
		name := t.Name
		return job.Consumer(func(m sched.Message) {
			s.log.Debug("message", "task", name, "from", s.name(sched.TaskID(m.Source)), "seq", m.Command)
		})
	case config.WorkloadWaiter:
		return job.Waiter(t.Work)
	default:
		return job.Busy()
	}
}

func (s *Simulation) spawn(t config.Task) error {
	refs := make([]sched.EventRef, 0, len(t.Events))
	for _, ev := range t.Events {
		refs = append(refs, ev)
	}
	start := t.Start
	if t.Workload != config.WorkloadConsumer && t.Workload != config.WorkloadWaiter {
		start = true
	}
	id, err := s.kernel.Spawn(kernel.TaskSpec{
		Name:      t.Name,
		Priority:  t.Priority,
		StackSize: uintptr(t.Stack),
		TimeSlice: t.TimeSlice,
		Events:    refs,
		Start:     start,
	}, s.entry(t))
	if err != nil {
		return fmt.Errorf("task %q: %w", t.Name, err)
	}
	s.ids[t.Name] = id
	return nil
}

// Kernel exposes the underlying kernel.
func (s *Simulation) Kernel() *kernel.Kernel { return s.kernel }

// Board exposes the event board, e.g. to set level signals from outside.
func (s *Simulation) Board() *event.Board { return s.board }

// Recorder exposes the trace recorder.
func (s *Simulation) Recorder() *trace.Recorder { return s.recorder }

// Task returns the handle of a configured task.
func (s *Simulation) Task(name string) (sched.TaskID, bool) {
	id, ok := s.ids[name]
	return id, ok
}

// Run executes the simulation until the supervisor ends it, ctx is done or
// the scheduler starves.
func (s *Simulation) Run(ctx context.Context) (Result, error) {
	defer s.recorder.Close()
	if s.ticker != nil {
		s.ticker.Start(time.Duration(s.cfg.TickMS) * time.Millisecond)
		defer s.ticker.Stop()
	}

	s.log.Info("simulation started", "run_id", s.recorder.RunID().String(), "tasks", len(s.cfg.Tasks), "cycles", s.cfg.Cycles)
	code, err := s.kernel.Run(ctx)
	res := Result{
		Code:    code,
		Ticks:   s.kernel.Now(),
		Stats:   s.kernel.Scheduler().Stats(),
		Summary: s.recorder.Summary(),
	}
	if err != nil {
		return res, err
	}
	s.log.Info("simulation finished", "ticks", res.Ticks, "events", s.recorder.Events(), "outstanding_bytes", s.alloc.InUse())
	return res, nil
}
