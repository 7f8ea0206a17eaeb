// Package trace records scheduler status events as console lines and CSV
// rows and keeps per-task totals for the end-of-run summary.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"

	"symsched/internal/logging"
	"symsched/internal/sched"
)

// Totals counts what happened to one task during a run.
type Totals struct {
	TaskID     sched.TaskID
	Name       string
	Priority   int
	Dispatches int
	Wakes      int
	Sleeps     int
	Requeues   int
	Slices     int
}

// Recorder consumes sched.StatusEvent values. Observe is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	runID  uuid.UUID
	names  func(sched.TaskID) string
	out    io.Writer // console lines, nil = none
	log    *slog.Logger
	totals *treemap.Map // sched.TaskID -> *Totals
	events int

	csvFile   *os.File
	csvWriter *csv.Writer
}

// NewRecorder creates a recorder. names resolves task handles for output
// and may be nil; out receives one line per event and may be nil.
func NewRecorder(names func(sched.TaskID) string, out io.Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Recorder{
		runID:  uuid.New(),
		names:  names,
		out:    out,
		totals: treemap.NewWith(byTaskID),
	}
	r.log = logger.With("component", "trace", "run_id", r.runID.String())
	return r
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

// RunID identifies this run in every CSV row and log line.
func (r *Recorder) RunID() uuid.UUID { return r.runID }

// EnableCSV opens path for CSV logging of events and writes the header.
// Must be called before the first event.
func (r *Recorder) EnableCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csvFile = f
	r.csvWriter = csv.NewWriter(f)
	return r.writeHeader()
}

// UseCSV streams CSV rows to w instead of a file.
func (r *Recorder) UseCSV(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csvWriter = csv.NewWriter(w)
	return r.writeHeader()
}

func (r *Recorder) writeHeader() error {
	if err := r.csvWriter.Write([]string{"run_id", "tick", "event", "task_id", "task", "priority", "source", "method"}); err != nil {
		return err
	}
	r.csvWriter.Flush()
	return r.csvWriter.Error()
}

func (r *Recorder) name(id sched.TaskID) string {
	if r.names == nil {
		return ""
	}
	return r.names(id)
}

// Observe records one event. Its signature matches the scheduler observer.
func (r *Recorder) Observe(ev sched.StatusEvent) {
	name := r.name(ev.TaskID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
	r.count(ev, name)

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		if spaces < 0 {
			return str
		}
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	if r.out != nil {
		fmt.Fprintf(r.out, "Tick: %07d [%s] => Task: %04d %-12s prio=%d source=%s method=%s\n",
			ev.Tick, center(ev.Kind.String(), 12), ev.TaskID, name, ev.Priority, ev.Source, ev.Method)
	}
	r.log.Debug("status", "tick", ev.Tick, "event", ev.Kind.String(), "task", name, "id", ev.TaskID)

	if r.csvWriter != nil {
		rec := []string{
			r.runID.String(),
			strconv.FormatUint(uint64(ev.Tick), 10),
			ev.Kind.String(),
			strconv.FormatInt(int64(ev.TaskID), 10),
			name,
			strconv.Itoa(ev.Priority),
			ev.Source.String(),
			ev.Method.String(),
		}
		if err := r.csvWriter.Write(rec); err != nil {
			r.log.Warn("csv write failed", "error", err)
		}
		r.csvWriter.Flush()
	}
}

// Expects r.mu to be held.
func (r *Recorder) count(ev sched.StatusEvent, name string) {
	if ev.TaskID <= sched.Root {
		return
	}
	var t *Totals
	if v, ok := r.totals.Get(ev.TaskID); ok {
		t = v.(*Totals)
	} else {
		t = &Totals{TaskID: ev.TaskID}
		r.totals.Put(ev.TaskID, t)
	}
	if name != "" {
		t.Name = name
	}
	t.Priority = ev.Priority
	switch ev.Kind {
	case sched.StatusDispatch:
		t.Dispatches++
	case sched.StatusWake:
		t.Wakes++
	case sched.StatusSleep:
		t.Sleeps++
	case sched.StatusRequeue:
		t.Requeues++
	case sched.StatusSlice:
		t.Slices++
	}
}

// Events returns how many events were observed.
func (r *Recorder) Events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// Summary returns the per-task totals in ascending handle order.
func (r *Recorder) Summary() []Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Totals, 0, r.totals.Size())
	it := r.totals.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*Totals))
	}
	return out
}

// WriteSummary prints the totals table.
func (r *Recorder) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "run %s: %d events\n", r.runID, r.Events())
	fmt.Fprintf(w, "%-4s %-12s %10s %10s %6s %6s %8s %6s\n", "id", "task", "priority", "dispatch", "wake", "sleep", "requeue", "slice")
	for _, t := range r.Summary() {
		fmt.Fprintf(w, "%-4d %-12s %10d %10d %6d %6d %8d %6d\n",
			t.TaskID, t.Name, t.Priority, t.Dispatches, t.Wakes, t.Sleeps, t.Requeues, t.Slices)
	}
}

// Close flushes and closes the CSV file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.csvWriter != nil {
		r.csvWriter.Flush()
		if err := r.csvWriter.Error(); err != nil {
			return err
		}
	}
	if r.csvFile != nil {
		err := r.csvFile.Close()
		r.csvFile = nil
		return err
	}
	return nil
}
