// Package event provides a concrete event source for the scheduler: a board
// of named signals that tasks can poll through their event reference lists.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets/hashset"

	"symsched/internal/sched"
)

// Board holds two kinds of signals. A level signal stays raised until it is
// cleared. A pulse stays raised until the end of the scheduling cycle in
// progress, so every task polling it within that cycle sees it once.
type Board struct {
	mu     sync.Mutex
	levels *hashset.Set
	pulses *hashset.Set

	queries atomic.Uint64
	cycles  atomic.Uint64
}

var _ sched.EventSource = (*Board)(nil)

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{
		levels: hashset.New(),
		pulses: hashset.New(),
	}
}

// Set raises a level signal.
func (b *Board) Set(ref sched.EventRef) {
	b.mu.Lock()
	b.levels.Add(ref)
	b.mu.Unlock()
}

// Clear lowers a level signal.
func (b *Board) Clear(ref sched.EventRef) {
	b.mu.Lock()
	b.levels.Remove(ref)
	b.mu.Unlock()
}

// Pulse raises a signal until the next Cycle.
func (b *Board) Pulse(ref sched.EventRef) {
	b.mu.Lock()
	b.pulses.Add(ref)
	b.mu.Unlock()
}

// Query reports whether ref is raised as a level or a pulse.
func (b *Board) Query(ref sched.EventRef) bool {
	b.queries.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels.Contains(ref) || b.pulses.Contains(ref)
}

// Cycle drops every pulse.
func (b *Board) Cycle() {
	b.cycles.Add(1)
	b.mu.Lock()
	b.pulses.Clear()
	b.mu.Unlock()
}

// Raised returns every raised signal, levels first.
func (b *Board) Raised() []sched.EventRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sched.EventRef, 0, b.levels.Size()+b.pulses.Size())
	for _, v := range b.levels.Values() {
		out = append(out, v)
	}
	for _, v := range b.pulses.Values() {
		if !b.levels.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Queries returns how many times Query was called.
func (b *Board) Queries() uint64 { return b.queries.Load() }

// Cycles returns how many times Cycle was called.
func (b *Board) Cycles() uint64 { return b.cycles.Load() }
