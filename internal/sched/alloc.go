package sched

import (
	"fmt"
	"sync/atomic"
)

// Allocator accounts for message-carrier and task-stack memory.
type Allocator interface {
	Alloc(size uintptr) error
	Free(size uintptr)
}

// HeapAllocator is an Allocator with an optional byte limit. A zero Limit
// means unlimited.
type HeapAllocator struct {
	Limit uintptr

	inUse       atomic.Int64
	outstanding atomic.Int64
	allocations atomic.Uint64
}

// NewHeapAllocator creates an allocator capped at limit bytes.
func NewHeapAllocator(limit uintptr) *HeapAllocator {
	return &HeapAllocator{Limit: limit}
}

func (a *HeapAllocator) Alloc(size uintptr) error {
	for {
		used := a.inUse.Load()
		next := used + int64(size)
		if a.Limit > 0 && next > int64(a.Limit) {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocationFailure, size, used, a.Limit)
		}
		if a.inUse.CompareAndSwap(used, next) {
			break
		}
	}
	a.outstanding.Add(1)
	a.allocations.Add(1)
	return nil
}

func (a *HeapAllocator) Free(size uintptr) {
	a.inUse.Add(-int64(size))
	a.outstanding.Add(-1)
}

// InUse returns the number of bytes currently allocated.
func (a *HeapAllocator) InUse() int64 { return a.inUse.Load() }

// Outstanding returns allocations not yet freed.
func (a *HeapAllocator) Outstanding() int64 { return a.outstanding.Load() }

// Allocations returns the total number of successful allocations.
func (a *HeapAllocator) Allocations() uint64 { return a.allocations.Load() }
