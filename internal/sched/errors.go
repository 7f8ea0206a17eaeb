package sched

import "errors"

var (
	// ErrAllocationFailure is returned when a message carrier or a task stack
	// cannot be obtained.
	ErrAllocationFailure = errors.New("allocation failure")
	// ErrAlreadyRegistered is returned by Register for a task that is not Dead.
	ErrAlreadyRegistered = errors.New("task already registered")
	// ErrNotRegistered is returned by Unregister for a Dead task.
	ErrNotRegistered = errors.New("task not registered")
	// ErrUnknownTask is returned for handles that do not name a live record.
	ErrUnknownTask = errors.New("unknown task")
	// ErrStarvation means Decide found nothing to run. It is fatal: the
	// embedder must keep an always-ready task in the Waiting structure.
	ErrStarvation = errors.New("scheduler starvation: no waiting task")
)
