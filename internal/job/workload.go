// Package job provides task bodies used by the simulator.
package job

import (
	"symsched/internal/kernel"
	"symsched/internal/sched"
)

// Periodic returns a task that wakes every period ticks, spends work cycles
// yielding, then asks to sleep until its next period.
func Periodic(period, work int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		if tc.Counter() == 0 {
			tc.SetPeriod(period)
		}
		spin(tc, work)
		_ = tc.SuspendRecheck()
	}
}

// Delayed returns a task that sleeps delay ticks between bursts of work.
func Delayed(delay, work int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		spin(tc, work)
		_ = tc.Sleep(delay)
	}
}

// Busy returns a task that never sleeps. It is only ever displaced by time
// slicing or by higher-priority tasks.
func Busy() kernel.Entry {
	return func(tc *kernel.TaskContext) {
		tc.Yield()
	}
}

// Critical returns a task that holds the scheduler lock for work cycles each
// time it runs, then sleeps delay ticks.
func Critical(delay, work int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		tc.Lock()
		spin(tc, work)
		tc.Unlock()
		_ = tc.Sleep(delay)
	}
}

// Producer returns a task that every period ticks sends one message to the
// task named by target and raises its generic event with the low byte of
// the sequence number.
func Producer(target func() sched.TaskID, period int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		if tc.Counter() == 0 {
			tc.SetPeriod(period)
		}
		to := target()
		seq := tc.Counter()
		if err := tc.Send(to, sched.Message{Source: int(tc.Self()), Command: seq}); err == nil {
			_ = tc.Raise(to, byte(seq))
		}
		_ = tc.SuspendRecheck()
	}
}

// Consumer returns a task that drains its queue whenever its generic event
// is raised, calling handle for each message.
func Consumer(handle func(sched.Message)) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		for {
			msg, ok := tc.Receive()
			if !ok {
				break
			}
			if handle != nil {
				handle(msg)
			}
		}
		_ = tc.Suspend()
	}
}

// Waiter returns a task woken by its event references. It re-checks before
// sleeping so a signal that is still raised keeps it ready.
func Waiter(work int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		spin(tc, work)
		_ = tc.SuspendRecheck()
	}
}

// Supervisor returns a task that ends the run after ticks ticks.
func Supervisor(ticks int) kernel.Entry {
	return func(tc *kernel.TaskContext) {
		if tc.Counter() == 0 {
			_ = tc.Sleep(ticks)
			return
		}
		tc.Return(0)
	}
}

func spin(tc *kernel.TaskContext, cycles int) {
	for i := 0; i < cycles; i++ {
		tc.Yield()
	}
}
