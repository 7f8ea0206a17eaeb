package kernel

import (
	"symsched/internal/sched"
)

// TaskContext is handed to a task body and is only valid on that task's own
// goroutine.
type TaskContext struct {
	k *Kernel
	f *fiber
}

// Self returns the task's handle.
func (tc *TaskContext) Self() sched.TaskID { return tc.f.id }

// Name returns the task's name.
func (tc *TaskContext) Name() string { return tc.f.name }

// Counter returns how many times the entry has returned and been re-entered.
func (tc *TaskContext) Counter() uint32 { return tc.f.counter }

// Args returns the two spawn arguments.
func (tc *TaskContext) Args() (int, int) { return tc.f.args[0], tc.f.args[1] }

// Now returns the tick of the current scheduling cycle.
func (tc *TaskContext) Now() sched.Tick { return tc.k.Now() }

// Kernel returns the owning kernel.
func (tc *TaskContext) Kernel() *Kernel { return tc.k }

// Yield gives the processor back to the scheduler thread without asking to
// sleep. The task stays Waiting and is selected again according to priority
// and time slicing.
func (tc *TaskContext) Yield() {
	tc.giveBack(handoff{kind: handoffYield})
}

// Suspend asks to be moved to Standby unconditionally, then yields. An error
// means the request could not be queued; the task still yielded and remains
// Waiting.
func (tc *TaskContext) Suspend() error {
	return tc.suspend(sched.CmdSuspend)
}

// SuspendRecheck asks to be moved to Standby unless one of the task's events
// is already pending, then yields.
func (tc *TaskContext) SuspendRecheck() error {
	return tc.suspend(sched.CmdSuspendRecheck)
}

func (tc *TaskContext) suspend(cmd uint32) error {
	err := tc.k.sched.Submit(sched.Message{
		Source:  int(tc.f.id),
		Command: cmd,
		Payload: tc.f.id,
	})
	tc.Yield()
	return err
}

// SetDelay arms a one-shot time base that fires ticks from now.
func (tc *TaskContext) SetDelay(ticks int) {
	_ = tc.k.sched.SetTimeBase(tc.f.id, sched.TimeBaseOneShot, tc.Now()+sched.Tick(ticks))
}

// SetPeriod arms a periodic time base that first fires interval ticks from
// now. A non-positive interval stops the time base.
func (tc *TaskContext) SetPeriod(interval int) {
	if interval <= 0 {
		tc.StopTimer()
		return
	}
	_ = tc.k.sched.SetTimeBase(tc.f.id, interval, tc.Now()+sched.Tick(interval))
}

// StopTimer disarms the time base.
func (tc *TaskContext) StopTimer() {
	_ = tc.k.sched.SetTimeBase(tc.f.id, sched.TimeBaseOff, 0)
}

// Sleep suspends the task for the given number of ticks.
func (tc *TaskContext) Sleep(ticks int) error {
	tc.SetDelay(ticks)
	return tc.SuspendRecheck()
}

// Send queues msg for another task.
func (tc *TaskContext) Send(to sched.TaskID, msg sched.Message) error {
	return tc.k.sched.Send(to, msg)
}

// SendFront queues msg at the front of another task's queue.
func (tc *TaskContext) SendFront(to sched.TaskID, msg sched.Message) error {
	return tc.k.sched.SendFront(to, msg)
}

// Submit queues msg for the scheduler thread.
func (tc *TaskContext) Submit(msg sched.Message) error {
	return tc.k.sched.Submit(msg)
}

// Receive pops the next message addressed to this task.
func (tc *TaskContext) Receive() (sched.Message, bool) {
	return tc.k.sched.TryReceive(tc.f.id)
}

// Peek returns the next message without removing it.
func (tc *TaskContext) Peek() sched.Message {
	return tc.k.sched.Peek(tc.f.id)
}

// Pending returns the number of queued messages.
func (tc *TaskContext) Pending() int {
	return tc.k.sched.Pending(tc.f.id)
}

// Raise sets another task's generic event flag.
func (tc *TaskContext) Raise(to sched.TaskID, info byte) error {
	return tc.k.sched.RaiseGeneric(to, info)
}

// SetPriority changes this task's priority.
func (tc *TaskContext) SetPriority(priority int) error {
	return tc.k.sched.SetPriority(tc.f.id, priority)
}

// Lock keeps this task selected across cycles until Unlock.
func (tc *TaskContext) Lock() { tc.k.sched.Lock() }

// Unlock releases one Lock.
func (tc *TaskContext) Unlock() { tc.k.sched.Unlock() }

// Info returns this task's record, including what woke it.
func (tc *TaskContext) Info() sched.TaskInfo {
	info, _ := tc.k.sched.Info(tc.f.id)
	return info
}

// Delete ends this task. It does not return.
func (tc *TaskContext) Delete() {
	_ = tc.k.Delete(tc.f.id)
	tc.Yield()
}

// Return stops the scheduler thread; Kernel.Run returns code. It does not
// return.
func (tc *TaskContext) Return(code int) {
	tc.giveBack(handoff{kind: handoffReturn, code: code})
}
