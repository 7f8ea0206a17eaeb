package sched

import (
	"errors"
	"fmt"
	"unsafe"
)

// Message is the inter-task message, copied by value into a carrier on send.
type Message struct {
	Source  int
	Command uint32
	Payload any
}

// Suspend request commands carried in messages submitted to Root.
const (
	CmdSuspend        uint32 = 0
	CmdSuspendRecheck uint32 = 1
)

// carrier is one heap-allocated queue node.
type carrier struct {
	next *carrier
	msg  Message
}

var carrierSize = unsafe.Sizeof(carrier{})

func (s *Scheduler) newCarrier(msg Message) (*carrier, error) {
	if err := s.alloc.Alloc(carrierSize); err != nil {
		return nil, err
	}
	return &carrier{msg: msg}, nil
}

func (s *Scheduler) freeCarrier(c *carrier) {
	c.next = nil
	s.alloc.Free(carrierSize)
}

// Send appends msg to the task's queue.
func (s *Scheduler) Send(id TaskID, msg Message) error {
	return s.send(id, msg, false)
}

// SendFront prepends msg to the task's queue for priority delivery.
func (s *Scheduler) SendFront(id TaskID, msg Message) error {
	return s.send(id, msg, true)
}

// Submit sends msg to the Root queue.
func (s *Scheduler) Submit(msg Message) error {
	return s.send(Root, msg, false)
}

// SubmitFront prepends msg to the Root queue.
func (s *Scheduler) SubmitFront(msg Message) error {
	return s.send(Root, msg, true)
}

func (s *Scheduler) send(id TaskID, msg Message, front bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != Root {
		if _, err := s.lookup(id); err != nil {
			return err
		}
	}
	c, err := s.newCarrier(msg)
	if err != nil {
		if !errors.Is(err, ErrAllocationFailure) {
			err = fmt.Errorf("%w: %v", ErrAllocationFailure, err)
		}
		return fmt.Errorf("send to task %d: %w", id, err)
	}

	t := &s.tasks[id]
	t.msgCount++
	s.msgOps++
	if front {
		c.next = t.msgHead
		t.msgHead = c
		if t.msgTail == nil {
			t.msgTail = c
		}
		return nil
	}
	if t.msgTail == nil {
		t.msgHead = c
	} else {
		t.msgTail.next = c
	}
	t.msgTail = c
	return nil
}

// dequeueLocked pops the head message and frees its carrier.
func (s *Scheduler) dequeueLocked(id TaskID) (Message, bool) {
	t := &s.tasks[id]
	c := t.msgHead
	if c == nil {
		return Message{}, false
	}
	t.msgCount--
	t.msgHead = c.next
	if t.msgHead == nil {
		t.msgTail = nil
	}
	s.msgOps++
	msg := c.msg
	s.freeCarrier(c)
	return msg, true
}

// purgeRequestsLocked drops every Root-queue suspend request naming id, so a
// recycled handle never inherits a dead task's request.
func (s *Scheduler) purgeRequestsLocked(id TaskID) {
	root := &s.tasks[Root]
	var prev *carrier
	for c := root.msgHead; c != nil; {
		next := c.next
		if req, ok := c.msg.Payload.(TaskID); ok && req == id {
			if prev == nil {
				root.msgHead = next
			} else {
				prev.next = next
			}
			if root.msgTail == c {
				root.msgTail = prev
			}
			root.msgCount--
			s.msgOps++
			s.freeCarrier(c)
		} else {
			prev = c
		}
		c = next
	}
}

// TryReceive pops the head of the task's queue.
func (s *Scheduler) TryReceive(id TaskID) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != Root {
		if _, err := s.lookup(id); err != nil {
			return Message{}, false
		}
	}
	return s.dequeueLocked(id)
}

// Receive pops the head of the task's queue, or returns the zero Message
// when nothing is pending.
func (s *Scheduler) Receive(id TaskID) Message {
	msg, _ := s.TryReceive(id)
	return msg
}

// Peek returns the head of the task's queue without removing it, or the zero
// Message when nothing is pending.
func (s *Scheduler) Peek(id TaskID) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != Root {
		if _, err := s.lookup(id); err != nil {
			return Message{}
		}
	}
	if c := s.tasks[id].msgHead; c != nil {
		return c.msg
	}
	return Message{}
}

// Pending returns the number of messages queued for the task.
func (s *Scheduler) Pending(id TaskID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != Root {
		if _, err := s.lookup(id); err != nil {
			return 0
		}
	}
	return s.tasks[id].msgCount
}

// Drainer yields queued suspend requests one at a time. Delivery must be FIFO
// and exactly-once.
type Drainer interface {
	Drain() (id TaskID, recheck bool, ok bool)
}

// DrainFunc adapts a function to Drainer.
type DrainFunc func() (TaskID, bool, bool)

func (f DrainFunc) Drain() (TaskID, bool, bool) { return f() }

// RootDrainer drains suspend requests submitted to the Root queue. Messages
// whose payload is not a TaskID are discarded.
func (s *Scheduler) RootDrainer() Drainer {
	return DrainFunc(func() (TaskID, bool, bool) {
		for {
			msg, ok := s.TryReceive(Root)
			if !ok {
				return NoTask, false, false
			}
			if id, isTask := msg.Payload.(TaskID); isTask {
				return id, msg.Command != CmdSuspend, true
			}
		}
	})
}
