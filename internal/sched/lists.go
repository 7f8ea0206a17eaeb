package sched

// The dual-list structure. Both rings are rooted at the Root record.
//
// Waiting: a top-level ring of slots ordered by ascending priority, linked
// through prev/next. Each slot is a ring of equal-priority tasks linked
// through left/right. The slot member that the previous slot's next points at
// is the representative; every member carries the same prev/next.
//
// Standby: a flat ring linked through left/right with prev/next unlinked.
//
// All functions here expect s.mu to be held.

func (t *task) notWaiting() bool { return t.prev == NoTask }
func (t *task) dead() bool       { return t.left == NoTask }

// setNext points the top-level next link of a slot at to, propagating the
// change to every member of that slot.
func (s *Scheduler) setNext(slot, to TaskID) {
	s.tasks[slot].next = to
	if slot == Root {
		return
	}
	for m := s.tasks[slot].right; m != slot; m = s.tasks[m].right {
		s.tasks[m].next = to
	}
}

// setPrev is setNext for the prev link.
func (s *Scheduler) setPrev(slot, to TaskID) {
	s.tasks[slot].prev = to
	if slot == Root {
		return
	}
	for m := s.tasks[slot].right; m != slot; m = s.tasks[m].right {
		s.tasks[m].prev = to
	}
}

func (s *Scheduler) priorityInsert(id TaskID) {
	s.waitCount++
	s.listOps++

	n := &s.tasks[id]
	p := n.priority

	at := s.tasks[Root].next
	for at != Root && s.tasks[at].priority < p {
		at = s.tasks[at].next
	}

	if at == Root || s.tasks[at].priority != p {
		// New slot in front of at, with id as its only member.
		before := s.tasks[at].prev
		s.setNext(before, id)
		s.setPrev(at, id)
		n.prev, n.next = before, at
		n.left, n.right = id, id
		return
	}

	// Join the existing slot at its tail.
	rep := &s.tasks[at]
	tail := rep.left
	s.tasks[tail].right = id
	rep.left = id
	n.left, n.right = tail, at
	n.prev, n.next = rep.prev, rep.next
}

func (s *Scheduler) priorityRemove(id TaskID) {
	s.waitCount--
	s.listOps++

	t := &s.tasks[id]
	if t.right != id {
		if s.tasks[t.prev].next == id {
			// Hand the representative role to the next member.
			s.setNext(t.prev, t.right)
			s.setPrev(t.next, t.right)
		}
		s.tasks[t.left].right = t.right
		s.tasks[t.right].left = t.left
	} else {
		s.setNext(t.prev, t.next)
		s.setPrev(t.next, t.prev)
	}
	t.unlink()
}

func (s *Scheduler) priorityHead() TaskID {
	if head := s.tasks[Root].next; head != Root {
		return head
	}
	return NoTask
}

// priorityRotate moves a representative to the back of its slot by handing
// the role to the next member. Non-representatives are left in place.
func (s *Scheduler) priorityRotate(id TaskID) {
	t := &s.tasks[id]
	if s.tasks[t.prev].next != id || t.right == id {
		return
	}
	s.listOps++
	s.setNext(t.prev, t.right)
	s.setPrev(t.next, t.right)
}

func (s *Scheduler) standbyInsert(id TaskID) {
	s.standbyCount++
	s.listOps++

	root := &s.tasks[Root]
	tail := root.left
	s.tasks[tail].right = id
	root.left = id

	n := &s.tasks[id]
	n.left, n.right = tail, Root
	n.prev, n.next = NoTask, NoTask
}

func (s *Scheduler) standbyRemove(id TaskID) {
	s.standbyCount--
	s.listOps++

	t := &s.tasks[id]
	s.tasks[t.left].right = t.right
	s.tasks[t.right].left = t.left
	t.left, t.right = NoTask, NoTask
}

// standbyNext returns the first Standby member when cursor is NoTask, the
// member after cursor otherwise, and NoTask once the ring is exhausted.
func (s *Scheduler) standbyNext(cursor TaskID) TaskID {
	if cursor == NoTask {
		cursor = Root
	}
	next := s.tasks[cursor].right
	if next == Root {
		return NoTask
	}
	return next
}

// Waiting returns the Waiting tasks in selection order: slots by ascending
// priority, each slot starting at its representative.
func (s *Scheduler) Waiting() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskID, 0, s.waitCount)
	for rep := s.tasks[Root].next; rep != Root; rep = s.tasks[rep].next {
		out = append(out, rep)
		for m := s.tasks[rep].right; m != rep; m = s.tasks[m].right {
			out = append(out, m)
		}
	}
	return out
}

// Standby returns the Standby tasks in ring order.
func (s *Scheduler) Standby() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskID, 0, s.standbyCount)
	for id := s.standbyNext(NoTask); id != NoTask; id = s.standbyNext(id) {
		out = append(out, id)
	}
	return out
}

// Head returns the task that would be selected next, or NoTask.
func (s *Scheduler) Head() TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priorityHead()
}
