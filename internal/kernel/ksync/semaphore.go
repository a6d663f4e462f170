package ksync

import "sync"

// Waiters is the scheduler hook a Semaphore needs: it never stores task
// pointers itself (the task table is the single owner of task storage,
// per spec S9), only task ids, and asks the scheduler to block/wake them.
type Waiters interface {
	// CurrentID returns the calling task's id without blocking it.
	CurrentID() int
	// Block suspends the task with the given id (already recorded as a
	// waiter by the caller) until a matching Wake(id).
	Block(id int)
	// Wake transitions the given task id back to Ready.
	Wake(id int)
}

// Semaphore is a counting semaphore with a FIFO waiter queue, per spec
// C9/S4.6. permits may go negative; a negative value is the (negated)
// count of tasks blocked in acquire.
type Semaphore struct {
	mu      sync.Mutex
	permits int
	waiters []int
	sched   Waiters
}

// NewSemaphore creates a semaphore with the given initial permit count,
// bound to the scheduler it blocks/wakes tasks through.
func NewSemaphore(initial int, sched Waiters) *Semaphore {
	return &Semaphore{permits: initial, sched: sched}
}

// Acquire decrements the permit count. If the result is negative, the
// caller is enqueued (FIFO) and blocked until a matching Release wakes it.
func (s *Semaphore) Acquire() {
	s.mu.Lock()
	s.permits--
	negative := s.permits < 0
	s.mu.Unlock()

	if !negative {
		return
	}

	// Register this task as a waiter before blocking so a concurrent
	// Release can never miss it (FIFO ordering, spec S4.6).
	id := s.sched.CurrentID()
	s.mu.Lock()
	s.waiters = append(s.waiters, id)
	s.mu.Unlock()

	s.sched.Block(id)
}

// Release increments the permit count. If the pre-release value was
// negative, the head of the FIFO waiter queue is woken.
func (s *Semaphore) Release() {
	s.mu.Lock()
	wasNegative := s.permits < 0
	s.permits++

	var head int
	haveHead := false
	if wasNegative && len(s.waiters) > 0 {
		head = s.waiters[0]
		s.waiters = s.waiters[1:]
		haveHead = true
	}
	s.mu.Unlock()

	if haveHead {
		s.sched.Wake(head)
	}
}

// Permits returns the current permit count, mainly for tests/diagnostics.
func (s *Semaphore) Permits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}
