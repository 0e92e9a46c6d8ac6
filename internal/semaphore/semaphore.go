// Package semaphore caps the number of Process Supervisor invocations that
// may run concurrently across the whole process (spec §4.B).
package semaphore

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Ticket is a reservation against the Admission Semaphore. It is owned by
// exactly one caller and must be released exactly once.
type Ticket struct {
	id       uint64
	sem      *Semaphore
	released bool
}

// Status is a non-blocking snapshot of semaphore occupancy.
type Status struct {
	Available     int `json:"available"`
	Waiting       int `json:"waiting"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Semaphore is a FIFO-fair counting semaphore. Waiters are granted slots in
// the order they called Acquire, never reordered by priority.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  *list.List // of *waiter
	nextID   uint64
}

type waiter struct {
	ch chan struct{} // closed to grant the slot
}

// New constructs a Semaphore with the given capacity. A non-positive
// capacity is rejected by the caller's configuration validation, not here;
// New clamps to 1 as a last line of defense against a misconfigured zero.
func New(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{
		capacity: capacity,
		waiters:  list.New(),
	}
}

// Acquire blocks until a slot is free or ctx is cancelled. On cancellation
// the caller's place in the FIFO queue is removed without affecting the
// order of the remaining waiters.
func (s *Semaphore) Acquire(ctx context.Context) (*Ticket, error) {
	s.mu.Lock()
	if s.inUse < s.capacity && s.waiters.Len() == 0 {
		s.inUse++
		s.nextID++
		id := s.nextID
		s.mu.Unlock()
		return &Ticket{id: id, sem: s}, nil
	}

	w := &waiter{ch: make(chan struct{})}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case <-w.ch:
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		s.mu.Unlock()
		return &Ticket{id: id, sem: s}, nil
	case <-ctx.Done():
		s.mu.Lock()
		// If we were already granted the slot in the window between the
		// channel closing and this goroutine acquiring the lock, the slot
		// is ours and must not be leaked back unreleased.
		select {
		case <-w.ch:
			s.nextID++
			id := s.nextID
			s.mu.Unlock()
			return &Ticket{id: id, sem: s}, nil
		default:
		}
		s.waiters.Remove(elem)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns the slot held by ticket. Releasing the same ticket more
// than once is a no-op on the second and subsequent calls.
func (s *Semaphore) Release(ticket *Ticket) {
	if ticket == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.released {
		return
	}
	ticket.released = true

	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		w := front.Value.(*waiter)
		close(w.ch) // ownership of the slot transfers directly, inUse unchanged
		return
	}
	s.inUse--
}

// Status returns a non-blocking snapshot of current occupancy.
func (s *Semaphore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Available:     s.capacity - s.inUse,
		Waiting:       s.waiters.Len(),
		MaxConcurrent: s.capacity,
	}
}

// String renders the ticket for log lines.
func (t *Ticket) String() string {
	return fmt.Sprintf("slot-%d", t.id)
}
