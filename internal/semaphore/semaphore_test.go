package semaphore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	s := New(2)

	t1, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t2, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if st := s.Status(); st.Available != 0 || st.Waiting != 0 || st.MaxConcurrent != 2 {
		t.Fatalf("Status = %+v, want available=0 waiting=0 max=2", st)
	}

	s.Release(t1)
	if st := s.Status(); st.Available != 1 {
		t.Fatalf("Status after release = %+v, want available=1", st)
	}

	s.Release(t2)
	if st := s.Status(); st.Available != 2 {
		t.Fatalf("Status after release = %+v, want available=2", st)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New(1)
	ticket, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release(ticket)
	s.Release(ticket) // must not double-free the slot

	if st := s.Status(); st.Available != 1 {
		t.Fatalf("Status = %+v, want available=1 after double release", st)
	}
}

func TestFIFOOrdering(t *testing.T) {
	s := New(1)
	first, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	order := make(chan int, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			// stagger enqueue order deterministically
			time.Sleep(time.Duration(idx) * 20 * time.Millisecond)
			tk, err := s.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			order <- idx
			s.Release(tk)
		}()
	}

	// let all three goroutines enqueue before releasing the held slot
	time.Sleep(100 * time.Millisecond)
	s.Release(first)

	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	want := []int{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FIFO order violated: got %v, want %v", got, want)
		}
	}
}

func TestAcquireCancellation(t *testing.T) {
	s := New(1)
	held, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = s.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to be cancelled, got nil error")
	}

	if st := s.Status(); st.Waiting != 0 {
		t.Fatalf("Status.Waiting = %d after cancellation, want 0", st.Waiting)
	}

	s.Release(held)
	if st := s.Status(); st.Available != 1 {
		t.Fatalf("Status.Available = %d after release, want 1", st.Available)
	}
}

func TestCancellationDoesNotAffectOtherWaiters(t *testing.T) {
	s := New(1)
	held, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx)
		doneA <- err
	}()

	doneB := make(chan struct{})
	go func() {
		tk, err := s.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire: %v", err)
			return
		}
		s.Release(tk)
		close(doneB)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	if err := <-doneA; err == nil {
		t.Fatal("expected cancellation error for waiter A")
	}

	s.Release(held)

	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("waiter B never acquired after A's cancellation")
	}
}

func TestDefaultCapacityFloor(t *testing.T) {
	s := New(0)
	if st := s.Status(); st.MaxConcurrent != 1 {
		t.Fatalf("MaxConcurrent = %d, want floor of 1", st.MaxConcurrent)
	}
}
