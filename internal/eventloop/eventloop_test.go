package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOneShotTimerFires(t *testing.T) {
	l := New()
	fired := 0
	l.RegisterTimer(5*time.Millisecond, false, func() { fired++ })
	l.Drain(time.Now().Add(time.Second))
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if l.HasPending() {
		t.Error("one-shot timer should be removed after firing")
	}
}

func TestRepeatingTimerUntilCleared(t *testing.T) {
	l := New()
	var id, count int
	id = l.RegisterTimer(time.Millisecond, true, func() {
		count++
		if count == 3 {
			l.ClearTimer(id)
		}
	})
	l.Drain(time.Now().Add(2 * time.Second))
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if l.IsActive(id) {
		t.Error("timer still active")
	}
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	l := New()
	var order []int
	l.RegisterTimer(30*time.Millisecond, false, func() { order = append(order, 3) })
	l.RegisterTimer(10*time.Millisecond, false, func() { order = append(order, 1) })
	l.RegisterTimer(20*time.Millisecond, false, func() { order = append(order, 2) })
	l.Drain(time.Now().Add(time.Second))
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}
}

func TestDrainStopsAtDeadline(t *testing.T) {
	l := New()
	l.RegisterTimer(time.Hour, false, func() { t.Error("should not fire") })
	start := time.Now()
	l.Drain(start.Add(20 * time.Millisecond))
	if time.Since(start) > time.Second {
		t.Error("drain overran its deadline")
	}
}

func TestPostedTasksAndPollers(t *testing.T) {
	l := New()
	r := NewRing[int](8)
	var got []int
	l.AddPoller(func() bool {
		did := false
		for {
			v, ok := r.Pop()
			if !ok {
				return did
			}
			got = append(got, v)
			did = true
		}
	})
	r.Push(1)
	r.Push(2)
	l.Post(func() { r.Push(3) })
	l.RunPending()
	if len(got) != 3 || got[2] != 3 {
		t.Errorf("got = %v", got)
	}
}

func TestRunUntilCancelled(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	l.RegisterTimer(time.Millisecond, false, cancel)
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReset(t *testing.T) {
	l := New()
	l.RegisterTimer(time.Millisecond, true, func() { t.Error("cleared timer fired") })
	l.Post(func() { t.Error("cleared task ran") })
	l.Reset()
	if l.HasPending() {
		t.Error("reset left pending work")
	}
	l.RunPending()
}

func TestRingOrderAndCapacity(t *testing.T) {
	r := NewRing[int](3)
	if r.Cap() != 4 {
		t.Fatalf("cap = %d, want 4", r.Cap())
	}
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.Push(99) {
		t.Error("push into full ring succeeded")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop = %d, %v; want %d", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("pop from empty ring succeeded")
	}
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	const n = 10000
	r := NewRing[int](64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(i) {
				i++
			}
		}
	}()
	next := 0
	for next < n {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != next {
			t.Fatalf("got %d, want %d", v, next)
		}
		next++
	}
	wg.Wait()
}
