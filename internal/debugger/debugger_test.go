package debugger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

func TestToggle_SameLineRemoves(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "onInit", Line: 1})
	before := d.Len()

	if !d.Toggle(Breakpoint{Snippet: "onNoteOn", Line: 5}) {
		t.Fatal("first toggle should add")
	}
	if d.Len() != before+1 {
		t.Fatalf("len = %d, want %d", d.Len(), before+1)
	}
	if d.Toggle(Breakpoint{Snippet: "onNoteOn", Line: 5, Column: 9}) {
		t.Fatal("second toggle should remove")
	}
	if d.Len() != before {
		t.Errorf("len = %d, want %d", d.Len(), before)
	}
}

func TestEquals_DifferentLines(t *testing.T) {
	a := Breakpoint{Snippet: "onNoteOn", Line: 5}
	b := Breakpoint{Snippet: "onNoteOn", Line: 6}
	c := Breakpoint{Snippet: "onNoteOff", Line: 5}
	if a.Equals(b) || a.Equals(c) {
		t.Error("breakpoints on different lines or snippets must differ")
	}
	if !a.Equals(Breakpoint{Snippet: "onNoteOn", Line: 5, CharIndex: 40}) {
		t.Error("same snippet and line must be equal")
	}
}

func TestList_Sorted(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "b", Line: 2})
	d.Add(Breakpoint{Snippet: "a", Line: 9})
	d.Add(Breakpoint{Snippet: "b", Line: 1})
	got := d.List()
	want := []string{"a:9", "b:1", "b:2"}
	for i, w := range want {
		if got[i].String() != w {
			t.Errorf("list[%d] = %s, want %s", i, got[i], w)
		}
	}
}

func TestHit_ListenerResumesSynchronously(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "onNoteOn", Line: 3})
	var hits []int
	d.AddListener(ListenerFunc(func(index int) {
		hits = append(hits, index)
		if d.State() != Paused {
			t.Errorf("state = %v, want paused", d.State())
		}
		d.Continue()
	}))

	locals := map[string]value.Value{"x": value.Int(4)}
	if err := d.Hit(context.Background(), "onNoteOn", 3, locals); err != nil {
		t.Fatalf("Hit: %v", err)
	}
	if len(hits) != 1 || hits[0] != 0 {
		t.Errorf("hits = %v", hits)
	}
	bp, _ := d.Lookup("onNoteOn", 3)
	if bp.HitCount != 1 || bp.LocalScope["x"].ToInt() != 4 {
		t.Errorf("bp = %+v", bp)
	}
	if d.State() != Running {
		t.Errorf("state = %v, want running", d.State())
	}
}

func TestHit_Abort(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "s", Line: 1})
	remove := d.AddListener(ListenerFunc(func(int) { d.Abort() }))
	defer remove()
	err := d.Hit(context.Background(), "s", 1, nil)
	if !errors.Is(err, core.ErrExecutionTerminated) {
		t.Errorf("err = %v, want ErrExecutionTerminated", err)
	}
}

func TestHit_ResumeFromAnotherGoroutine(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "s", Line: 1})
	go func() {
		for d.State() != Paused {
			time.Sleep(time.Millisecond)
		}
		d.Continue()
	}()
	if err := d.Hit(context.Background(), "s", 1, nil); err != nil {
		t.Fatalf("Hit: %v", err)
	}
}

func TestHit_StaleContinueDoesNotSkip(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "s", Line: 1})
	d.Continue()

	done := make(chan error, 1)
	go func() { done <- d.Hit(context.Background(), "s", 1, nil) }()
	select {
	case err := <-done:
		t.Fatalf("hit returned without suspending: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	if d.State() != Paused {
		t.Fatalf("state = %v, want paused", d.State())
	}
	d.Continue()
	if err := <-done; err != nil {
		t.Errorf("Hit: %v", err)
	}
}

func TestHit_PendingAbortApplies(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "s", Line: 1})
	d.Abort()
	if err := d.Hit(context.Background(), "s", 1, nil); !errors.Is(err, core.ErrExecutionTerminated) {
		t.Errorf("err = %v, want ErrExecutionTerminated", err)
	}
}

func TestToggle_Concurrent(t *testing.T) {
	d := New()
	bp := Breakpoint{Snippet: "s", Line: 3}
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Toggle(bp)
		}()
	}
	wg.Wait()
	// An even number of toggles leaves nothing set.
	if n := d.Len(); n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
	if len(d.List()) != d.Len() {
		t.Errorf("List has %d entries, Len = %d", len(d.List()), d.Len())
	}
}

func TestHit_ContextCancel(t *testing.T) {
	d := New()
	d.Add(Breakpoint{Snippet: "s", Line: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Hit(ctx, "s", 1, nil)
	if !errors.Is(err, core.ErrExecutionTerminated) {
		t.Errorf("err = %v", err)
	}
}

func TestLookup_NoBreakpoints(t *testing.T) {
	var d *Debugger
	if _, ok := d.Lookup("s", 1); ok {
		t.Error("nil debugger should never match")
	}
}
