package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestAdmitDeniesAtLimitAndRecoversAfterWindow(t *testing.T) {
	t.Parallel()

	current := time.Unix(1000, 0)
	l := New(2, 1000*time.Millisecond, 16)
	l.SetClock(func() time.Time { return current })

	results := []bool{l.Admit("u1"), l.Admit("u1"), l.Admit("u1")}
	want := []bool{true, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("admit sequence = %v, want %v", results, want)
		}
	}

	current = current.Add(1100 * time.Millisecond)
	if !l.Admit("u1") {
		t.Fatalf("expected admission after window elapsed")
	}
}

func TestDeniedCallsAreNotRecorded(t *testing.T) {
	t.Parallel()

	current := time.Unix(1000, 0)
	l := New(1, time.Minute, 16)
	l.SetClock(func() time.Time { return current })

	l.Admit("u1")
	for i := 0; i < 5; i++ {
		l.Admit("u1")
	}
	if got := l.Status("u1").Used; got != 1 {
		t.Fatalf("used = %d, want 1 (denials must not count)", got)
	}
}

func TestStatusDerivation(t *testing.T) {
	t.Parallel()

	current := time.Unix(2000, 0)
	l := New(3, time.Minute, 16)
	l.SetClock(func() time.Time { return current })

	l.Admit("u1")
	current = current.Add(10 * time.Second)
	l.Admit("u1")

	st := l.Status("u1")
	if st.Used != 2 || st.Limit != 3 || st.Remaining != 1 {
		t.Fatalf("status = %+v", st)
	}
	wantReset := time.Unix(2000, 0).Add(time.Minute)
	if !st.ResetAt.Equal(wantReset) {
		t.Fatalf("reset_at = %v, want %v", st.ResetAt, wantReset)
	}
	if l.Remaining("u1") != 1 {
		t.Fatalf("remaining = %d, want 1", l.Remaining("u1"))
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(1, time.Minute, 16)
	if !l.Admit("a") {
		t.Fatalf("first caller should be admitted")
	}
	if !l.Admit("b") {
		t.Fatalf("second caller has its own budget")
	}
	if l.Admit("a") {
		t.Fatalf("first caller is over budget")
	}
}

func TestStatusReadsNeverMutateTracking(t *testing.T) {
	t.Parallel()

	l := New(5, time.Minute, 2)
	l.Admit("a")
	l.Admit("b")

	// Probing unknown ids must not allocate entries.
	for i := 0; i < 20; i++ {
		if st := l.Status(fmt.Sprintf("scan-%d", i)); st.Used != 0 || st.Remaining != 5 {
			t.Fatalf("unknown id status = %+v", st)
		}
	}
	if got := l.TrackedIdentifiers(); got != 2 {
		t.Fatalf("tracked identifiers = %d, want 2 after status probes", got)
	}
	if l.Status("a").Used != 1 || l.Status("b").Used != 1 {
		t.Fatalf("live windows disturbed by status probes")
	}

	// Reading a tracked id must not bump it: "a" is still the coldest
	// entry and the one evicted when a new caller arrives.
	_ = l.Status("a")
	l.Admit("c")
	if l.Status("a").Used != 0 {
		t.Fatalf("expected a to be evicted as coldest despite the status read")
	}
	if l.Status("b").Used != 1 {
		t.Fatalf("b should survive eviction")
	}
}

func TestLRUEvictionBoundsTrackedIdentifiers(t *testing.T) {
	t.Parallel()

	l := New(5, time.Minute, 3)
	for i := 0; i < 10; i++ {
		l.Admit(fmt.Sprintf("caller-%d", i))
	}
	if got := l.TrackedIdentifiers(); got != 3 {
		t.Fatalf("tracked identifiers = %d, want 3", got)
	}

	// The most recent identifiers survive; an evicted one starts fresh.
	if l.Status("caller-9").Used != 1 {
		t.Fatalf("recent identifier lost its window")
	}
	if l.Status("caller-0").Used != 0 {
		t.Fatalf("evicted identifier should have an empty window")
	}
}
