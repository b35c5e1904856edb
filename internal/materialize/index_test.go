package materialize

import (
	"context"
	"testing"
	"time"
)

func noopHook(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
	return nil
}

func TestCacheIndexInsertGetGrab(t *testing.T) {
	var removed []RemovalReason
	idx := NewCacheIndex(4, func(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
		removed = append(removed, reason)
		return nil
	})

	h1 := NewHandle("fp1", "t1", 10, time.Millisecond)
	idx.Insert("fp1", h1)

	got, ok := idx.Get("fp1")
	if !ok || got != h1 {
		t.Fatalf("Get(fp1) = (%v, %v), want (h1, true)", got, ok)
	}
	if got.RefCount() != 0 {
		t.Fatalf("Get must not change refCount")
	}

	grabbed, ok := idx.Grab("fp1")
	if !ok || grabbed != h1 {
		t.Fatalf("Grab(fp1) = (%v, %v), want (h1, true)", grabbed, ok)
	}
	if grabbed.RefCount() != 1 {
		t.Fatalf("Grab must increment refCount, got %d", grabbed.RefCount())
	}

	if len(removed) != 0 {
		t.Fatalf("no removal should have fired yet, got %v", removed)
	}
}

func TestCacheIndexInsertDisplacesWithReplaced(t *testing.T) {
	var reasons []RemovalReason
	idx := NewCacheIndex(1, func(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
		reasons = append(reasons, reason)
		return nil
	})

	h1 := NewHandle("fp1", "t1", 10, time.Millisecond)
	h2 := NewHandle("fp1", "t2", 10, time.Millisecond)

	idx.Insert("fp1", h1)
	idx.Insert("fp1", h2)

	if len(reasons) != 1 || reasons[0] != ReasonReplaced {
		t.Fatalf("reasons = %v, want exactly one ReasonReplaced", reasons)
	}

	got, ok := idx.Get("fp1")
	if !ok || got != h2 {
		t.Fatalf("Get(fp1) after replace = (%v, %v), want (h2, true)", got, ok)
	}
}

func TestCacheIndexInsertReturnsDisplacedTeardown(t *testing.T) {
	torndown := 0
	idx := NewCacheIndex(1, func(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
		return func(ctx context.Context) error {
			torndown++
			return nil
		}
	})

	if td := idx.Insert("fp1", NewHandle("fp1", "t1", 10, time.Millisecond)); td != nil {
		t.Fatalf("first Insert must not produce a teardown")
	}
	td := idx.Insert("fp1", NewHandle("fp1", "t2", 10, time.Millisecond))
	if td == nil {
		t.Fatalf("displacing Insert must return the displaced entry's teardown")
	}
	if err := td(context.Background()); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if torndown != 1 {
		t.Fatalf("teardown ran %d times, want 1", torndown)
	}
}

func TestCacheIndexInvalidateReturnsRemovedCount(t *testing.T) {
	idx := NewCacheIndex(4, noopHook)

	idx.Insert("fp1", NewHandle("fp1", "t1", 10, time.Millisecond))
	idx.Insert("fp2", NewHandle("fp2", "t2", 10, time.Millisecond))

	if n, _ := idx.Invalidate([]Fingerprint{"fp1", "fp2", "fp3"}); n != 2 {
		t.Fatalf("Invalidate removed count = %d, want 2", n)
	}
	if n, _ := idx.Invalidate([]Fingerprint{"fp1"}); n != 0 {
		t.Fatalf("second invalidate of fp1 removed count = %d, want 0", n)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", idx.Len())
	}
}

func TestCacheIndexClearFiresHookAndReturnsTeardowns(t *testing.T) {
	hooked := 0
	idx := NewCacheIndex(4, func(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
		hooked++
		if reason != ReasonExplicit {
			t.Errorf("Clear fired hook with reason %v, want ReasonExplicit", reason)
		}
		return func(ctx context.Context) error { return nil }
	})

	idx.Insert("fp1", NewHandle("fp1", "t1", 10, time.Millisecond))
	idx.Insert("fp2", NewHandle("fp2", "t2", 10, time.Millisecond))

	teardowns := idx.Clear()
	if hooked != 2 {
		t.Fatalf("hook fired %d times, want 2", hooked)
	}
	if len(teardowns) != 2 {
		t.Fatalf("Clear() returned %d teardowns, want 2", len(teardowns))
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", idx.Len())
	}
}

func TestCacheIndexSharding(t *testing.T) {
	idx := NewCacheIndex(8, noopHook)
	for i := 0; i < 100; i++ {
		fp := Fingerprint(string(rune('a' + i%26)))
		idx.Insert(fp, NewHandle(fp, "t", 1, time.Millisecond))
	}
	if idx.Len() != 26 {
		t.Fatalf("Len() = %d, want 26 distinct fingerprints", idx.Len())
	}
}
