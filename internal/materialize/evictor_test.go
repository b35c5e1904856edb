package materialize

import (
	"testing"
	"time"
)

func commitHandle(idx *CacheIndex, fp Fingerprint, size int64, runtime time.Duration, accessCount uint64) *Handle {
	h := NewHandle(fp, string(fp)+"_table", size, runtime)
	for i := uint64(0); i < accessCount; i++ {
		h.touch()
	}
	h.markCommitted()
	idx.Insert(fp, h)
	return h
}

func TestEvictorSelectVictimsOrdersByRuntime(t *testing.T) {
	idx := NewCacheIndex(4, noopHook)
	commitHandle(idx, "A", 200, 10*time.Millisecond, 0)
	commitHandle(idx, "B", 200, 5*time.Millisecond, 0)
	commitHandle(idx, "C", 200, 20*time.Millisecond, 0)

	ev := NewEvictor(idx)
	victims := ev.SelectVictims(100)
	if len(victims) != 1 || victims[0] != "B" {
		t.Fatalf("victims = %v, want [B]", victims)
	}
}

func TestEvictorSkipsUncommittedAndPinned(t *testing.T) {
	idx := NewCacheIndex(4, noopHook)

	uncommitted := NewHandle("U", "u_table", 200, time.Millisecond)
	idx.Insert("U", uncommitted)

	pinned := commitHandle(idx, "P", 200, time.Millisecond, 0)
	pinned.grab()

	commitHandle(idx, "E", 200, time.Millisecond, 0)

	ev := NewEvictor(idx)
	victims := ev.SelectVictims(1000)
	if len(victims) != 1 || victims[0] != "E" {
		t.Fatalf("victims = %v, want [E] (uncommitted and pinned must be excluded)", victims)
	}
}

func TestEvictorTieBreakOnAccessCount(t *testing.T) {
	idx := NewCacheIndex(4, noopHook)
	commitHandle(idx, "X", 200, 5*time.Millisecond, 3)
	commitHandle(idx, "Y", 200, 5*time.Millisecond, 1)

	ev := NewEvictor(idx)
	victims := ev.SelectVictims(1)
	if len(victims) != 1 || victims[0] != "Y" {
		t.Fatalf("victims = %v, want [Y] (lower accessCount evicts first)", victims)
	}
}

func TestEvictorNoDeficitSelectsNothing(t *testing.T) {
	idx := NewCacheIndex(4, noopHook)
	commitHandle(idx, "A", 200, time.Millisecond, 0)

	ev := NewEvictor(idx)
	if victims := ev.SelectVictims(0); victims != nil {
		t.Fatalf("victims = %v, want nil for zero deficit", victims)
	}
	if victims := ev.SelectVictims(-5); victims != nil {
		t.Fatalf("victims = %v, want nil for negative deficit", victims)
	}
}
