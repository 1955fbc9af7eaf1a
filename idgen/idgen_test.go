package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestPrefixed(t *testing.T) {
	for prefix, gen := range map[string]Generator{"usr_": UserID, "tsk_": TaskID, "evt_": EventID} {
		id := gen()
		rest, ok := strings.CutPrefix(id, prefix)
		if !ok {
			t.Fatalf("%q lacks %q", id, prefix)
		}
		u, err := uuid.Parse(rest)
		if err != nil || u.Version() != 7 {
			t.Fatalf("%q: version %d, err %v", id, u.Version(), err)
		}
	}
}

func TestPrefixed_Sortable(t *testing.T) {
	prev := TaskID()
	for range 50 {
		next := TaskID()
		if next <= prev {
			t.Fatalf("not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("rec")
	for _, want := range []string{"rec1", "rec2", "rec3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("x")
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := gen()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 800 {
		t.Fatalf("%d distinct ids, want 800", len(seen))
	}
}
