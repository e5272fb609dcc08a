package cancellation

import (
	"sync"
	"testing"
)

func TestCoordinator_ResetCancelCancelled(t *testing.T) {
	c := New()
	if c.Cancelled("p1") {
		t.Fatal("fresh project must not be cancelled")
	}
	c.Cancel("p1")
	if !c.Cancelled("p1") {
		t.Fatal("expected cancelled after Cancel")
	}
	if c.Cancelled("p2") {
		t.Fatal("flag must be scoped per project")
	}
	c.Reset("p1")
	if c.Cancelled("p1") {
		t.Fatal("expected reset to clear the flag")
	}
}

func TestCoordinator_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.Cancel("p")
			} else {
				_ = c.Cancelled("p")
			}
		}(i)
	}
	wg.Wait()
	if !c.Cancelled("p") {
		t.Fatal("expected flag set after concurrent cancels")
	}
	c.Forget("p")
	if c.Cancelled("p") {
		t.Fatal("forgotten project starts clean")
	}
}
