package shutdown

import (
	"sync"
	"testing"
)

func TestTriggerIsLevelAndFirstReasonWins(t *testing.T) {
	c := NewCoordinator(nil)
	if c.Active() {
		t.Fatalf("new coordinator active")
	}
	select {
	case <-c.Done():
		t.Fatalf("done closed before trigger")
	default:
	}

	if !c.Trigger("market_data_error") {
		t.Fatalf("first trigger returned false")
	}
	if c.Trigger("signal") {
		t.Fatalf("second trigger returned true")
	}
	if !c.Active() {
		t.Fatalf("flag not raised")
	}
	<-c.Done()
	if r, at := c.Reason(); r != "market_data_error" || at.IsZero() {
		t.Fatalf("reason = %q at %v", r, at)
	}
}

func TestConcurrentTriggers(t *testing.T) {
	c := NewCoordinator(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Trigger("race") {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsts != 1 {
		t.Fatalf("expected exactly one winning trigger, got %d", firsts)
	}
}
