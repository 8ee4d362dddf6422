package relay

import (
	"sync"
	"testing"

	"github.com/chadiek/voice-relay/internal/agentprofile"
)

func newTestProxy() *Proxy {
	return NewProxy("s1", "marcus", agentprofile.Defaults(), newFakeUpstream(), nil)
}

func TestRegistry_AcquireReturnsExisting(t *testing.T) {
	r := NewRegistry()
	p1, created := r.Acquire("s1", newTestProxy)
	if !created {
		t.Fatalf("expected creation on first acquire")
	}
	p2, created := r.Acquire("s1", newTestProxy)
	if created {
		t.Fatalf("second acquire must not create")
	}
	if p1 != p2 {
		t.Fatalf("acquire returned different proxies for one session id")
	}
	if r.Count() != 1 {
		t.Fatalf("expected one session, got %d", r.Count())
	}
}

func TestRegistry_ConcurrentAcquireSingleInstance(t *testing.T) {
	r := NewRegistry()
	const goroutines = 32

	var wg sync.WaitGroup
	proxies := make([]*Proxy, goroutines)
	creations := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			proxies[i], creations[i] = r.Acquire("s1", newTestProxy)
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < goroutines; i++ {
		if proxies[i] != proxies[0] {
			t.Fatalf("goroutine %d observed a different proxy", i)
		}
		if creations[i] {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
}

func TestRegistry_ReleaseFreesSlot(t *testing.T) {
	r := NewRegistry()
	p, _ := r.Acquire("s1", newTestProxy)
	r.Release("s1", p)
	if r.Count() != 0 {
		t.Fatalf("expected empty registry after release")
	}
	if _, created := r.Acquire("s1", newTestProxy); !created {
		t.Fatalf("expected creation after release")
	}
}

func TestRegistry_ReleaseIgnoresStaleProxy(t *testing.T) {
	r := NewRegistry()
	old, _ := r.Acquire("s1", newTestProxy)
	r.Release("s1", old)
	current, _ := r.Acquire("s1", newTestProxy)

	// Releasing with the stale proxy must not evict the new one.
	r.Release("s1", old)
	got, created := r.Acquire("s1", newTestProxy)
	if created || got != current {
		t.Fatalf("stale release evicted the active proxy")
	}
}
