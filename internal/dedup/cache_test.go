package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestBoundedCache_AddAndHas(t *testing.T) {
	t.Parallel()

	c := NewBoundedCache(10)
	if c.Has("a") {
		t.Fatal("empty cache should not contain a")
	}
	c.Add("a")
	if !c.Has("a") {
		t.Fatal("cache should contain a after Add")
	}
	c.Add("a")
	if c.Len() != 1 {
		t.Fatalf("duplicate Add should not grow cache, got len %d", c.Len())
	}
}

func TestBoundedCache_IgnoresEmptyID(t *testing.T) {
	t.Parallel()

	c := NewBoundedCache(10)
	c.Add("")
	if c.Len() != 0 {
		t.Fatalf("empty id should not be stored, got len %d", c.Len())
	}
}

func TestBoundedCache_EvictsOldestInserted(t *testing.T) {
	t.Parallel()

	c := NewBoundedCache(1000)
	for i := 0; i < 1001; i++ {
		c.Add(fmt.Sprintf("id-%d", i))
	}
	if c.Len() != 1000 {
		t.Fatalf("expected 1000 entries, got %d", c.Len())
	}
	if c.Has("id-0") {
		t.Fatal("first inserted id should have been evicted")
	}
	for i := 1; i <= 1000; i++ {
		if !c.Has(fmt.Sprintf("id-%d", i)) {
			t.Fatalf("id-%d should still be present", i)
		}
	}
}

func TestBoundedCache_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	c := NewBoundedCache(100)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Add(fmt.Sprintf("w%d-%d", worker, j))
				c.Has(fmt.Sprintf("w%d-%d", worker, j))
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 100 {
		t.Fatalf("cache should stay at capacity, got %d", c.Len())
	}
}
