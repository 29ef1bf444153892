package cache

import (
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := New[int](4, 0)
	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should not be found")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // promote a; b is now LRU
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestUpdateDoesNotEvict(t *testing.T) {
	c := New[int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10)

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("a = %d, want 10", v)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](10, time.Minute)
	now := time.Unix(1000, 0)
	c.PutAt("k", "v", now)

	if v, ok := c.GetAt("k", now.Add(30*time.Second)); !ok || v != "v" {
		t.Errorf("entry should be live at 30s: %q, %v", v, ok)
	}
	if _, ok := c.GetAt("k", now.Add(time.Minute)); ok {
		t.Error("entry should expire at the TTL boundary")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped, Len = %d", c.Len())
	}
}

func TestKeysInRecencyOrder(t *testing.T) {
	c := New[int](3, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")

	keys := c.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "c" || keys[2] != "b" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int](3, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Clear left %d entries", c.Len())
	}
	// list must be reusable after clear
	c.Put("x", 9)
	if v, ok := c.Get("x"); !ok || v != 9 {
		t.Errorf("cache unusable after Clear: %d, %v", v, ok)
	}
}
