package cache_test

import (
	"testing"
	"time"

	"github.com/taskhubio/taskhub/internal/cache"
)

func TestCacheSetGet(t *testing.T) {
	c := cache.New(time.Minute)

	c.Set("k", 42)

	v, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := cache.New(10 * time.Millisecond)

	c.Set("k", "v")
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestCacheDeletePrefix(t *testing.T) {
	c := cache.New(time.Minute)

	c.Set("tasks:list:v1:owner=a:limit=10", 1)
	c.Set("tasks:list:v1:owner=a:limit=20", 2)
	c.Set("tasks:list:v1:owner=b:limit=10", 3)

	c.DeletePrefix("tasks:list:v1:owner=a")

	if _, ok := c.Get("tasks:list:v1:owner=a:limit=10"); ok {
		t.Fatalf("owner a page should be invalidated")
	}
	if _, ok := c.Get("tasks:list:v1:owner=a:limit=20"); ok {
		t.Fatalf("owner a page should be invalidated")
	}
	if _, ok := c.Get("tasks:list:v1:owner=b:limit=10"); !ok {
		t.Fatalf("owner b page should survive")
	}
}
