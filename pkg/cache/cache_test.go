package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetLoadsOnMissAndServesFromCache(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "value-" + key, true, nil
	}

	for i := 0; i < 3; i++ {
		val, ok, err := c.Get(context.Background(), "k", loader)
		if err != nil || !ok {
			t.Fatalf("get failed: ok=%v err=%v", ok, err)
		}
		if val.(string) != "value-k" {
			t.Fatalf("unexpected value %v", val)
		}
	}

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected 1 upstream load, got %d", got)
	}
}

func TestGetExpiryTriggersReload(t *testing.T) {
	c := New(Options{TTL: 10 * time.Millisecond}, MetricsHooks{})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "v", true, nil
	}

	if _, _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", got)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})
	c.Set("k", "v")

	if _, ok := c.Peek("k"); !ok {
		t.Fatal("expected entry before invalidate")
	}

	c.Invalidate("k")

	if _, ok := c.Peek("k"); ok {
		t.Fatal("expected entry gone after invalidate")
	}
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			return nil, false, errors.New("upstream down")
		}
		return "recovered", true, nil
	}

	if _, ok, err := c.Get(context.Background(), "k", loader); ok || err == nil {
		t.Fatalf("expected first load to fail, ok=%v err=%v", ok, err)
	}

	val, ok, err := c.Get(context.Background(), "k", loader)
	if err != nil || !ok || val.(string) != "recovered" {
		t.Fatalf("expected second load to succeed: val=%v ok=%v err=%v", val, ok, err)
	}
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})

	var loads int32
	release := make(chan struct{})
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return "v", true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), "k", loader)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected singleflight to collapse to 1 load, got %d", got)
	}
}

func TestConcurrentHitsAreReadOnly(t *testing.T) {
	c := New(Options{TTL: time.Minute}, MetricsHooks{})

	var loads int32
	loader := func(ctx context.Context, key string) (interface{}, bool, error) {
		atomic.AddInt32(&loads, 1)
		return "v", true, nil
	}

	if _, _, err := c.Get(context.Background(), "k", loader); err != nil {
		t.Fatal(err)
	}

	// Hits share the read lock; run under -race to catch entry mutation.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				val, ok, err := c.Get(context.Background(), "k", loader)
				if err != nil || !ok || val.(string) != "v" {
					t.Errorf("hit failed: val=%v ok=%v err=%v", val, ok, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Fatalf("expected hits to stay in cache, got %d loads", got)
	}
}

func TestMaxEntriesEviction(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2}, MetricsHooks{})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Peek("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, ok := c.Peek("c"); !ok {
		t.Fatal("expected newest entry present")
	}
}
