package syncutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "0xabc")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxInside)
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "key")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "key"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestKeyedMutex_Reusable(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		unlock, err := m.Lock(ctx, "key")
		if err != nil {
			t.Fatalf("lock %d failed: %v", i, err)
		}
		unlock()
	}
}
