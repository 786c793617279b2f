package sync

import (
	gosync "sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var mu gosync.Mutex
	active := 0
	maxActive := 0

	var wg gosync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("key-1")
			defer km.Unlock("key-1")

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	km.Lock("key-a")

	done := make(chan struct{})
	go func() {
		km.Lock("key-b")
		km.Unlock("key-b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a different key should not block")
	}

	km.Unlock("key-a")
}

func TestKeyedMutex_ReclaimsEntries(t *testing.T) {
	km := newKeyedMutex()

	km.Lock("key-1")
	km.Unlock("key-1")

	km.mu.Lock()
	entries := len(km.locks)
	km.mu.Unlock()

	if entries != 0 {
		t.Errorf("entries after unlock = %d, want 0", entries)
	}
}

func TestKeyedMutex_UnlockWithoutLockPanics(t *testing.T) {
	km := newKeyedMutex()

	defer func() {
		if recover() == nil {
			t.Error("unlock of unlocked key should panic")
		}
	}()
	km.Unlock("never-locked")
}
