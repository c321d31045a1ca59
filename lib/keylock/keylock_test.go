package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	k := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("u1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLockIndependentKeysDoNotBlock(t *testing.T) {
	k := New()
	unlock := k.Lock("u1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		other := k.Lock("u2")
		other()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestLockReversedKeyOrderDoesNotDeadlock(t *testing.T) {
	k := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a", "b")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := k.Lock("b", "a")
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cross-order locking deadlocked")
	}
}

func TestLockCollapsesDuplicatesAndEmptyKeys(t *testing.T) {
	k := New()

	// would deadlock if the duplicate were locked twice
	unlock := k.Lock("u1", "u1", "", "u1")
	unlock()

	unlock = k.Lock("u1")
	unlock()
}
