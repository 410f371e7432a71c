package addrlock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ciphersync/internal/domain"
	"ciphersync/internal/util/addrlock"
)

func TestLocker_SerialisesSameKey(t *testing.T) {
	var l addrlock.Locker[domain.Address]
	alice := domain.NewAddress("alice", 1)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(alice)
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside)
}

func TestLocker_DistinctKeysDoNotBlock(t *testing.T) {
	var l addrlock.Locker[domain.Address]
	unlockA := l.Lock(domain.NewAddress("alice", 1))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		// Same handle, other device.
		unlock := l.Lock(domain.NewAddress("alice", 2))
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key blocked")
	}
}

func TestLocker_UnlockIdempotent(t *testing.T) {
	var l addrlock.Locker[domain.Address]
	bob := domain.NewAddress("bob", 1)
	unlock := l.Lock(bob)
	unlock()
	unlock()

	// A double unlock must not release a later holder.
	unlock = l.Lock(bob)
	acquired := make(chan struct{})
	go func() {
		u := l.Lock(bob)
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("key not released")
	}
}
