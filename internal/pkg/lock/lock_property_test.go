package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestSerializedAttemptsProperty checks that concurrent critical
// sections for the same identity execute as if sequential: a shared
// counter updated with read-modify-write under the lock never loses an
// update.
func TestSerializedAttemptsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		identity := rapid.Int64Range(1, 1_000_000).Draw(t, "identity")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		il := NewIdentityLock()
		counter := 0

		var wg sync.WaitGroup
		wg.Add(numOps)
		for i := 0; i < numOps; i++ {
			go func() {
				defer wg.Done()
				il.Lock(identity)
				defer il.Unlock(identity)
				counter++
			}()
		}
		wg.Wait()

		if counter != numOps {
			t.Fatalf("lost updates: expected %d, got %d", numOps, counter)
		}
	})
}

// TestIndependentIdentitiesProperty checks that locks for different
// identities do not interfere with each other.
func TestIndependentIdentitiesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numIdentities := rapid.IntRange(2, 10).Draw(t, "numIdentities")
		opsPer := rapid.IntRange(5, 20).Draw(t, "opsPer")

		il := NewIdentityLock()
		counters := make([]int, numIdentities)

		var wg sync.WaitGroup
		wg.Add(numIdentities * opsPer)
		for id := 0; id < numIdentities; id++ {
			for j := 0; j < opsPer; j++ {
				go func(id int) {
					defer wg.Done()
					il.Lock(int64(id + 1))
					defer il.Unlock(int64(id + 1))
					counters[id]++
				}(id)
			}
		}
		wg.Wait()

		for id := 0; id < numIdentities; id++ {
			if counters[id] != opsPer {
				t.Fatalf("identity %d: expected %d ops, got %d", id+1, opsPer, counters[id])
			}
		}
	})
}

// TestTryLockRejectsConcurrentAttemptProperty checks the non-blocking
// path used by the verification handler: while one attempt holds the
// lock, TryLock for the same identity fails, and the lock is available
// again once everything finishes.
func TestTryLockRejectsConcurrentAttemptProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		identity := rapid.Int64Range(1, 1_000_000).Draw(t, "identity")
		numAttempts := rapid.IntRange(5, 20).Draw(t, "numAttempts")

		il := NewIdentityLock()

		var successCount atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numAttempts)
		startCh := make(chan struct{})

		for i := 0; i < numAttempts; i++ {
			go func() {
				defer wg.Done()
				<-startCh
				if il.TryLock(identity) {
					successCount.Add(1)
					il.Unlock(identity)
				}
			}()
		}

		close(startCh)
		wg.Wait()

		if successCount.Load() < 1 {
			t.Fatalf("at least one TryLock should succeed, got %d", successCount.Load())
		}
		if !il.TryLock(identity) {
			t.Fatal("lock should be free after all attempts complete")
		}
		il.Unlock(identity)
	})
}

func TestTryLockWhileHeld(t *testing.T) {
	il := NewIdentityLock()

	il.Lock(7)
	if il.TryLock(7) {
		t.Fatal("TryLock should fail while the identity lock is held")
	}
	il.Unlock(7)

	if !il.TryLock(7) {
		t.Fatal("TryLock should succeed after release")
	}
	il.Unlock(7)
}
