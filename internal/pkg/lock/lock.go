// Package lock provides per-identity locking so that one identity
// cannot run two verification attempts at the same time. This is an
// in-process convenience only; cross-process correctness for claims
// comes from the database uniqueness constraints.
package lock

import "sync"

// identityMutex wraps a mutex with reference counting for cleanup.
type identityMutex struct {
	mu       sync.Mutex
	refCount int
}

// IdentityLock provides per-identity locking to serialize
// verification attempts from the same identity.
type IdentityLock struct {
	locks sync.Map // map[int64]*identityMutex
	pool  sync.Pool
}

// NewIdentityLock creates a new IdentityLock instance.
func NewIdentityLock() *IdentityLock {
	return &IdentityLock{
		pool: sync.Pool{
			New: func() any {
				return &identityMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given identity.
func (il *IdentityLock) getLock(identity int64) *identityMutex {
	// Try to load existing lock
	if v, ok := il.locks.Load(identity); ok {
		return v.(*identityMutex)
	}

	// Create new lock from pool
	newLock := il.pool.Get().(*identityMutex)
	newLock.refCount = 0

	// Store or load existing (handles race condition)
	actual, loaded := il.locks.LoadOrStore(identity, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		il.pool.Put(newLock)
	}
	return actual.(*identityMutex)
}

// Lock acquires the lock for an identity.
func (il *IdentityLock) Lock(identity int64) {
	lock := il.getLock(identity)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for an identity.
func (il *IdentityLock) Unlock(identity int64) {
	if v, ok := il.locks.Load(identity); ok {
		lock := v.(*identityMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (il *IdentityLock) TryLock(identity int64) bool {
	lock := il.getLock(identity)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}
