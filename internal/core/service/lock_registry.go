package service

import (
	"sort"
	"sync"
	"time"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

type lockKey struct {
	checkID       string
	compartmentID string
}

// LockRegistry tracks which user holds the exclusive edit right to each
// compartment of a check. State lives only in memory: a restart clears every
// lock. All methods are safe for concurrent use.
type LockRegistry struct {
	mu    sync.RWMutex
	locks map[lockKey]domain.CompartmentLock
	now   func() time.Time
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		locks: make(map[lockKey]domain.CompartmentLock),
		now:   time.Now,
	}
}

// Acquire installs the lock for userID unless another user holds it.
// Re-acquiring a lock the user already holds succeeds without change.
func (r *LockRegistry) Acquire(checkID, compartmentID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lockKey{checkID, compartmentID}
	if existing, ok := r.locks[key]; ok {
		return existing.UserID == userID
	}
	r.locks[key] = r.newLock(key, userID)
	return true
}

// Release removes the lock only if userID currently holds it.
func (r *LockRegistry) Release(checkID, compartmentID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lockKey{checkID, compartmentID}
	existing, ok := r.locks[key]
	if !ok || existing.UserID != userID {
		return false
	}
	delete(r.locks, key)
	return true
}

// TakeOver gives the lock to newUserID regardless of the current holder and
// returns the previous holder, if there was one.
func (r *LockRegistry) TakeOver(checkID, compartmentID, newUserID string) (previous string, hadHolder bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lockKey{checkID, compartmentID}
	if existing, ok := r.locks[key]; ok {
		previous, hadHolder = existing.UserID, true
	}
	r.locks[key] = r.newLock(key, newUserID)
	return previous, hadHolder
}

// Holder returns the current lock on a compartment.
func (r *LockRegistry) Holder(checkID, compartmentID string) (domain.CompartmentLock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lock, ok := r.locks[lockKey{checkID, compartmentID}]
	return lock, ok
}

// LocksForCheck returns a snapshot of compartment id to holder.
func (r *LockRegistry) LocksForCheck(checkID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	for key, lock := range r.locks {
		if key.checkID == checkID {
			out[key.compartmentID] = lock.UserID
		}
	}
	return out
}

// ReleaseAllForUser drops every lock held by userID across all checks and
// returns the removed locks sorted by check and compartment.
func (r *LockRegistry) ReleaseAllForUser(userID string) []domain.CompartmentLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []domain.CompartmentLock
	for key, lock := range r.locks {
		if lock.UserID == userID {
			released = append(released, lock)
			delete(r.locks, key)
		}
	}
	sortLocks(released)
	return released
}

// ClearForCheck drops every lock of a check and returns the removed locks.
func (r *LockRegistry) ClearForCheck(checkID string) []domain.CompartmentLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleared []domain.CompartmentLock
	for key, lock := range r.locks {
		if key.checkID == checkID {
			cleared = append(cleared, lock)
			delete(r.locks, key)
		}
	}
	sortLocks(cleared)
	return cleared
}

func (r *LockRegistry) newLock(key lockKey, userID string) domain.CompartmentLock {
	return domain.CompartmentLock{
		CheckID:       key.checkID,
		CompartmentID: key.compartmentID,
		UserID:        userID,
		AcquiredAt:    r.now(),
	}
}

func sortLocks(locks []domain.CompartmentLock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].CheckID != locks[j].CheckID {
			return locks[i].CheckID < locks[j].CheckID
		}
		return locks[i].CompartmentID < locks[j].CompartmentID
	})
}
