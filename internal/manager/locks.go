package manager

import "sync"

// nameLocks hands out one mutex per prompt name, so at most one compilation
// of a given name runs at a time while different names compile freely in
// parallel. Locks are reference counted and reclaimed when the last holder
// releases, which bounds the table by the number of in-flight compilations.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

// acquire returns the lock for name and pins it. The caller must lock the
// returned mutex and eventually call release.
func (nl *nameLocks) acquire(name string) *nameLock {
	nl.mu.Lock()
	defer nl.mu.Unlock()

	lock, ok := nl.locks[name]
	if !ok {
		lock = &nameLock{}
		nl.locks[name] = lock
	}
	lock.refs++
	return lock
}

// release unpins the lock for name, deleting it once nobody holds it.
func (nl *nameLocks) release(name string, lock *nameLock) {
	nl.mu.Lock()
	defer nl.mu.Unlock()

	lock.refs--
	if lock.refs <= 0 {
		delete(nl.locks, name)
	}
}
