// README: Keyed mutex serializing work per ride inside one process; entries are reference counted.
package ride

import (
	"sync"

	"haulbid/internal/types"
)

type keyedLock struct {
	mu    sync.Mutex
	locks map[types.ID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: map[types.ID]*refMutex{}}
}

// Lock blocks until the key is held and returns its unlock func.
func (k *keyedLock) Lock(key types.ID) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
