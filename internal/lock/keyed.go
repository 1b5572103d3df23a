package lock

import "sync"

// Keyed provides per-key mutual exclusion. Mutations for one contact
// serialize on its key; different contacts never block each other. Entries
// are refcounted and removed when the last holder releases, so the map does
// not grow with the contact population.
type Keyed struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyed creates an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{keys: make(map[string]*keyLock)}
}

// Lock acquires the lock for key, blocking until it is free, and returns
// the matching release function.
func (k *Keyed) Lock(key string) (unlock func()) {
	k.mu.Lock()
	kl, ok := k.keys[key]
	if !ok {
		kl = &keyLock{}
		k.keys[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()
		k.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(k.keys, key)
		}
		k.mu.Unlock()
	}
}
