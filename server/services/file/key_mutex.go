package file

import "sync"

// keyMutex provides a mutex per key, so that uploads and deletes touching the
// same content hash are serialized within this process while operations on
// different hashes proceed concurrently.
type keyMutex struct {
	mu      sync.Mutex
	entries map[string]*keyMutexEntry
}

type keyMutexEntry struct {
	mu      sync.Mutex
	waiters int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{
		entries: make(map[string]*keyMutexEntry),
	}
}

// Lock blocks until the mutex for key is held by the caller.
func (m *keyMutex) Lock(key string) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyMutexEntry{}
		m.entries[key] = entry
	}
	entry.waiters++
	m.mu.Unlock()
	entry.mu.Lock()
}

// Unlock releases the mutex for key. The entry is removed once no other
// goroutine is waiting on it.
func (m *keyMutex) Unlock(key string) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		panic("unlock of unlocked key mutex")
	}
	entry.waiters--
	if entry.waiters == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	entry.mu.Unlock()
}
