// Package userlock serializes pipeline stages per user. All stages that
// rewrite a user's timeline take the user's lock first, so concurrent events
// for the same user are processed one at a time while different users
// proceed in parallel.
package userlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Registry hands out one mutex per user id. Entries are reference counted
// and removed once the last holder releases, keeping the map bounded by the
// number of users currently being processed rather than ever seen.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Lock acquires the lock for userID, blocking until it is available.
func (r *Registry) Lock(userID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{}
		r.entries[userID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for userID and drops the entry when no other
// goroutine is waiting on it.
func (r *Registry) Unlock(userID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		panic("userlock: unlock of unheld lock for " + userID)
	}
	e.refs--
	if e.refs == 0 {
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	e.mu.Unlock()
}

// Size returns the number of users with live entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
