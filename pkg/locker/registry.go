// Package locker provides the process-wide named mutex registry and a
// redis-backed distributed lock.
package locker

import "sync"

// Registry maps a string key to one mutual-exclusion lock, created
// lazily on first use. It is an explicit object owned by the hosting
// process and injected where needed, not hidden global state.
type Registry struct {
	mu      sync.Mutex
	lockers map[string]*sync.Mutex
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{lockers: make(map[string]*sync.Mutex)}
}

func (r *Registry) locker(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lockers[name]
	if !ok {
		l = &sync.Mutex{}
		r.lockers[name] = l
	}
	return l
}

// Do runs fn while holding the named lock, waiting for it first.
// At most one execution per name is in flight at any moment.
func (r *Registry) Do(name string, fn func()) {
	l := r.locker(name)
	l.Lock()
	defer l.Unlock()
	fn()
}

// TryDo runs fn only if the named lock is free, mirroring the no-wait
// mode: callers that lose the race skip the work instead of queueing.
// Reports whether fn ran.
func (r *Registry) TryDo(name string, fn func()) bool {
	l := r.locker(name)
	if !l.TryLock() {
		return false
	}
	defer l.Unlock()
	fn()
	return true
}
