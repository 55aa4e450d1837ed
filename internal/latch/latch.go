package latch

import "sync"

// Latch is a process-wide set of "already handled" markers. A marker is
// checked and set in one step so that two watchers racing on the same key
// converge on a single winner.
type Latch struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func New() *Latch {
	return &Latch{seen: make(map[string]struct{})}
}

// TryAcquire sets key and reports whether the caller is the first to do so.
func (l *Latch) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

func (l *Latch) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key]
	return ok
}

// Release clears key so a later tick may retry. Only used when the guarded
// effect never reached the store.
func (l *Latch) Release(key string) {
	l.mu.Lock()
	delete(l.seen, key)
	l.mu.Unlock()
}

// Key joins a scope and an id, e.g. Key("expire", alertID).
func Key(scope, id string) string { return scope + ":" + id }
