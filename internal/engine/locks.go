package engine

import "sync"

// Locks is a keyed mutex. Entries are dropped once nobody holds or waits on them.
type Locks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{m: map[string]*lockEntry{}}
}

// Lock blocks until key is free and returns its unlock func.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*lockEntry{}
	}
	ent, ok := l.m[key]
	if !ok {
		ent = &lockEntry{}
		l.m[key] = ent
	}
	ent.refs++
	l.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		l.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func moKey(id string) string { return "mo:" + id }
func woKey(id string) string { return "wo:" + id }
