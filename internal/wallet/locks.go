package wallet

import "sync"

type lockEntry struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user id and drops it once nobody holds
// or waits on it.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*lockEntry)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	e, ok := l.m[userID]
	if !ok {
		e = &lockEntry{}
		l.m[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
