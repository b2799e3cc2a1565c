package agent

import (
	"strings"
	"sync"
)

// sessionLock serializes turns for one session. refs tracks waiters so the
// entry can be removed once nobody holds or wants the lock.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock is held and returns the release func.
func (l *sessionLocks) acquire(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}

	l.mu.Lock()
	lock := l.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}
