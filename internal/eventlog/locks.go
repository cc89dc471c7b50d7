package eventlog

import (
	"context"
	"errors"
	"sync"
)

// sessionLocks serializes appends per session key. Locks for idle sessions
// are removed once the last waiter releases them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the session's lock is held or ctx is done. The
// returned release function must be called exactly once.
func (s *sessionLocks) Acquire(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				s.unref(sessionID, lock)
			})
		}, nil
	case <-ctx.Done():
		s.unref(sessionID, lock)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) unref(sessionID string, lock *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock.refs--
	if lock.refs == 0 && s.locks[sessionID] == lock {
		delete(s.locks, sessionID)
	}
}

// held reports how many sessions currently have a lock entry.
func (s *sessionLocks) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
