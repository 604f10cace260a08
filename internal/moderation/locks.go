package moderation

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

type userLock struct {
	mu   sync.Mutex
	refs int
}

// userLocks serializes decisions per user while leaving different users
// fully parallel. An entry lives only while someone holds or waits on it.
type userLocks struct {
	m *xsync.MapOf[string, *userLock]
}

func newUserLocks() *userLocks {
	return &userLocks{m: xsync.NewMapOf[string, *userLock]()}
}

func (l *userLocks) lock(userID string) (unlock func()) {
	entry, _ := l.m.Compute(userID, func(old *userLock, loaded bool) (*userLock, bool) {
		if !loaded {
			old = &userLock{}
		}
		old.refs++
		return old, false
	})
	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.m.Compute(userID, func(old *userLock, loaded bool) (*userLock, bool) {
			if !loaded {
				return nil, true
			}
			old.refs--
			return old, old.refs == 0
		})
	}
}

// size reports how many users currently have an entry.
func (l *userLocks) size() int {
	return l.m.Size()
}
