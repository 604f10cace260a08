package moderation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("u1")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.size(), "idle entries are released")
}

func TestUserLocks_ReleasesIdleUsers(t *testing.T) {
	locks := newUserLocks()

	for i := 0; i < 100; i++ {
		unlock := locks.lock(fmt.Sprintf("user-%d", i))
		unlock()
	}
	assert.Zero(t, locks.size())

	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	assert.Equal(t, 2, locks.size())
	unlockA()
	assert.Equal(t, 1, locks.size())
	unlockB()
	assert.Zero(t, locks.size())
}
