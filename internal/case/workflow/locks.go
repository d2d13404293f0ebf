package workflow

import (
	"sync"

	"github.com/resolveit/platform/internal/shared/types"
)

// caseLocks serializes commit and announcement per case, so realtime
// clients and the event stream see changes in commit order.
type caseLocks struct {
	mu    sync.Mutex
	locks map[types.ID]*caseLock
}

type caseLock struct {
	mu   sync.Mutex
	refs int
}

func newCaseLocks() *caseLocks {
	return &caseLocks{locks: make(map[types.ID]*caseLock)}
}

// lock blocks until caseID is free and returns the matching unlock.
// Entries are dropped once no writer holds or waits for them.
func (l *caseLocks) lock(caseID types.ID) func() {
	l.mu.Lock()
	cl, ok := l.locks[caseID]
	if !ok {
		cl = &caseLock{}
		l.locks[caseID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()

		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, caseID)
		}
		l.mu.Unlock()
	}
}

func (l *caseLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
